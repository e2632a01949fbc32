// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import "sync"

// PrintHandler receives every diagnostic line of every execution in the process,
// tagged with its FFmpeg severity.
type PrintHandler func(level int, message string)

var (
	printMu      sync.RWMutex
	printHandler PrintHandler

	// printCallMu serializes handler invocations across executions.
	printCallMu sync.Mutex
)

// SetPrintHandler installs the process-wide diagnostic sink, replacing any
// previous handler. A nil handler clears the slot.
func SetPrintHandler(h PrintHandler) {
	printMu.Lock()
	printHandler = h
	printMu.Unlock()
}

func emitPrint(level int, message string) {
	printMu.RLock()
	h := printHandler
	printMu.RUnlock()
	if h == nil {
		return
	}
	printCallMu.Lock()
	defer printCallMu.Unlock()
	h(level, message)
}
