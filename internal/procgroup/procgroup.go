// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts ffmpeg/ffprobe children in their own process group
// so a cancellation reaches filter helpers and protocol subprocesses too.
package procgroup

import (
	"errors"
	"os"
	"syscall"
)

// ErrKillFailed is returned when a process group survived SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")

func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone)
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case isGone(err):
		return "esrch"
	default:
		return "error"
	}
}
