// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog enforces start and stall timeouts on an ffmpeg run from
// its -progress reports.
package watchdog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/ffav/internal/log"
)

var (
	// ErrStartTimeout means no meaningful progress arrived within the start timeout.
	ErrStartTimeout = errors.New("no progress before start timeout")
	// ErrStalled means progress stopped advancing for longer than the stall timeout.
	ErrStalled = errors.New("progress stalled")
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateStalled
	StateTimedOut
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateTimedOut:
		return "timed_out"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

const maxCheckInterval = time.Second

// Watchdog tracks progress heartbeats. A zero timeout disables that phase.
type Watchdog struct {
	mu sync.Mutex

	startTimeout time.Duration
	stallTimeout time.Duration

	lastOutTimeUs int64
	lastTotalSize int64
	lastHeartbeat time.Time

	state       State
	hasProgress bool

	completeOnce sync.Once
	completed    chan struct{}

	clock clock
}

// New creates a watchdog with the given timeouts.
func New(startTimeout, stallTimeout time.Duration) *Watchdog {
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		completed:    make(chan struct{}),
		clock:        realClock{},
	}
}

// Run blocks until ctx is done, the run reports progress=end, or a timeout
// fires. Only a timeout yields a non-nil error.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.mu.Unlock()

	tick := w.checkInterval()
	if tick <= 0 {
		select {
		case <-ctx.Done():
		case <-w.completed:
		}
		return nil
	}

	t := w.clock.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.completed:
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

func (w *Watchdog) checkInterval() time.Duration {
	interval := maxCheckInterval
	enabled := false
	for _, d := range []time.Duration{w.startTimeout, w.stallTimeout} {
		if d <= 0 {
			continue
		}
		enabled = true
		if q := d / 4; q < interval {
			interval = q
		}
	}
	if !enabled {
		return 0
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// Feed processes one progress report, which may hold several key=value lines.
func (w *Watchdog) Feed(report string) {
	for _, line := range strings.Split(report, "\n") {
		w.ParseLine(line)
	}
}

// ParseLine processes a single key=value line from the progress stream.
func (w *Watchdog) ParseLine(line string) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || strings.Contains(val, "=") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports out_time_ms in microseconds as well.
		us, err := strconv.ParseInt(val, 10, 64)
		if err == nil && us > w.lastOutTimeUs {
			w.lastOutTimeUs = us
			w.recordHeartbeat()
		}
	case "total_size":
		size, err := strconv.ParseInt(val, 10, 64)
		if err == nil && size > w.lastTotalSize {
			w.lastTotalSize = size
			w.recordHeartbeat()
		}
	case "progress":
		if val == "end" {
			w.state = StateCompleted
			w.completeOnce.Do(func() { close(w.completed) })
		}
	}
}

func (w *Watchdog) recordHeartbeat() {
	w.lastHeartbeat = w.clock.Now()
	if !w.hasProgress {
		w.hasProgress = true
		if w.state == StateStarting {
			w.state = StateRunning
		}
		log.L().Debug().Msg("watchdog: meaningful progress detected")
	}
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)

	switch w.state {
	case StateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = StateTimedOut
			return ErrStartTimeout
		}
	case StateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = StateStalled
			return ErrStalled
		}
	}
	return nil
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
