// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package abort provides a one-shot cancellation primitive: a Controller
// triggers, its Signal observes.
package abort

import (
	"errors"
	"sync"
)

// ErrAborted is the reason recorded when Abort is called with a nil error.
var ErrAborted = errors.New("operation aborted")

// Listener is invoked once with the frozen abort reason.
type Listener func(reason error)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Signal reports whether its Controller has aborted. The zero value is not usable;
// obtain one from NewController.
type Signal struct {
	mu        sync.Mutex
	aborted   bool
	reason    error
	done      chan struct{}
	nextID    uint64
	listeners []listenerEntry
}

// Controller is the exclusive owner of one Signal.
type Controller struct {
	signal *Signal
}

// NewController returns a controller paired with a fresh signal.
func NewController() *Controller {
	return &Controller{signal: &Signal{done: make(chan struct{})}}
}

// Signal returns the signal owned by c.
func (c *Controller) Signal() *Signal {
	return c.signal
}

// Abort moves the signal to the aborted state and notifies every listener
// once, synchronously, in registration order. Subsequent calls are no-ops.
func (c *Controller) Abort(reason error) {
	s := c.signal
	if reason == nil {
		reason = ErrAborted
	}

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.reason = reason
	pending := s.listeners
	s.listeners = nil
	close(s.done)
	s.mu.Unlock()

	for _, l := range pending {
		l.fn(reason)
	}
}

// Aborted reports whether the signal has been aborted.
func (s *Signal) Aborted() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Reason returns the frozen abort reason, or nil while the signal is active.
func (s *Signal) Reason() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel closed when the signal aborts.
func (s *Signal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// AddEventListener registers fn for the abort transition. If the signal has
// already aborted, fn runs immediately on the calling goroutine.
// The returned func unregisters a listener that has not fired yet.
func (s *Signal) AddEventListener(fn Listener) (remove func()) {
	if s == nil || fn == nil {
		return func() {}
	}

	s.mu.Lock()
	if s.aborted {
		reason := s.reason
		s.mu.Unlock()
		fn(reason)
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.removeListener(id) })
	}
}

func (s *Signal) removeListener(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
