// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"sync"

	"github.com/ManuGH/ffav/internal/metrics"
)

// task is the live record behind one execution id.
type task struct {
	id      int64
	refs    int
	running bool

	cancelOnce sync.Once
	cancel     chan struct{}
}

func (t *task) stop() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

func (t *task) stopped() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

// registry maps execution ids to tasks. A task is inserted by create and
// removed when its reference count drops back to zero.
type registry struct {
	mu    sync.Mutex
	tasks map[int64]*task
}

func newRegistry() *registry {
	return &registry{tasks: make(map[int64]*task)}
}

func (r *registry) create(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return ErrDuplicateID
	}
	r.tasks[id] = &task{id: id, running: true, cancel: make(chan struct{})}
	metrics.ExecActive.Inc()
	return nil
}

// retain returns the task for id with one more reference, or nil when the id
// is unknown or no longer running.
func (r *registry) retain(id int64) *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !t.running {
		return nil
	}
	t.refs++
	return t
}

func (r *registry) release(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.refs--
	if t.refs > 0 {
		return
	}
	if cur, ok := r.tasks[t.id]; ok && cur == t {
		delete(r.tasks, t.id)
		metrics.ExecActive.Dec()
	}
}

// cancel marks the task as not running and stops its process, if any.
// It reports whether a live task was found.
func (r *registry) cancel(id int64) bool {
	t := r.retain(id)
	if t == nil {
		return false
	}
	r.mu.Lock()
	t.running = false
	r.mu.Unlock()
	t.stop()
	r.release(t)
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
