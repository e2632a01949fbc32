// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

const dropLogEvery = 100

// MemoryBus is an in-memory pub/sub. It is not durable: Publish waits for
// slow subscribers while ctx allows, TryPublish drops for them instead.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	buffer int
	drops  atomic.Uint64
}

// NewMemoryBus returns a bus whose subscribers buffer up to buffer messages;
// buffer <= 0 selects DefaultBuffer.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{subs: make(map[string][]*memSub), buffer: buffer}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// topicKind collapses "exec.42" to "exec" for metric labels.
func topicKind(topic string) string {
	if kind, _, ok := strings.Cut(topic, "."); ok {
		return kind
	}
	return topic
}

func (b *MemoryBus) snapshot(topic string) []*memSub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*memSub(nil), b.subs[topic]...)
}

// Publish delivers msg to every subscriber of topic, waiting for buffer
// space until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	for _, s := range b.snapshot(topic) {
		if err := s.send(ctx, msg); err != nil {
			if errors.Is(err, errSubClosed) {
				continue
			}
			b.dropped(topic, publishDropReason(err))
			return fmt.Errorf("publish topic %q: %w", topic, err)
		}
	}
	return nil
}

// TryPublish delivers msg to every subscriber with buffer space and
// returns how many subscribers missed it.
func (b *MemoryBus) TryPublish(topic string, msg Message) int {
	missed := 0
	for _, s := range b.snapshot(topic) {
		if !s.trySend(msg) {
			missed++
			b.dropped(topic, "full")
		}
	}
	return missed
}

func (b *MemoryBus) dropped(topic, reason string) {
	metrics.IncBusDrop(topicKind(topic), reason)
	if count := b.drops.Add(1); count%dropLogEvery == 0 {
		log.L().Warn().
			Str("topic", topic).
			Str(log.FieldReason, reason).
			Uint64("dropped", count).
			Msg("memory bus dropped messages")
	}
}

// Subscribe registers a subscriber for topic. It is closed automatically
// when ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	if ctx == nil {
		return nil, fmt.Errorf("subscribe context is nil")
	}
	s := &memSub{b: b, topic: topic, ch: make(chan Message, b.buffer), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { _ = s.Close() })
		s.mu.Lock()
		s.stop = stop
		s.mu.Unlock()
	}
	return s, nil
}

// Subscribers reports the number of subscribers of topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

var errSubClosed = errors.New("subscriber closed")

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	stop  func() bool
	done  chan struct{}
	once  sync.Once

	// mu guards ch against a send racing Close.
	mu     sync.RWMutex
	closed bool
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) send(ctx context.Context, msg Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSubClosed
	}
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errSubClosed
	}
}

func (s *memSub) trySend(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	s.b.mu.Unlock()

	s.once.Do(func() {
		// Release blocked senders before taking the write lock.
		close(s.done)
		s.mu.Lock()
		if s.stop != nil {
			s.stop()
		}
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
