// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"github.com/ManuGH/ffav/internal/metrics"
)

// Event names a player notification.
type Event string

const (
	EventPlayWhenReadyChange    Event = "playWhenReadyChange"
	EventDurationChange         Event = "durationChange"
	EventCurrentTimeChange      Event = "currentTimeChange"
	EventPlayableDurationChange Event = "playableDurationChange"
	EventErrorChange            Event = "errorChange"
)

// Reason explains a playWhenReady change.
type Reason int

const (
	ReasonUserRequest Reason = iota
	ReasonAudioInterruptResume
	ReasonAudioInterruptPause
	ReasonAudioInterruptStop
	ReasonOldDeviceUnavailable
	ReasonPlaybackEnded
)

func (r Reason) String() string {
	switch r {
	case ReasonUserRequest:
		return "USER_REQUEST"
	case ReasonAudioInterruptResume:
		return "AUDIO_INTERRUPT_RESUME"
	case ReasonAudioInterruptPause:
		return "AUDIO_INTERRUPT_PAUSE"
	case ReasonAudioInterruptStop:
		return "AUDIO_INTERRUPT_STOP"
	case ReasonOldDeviceUnavailable:
		return "OLD_DEVICE_UNAVAILABLE"
	case ReasonPlaybackEnded:
		return "PLAYBACK_ENDED"
	default:
		return "UNKNOWN"
	}
}

// PlayWhenReadyChange is the payload of EventPlayWhenReadyChange.
type PlayWhenReadyChange struct {
	PlayWhenReady bool
	Reason        Reason
}

type notification struct {
	event Event
	value any
}

// OnPlayWhenReadyChange replaces the subscriber of EventPlayWhenReadyChange.
func (p *Player) OnPlayWhenReadyChange(fn func(PlayWhenReadyChange)) {
	p.subscribe(EventPlayWhenReadyChange, func(v any) { fn(v.(PlayWhenReadyChange)) })
}

// OnDurationChange replaces the subscriber of EventDurationChange.
func (p *Player) OnDurationChange(fn func(ms int64)) {
	p.subscribe(EventDurationChange, func(v any) { fn(v.(int64)) })
}

// OnCurrentTimeChange replaces the subscriber of EventCurrentTimeChange.
func (p *Player) OnCurrentTimeChange(fn func(ms int64)) {
	p.subscribe(EventCurrentTimeChange, func(v any) { fn(v.(int64)) })
}

// OnPlayableDurationChange replaces the subscriber of EventPlayableDurationChange.
func (p *Player) OnPlayableDurationChange(fn func(ms int64)) {
	p.subscribe(EventPlayableDurationChange, func(v any) { fn(v.(int64)) })
}

// OnErrorChange replaces the subscriber of EventErrorChange. A nil error
// means the error was cleared.
func (p *Player) OnErrorChange(fn func(err error)) {
	p.subscribe(EventErrorChange, func(v any) {
		err, _ := v.(error)
		fn(err)
	})
}

// Off removes the subscriber of event, if any.
func (p *Player) Off(event Event) {
	p.subMu.Lock()
	delete(p.subs, event)
	p.subMu.Unlock()
}

func (p *Player) subscribe(event Event, fn func(any)) {
	p.subMu.Lock()
	p.subs[event] = fn
	p.subMu.Unlock()
}

// emit queues a notification; callers hold p.mu so the queue order matches
// the order of state changes.
func (p *Player) emit(event Event, value any) {
	p.events.push(notification{event: event, value: value})
}

func (p *Player) dispatch() {
	defer close(p.dispatchDone)
	for {
		n, ok := p.events.pop()
		if !ok {
			return
		}
		p.subMu.RLock()
		fn := p.subs[n.event]
		p.subMu.RUnlock()
		metrics.IncPlayerEvent(string(n.event), fn != nil)
		if fn != nil {
			fn(n.value)
		}
	}
}
