// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

// InterruptForce tells whether the focus owner already applied the change
// (forced) or leaves it to the player (shared).
type InterruptForce int

const (
	InterruptShare InterruptForce = iota
	InterruptForced
)

// InterruptHint is the action an audio interrupt asks for.
type InterruptHint int

const (
	HintNone InterruptHint = iota
	HintResume
	HintPause
	HintStop
	HintDuck
	HintUnduck
)

// Interrupt is an audio-focus event delivered by the host.
type Interrupt struct {
	Force InterruptForce
	Hint  InterruptHint
}

// DeviceChangeReason explains an output device change.
type DeviceChangeReason int

const (
	DeviceUnknown DeviceChangeReason = iota
	DeviceNewAvailable
	DeviceOldUnavailable
	DeviceOverride
)

// HandleInterrupt applies an audio-focus interrupt. A shared resume only
// restarts playback that an interrupt paused.
func (p *Player) HandleInterrupt(ev Interrupt) {
	switch ev.Hint {
	case HintPause:
		if ev.Force == InterruptForced {
			_ = p.pause(ReasonAudioInterruptPause)
		}
	case HintStop:
		if ev.Force == InterruptForced {
			_ = p.pause(ReasonAudioInterruptStop)
		}
	case HintResume:
		if ev.Force != InterruptShare {
			return
		}
		p.mu.Lock()
		resume := p.lastReason == ReasonAudioInterruptPause && !p.playWhenReady
		p.mu.Unlock()
		if resume {
			_ = p.play(ReasonAudioInterruptResume)
		}
	case HintDuck, HintUnduck:
		p.setDucked(ev.Hint == HintDuck)
	}
}

// HandleDeviceChange pauses when the current output device went away.
func (p *Player) HandleDeviceChange(reason DeviceChangeReason) {
	if reason == DeviceOldUnavailable {
		_ = p.pause(ReasonOldDeviceUnavailable)
	}
}

func (p *Player) setDucked(ducked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ducked == ducked {
		return
	}
	p.ducked = ducked
	eff := p.effectiveVolume()
	p.sessionOp(func(s Session) { s.SetVolume(eff) })
}
