// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

// OpenRequest describes the source and the initial output settings of one
// engine session.
type OpenRequest struct {
	URL     string
	StartMs int64
	Volume  float64
	Speed   float64
}

// Engine acquires media sessions. Open must not block on I/O: acquisition
// continues in the background and is reported through the Sink.
type Engine interface {
	Open(req OpenRequest, sink Sink) (Session, error)
}

// Session is one opened source. Methods other than Close must return
// promptly; Close releases every resource and may wait for them.
type Session interface {
	Play()
	Pause()
	SeekTo(ms int64)
	SetVolume(v float64)
	SetSpeed(s float64)
	Close()
}

// Sink receives engine reports for one session. It is safe to call from any
// goroutine, including from inside Session methods.
type Sink interface {
	Ready(durationMs int64)
	Position(ms int64)
	Buffered(ms int64)
	Ended()
	Failed(err error)
}

// Focus arbitrates output between players. Request is called before output
// starts, Abandon when it stops.
type Focus interface {
	Request() error
	Abandon()
}

type noFocus struct{}

func (noFocus) Request() error { return nil }
func (noFocus) Abandon()       {}
