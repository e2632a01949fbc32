// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is the playback facade: a stateful audio player with
// transport controls, observable properties and single-subscriber change
// notifications, driving an injected Engine.
//
// Transport calls update the observable state synchronously and hand engine
// work to a per-player control goroutine, so they never block on the engine.
// Notifications are delivered in order by a per-player dispatch goroutine.
package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/metrics"
	"github.com/ManuGH/ffav/internal/telemetry"
)

var (
	ErrPlayerClosed = errors.New("player closed")
	ErrNoSource     = errors.New("player has no source url")
)

const (
	MinVolume = 0.0
	MaxVolume = 1.0
	MinSpeed  = 0.25
	MaxSpeed  = 4.0

	duckFactor = 0.2
)

// State is the coarse lifecycle state of a player.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateReady     State = "ready"
	StateError     State = "error"
	StateClosed    State = "closed"
)

// URLOptions tunes SetURL.
type URLOptions struct {
	// StartTimePosition is where playback begins once ready, in ms.
	StartTimePosition int64
}

// Config holds the initial settings of a player.
type Config struct {
	// Volume is the initial volume, clamped like SetVolume; nil means full
	// volume.
	Volume *float64
	// Speed is the initial speed, clamped like SetSpeed; nil means 1.
	Speed *float64
	Focus Focus
}

// Player is safe for concurrent use.
type Player struct {
	id     string
	engine Engine
	focus  Focus
	logger zerolog.Logger
	tracer trace.Tracer

	mu               sync.Mutex
	closed           bool
	state            State
	url              string
	startMs          int64
	openStartMs      int64
	volume           float64
	speed            float64
	ducked           bool
	playWhenReady    bool
	lastReason       Reason
	duration         int64
	currentTime      int64
	playableDuration int64
	err              error
	ended            bool
	gen              uint64

	subMu        sync.RWMutex
	subs         map[Event]func(any)
	events       *queue[notification]
	dispatchDone chan struct{}

	ops         *queue[func()]
	controlDone chan struct{}

	// owned by the control goroutine
	sess         Session
	sessGen      uint64
	span         trace.Span
	prepareStart time.Time
	focused      bool
}

// New creates an idle player on top of engine.
func New(engine Engine, cfg Config) *Player {
	id := uuid.NewString()
	p := &Player{
		id:           id,
		engine:       engine,
		focus:        cfg.Focus,
		logger:       log.WithComponent("player").With().Str(log.FieldPlayerID, id).Logger(),
		tracer:       telemetry.Tracer("github.com/ManuGH/ffav/internal/player"),
		state:        StateIdle,
		volume:       MaxVolume,
		speed:        1,
		subs:         make(map[Event]func(any)),
		events:       newQueue[notification](),
		dispatchDone: make(chan struct{}),
		ops:          newQueue[func()](),
		controlDone:  make(chan struct{}),
	}
	if p.focus == nil {
		p.focus = noFocus{}
	}
	if v := cfg.Volume; v != nil && !math.IsNaN(*v) {
		p.volume = clamp(*v, MinVolume, MaxVolume)
	}
	if v := cfg.Speed; v != nil && !math.IsNaN(*v) {
		p.speed = clamp(*v, MinSpeed, MaxSpeed)
	}
	metrics.PlayerActive.Inc()
	go p.control()
	go p.dispatch()
	return p
}

// ID identifies the player in logs and traces.
func (p *Player) ID() string { return p.id }

// SetURL replaces the source. An active session is released; a non-empty
// url is prepared again when the player was active or wants to play.
// Clearing the url drops playWhenReady.
func (p *Player) SetURL(url string, opts URLOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}

	active := p.state == StatePreparing || p.state == StateReady
	if p.state != StateIdle {
		p.closeLocked()
	}
	p.url = url
	p.startMs = max(opts.StartTimePosition, 0)
	p.ended = false
	p.state = StateIdle
	p.resetTimeline()
	p.setError(nil)
	p.logger.Debug().Str(log.FieldURL, url).Int64(log.FieldPosition, p.startMs).Msg("source changed")

	if url == "" {
		if p.playWhenReady {
			p.setPlayWhenReady(false, ReasonUserRequest)
		}
		return nil
	}
	if active || p.playWhenReady {
		p.openLocked()
	}
	return nil
}

// Prepare starts acquiring the source. It is a no-op while preparing or
// ready; after an error it retries.
func (p *Player) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.url == "" {
		return ErrNoSource
	}
	if p.state == StatePreparing || p.state == StateReady {
		return nil
	}
	p.openLocked()
	return nil
}

// Play sets playWhenReady, preparing the source first when needed.
func (p *Player) Play() error {
	return p.play(ReasonUserRequest)
}

// Pause clears playWhenReady.
func (p *Player) Pause() error {
	return p.pause(ReasonUserRequest)
}

// Stop releases the engine session, resets the timeline and clears the
// error. The url is kept.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.state != StateIdle {
		p.closeLocked()
	}
	p.state = StateIdle
	p.ended = false
	p.startMs = 0
	if p.playWhenReady {
		p.setPlayWhenReady(false, ReasonUserRequest)
	}
	p.resetTimeline()
	p.setError(nil)
	return nil
}

// SeekTo moves playback to ms, clamped to [0, duration]. Before the source is
// ready the position becomes the start position.
func (p *Player) SeekTo(ms int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.err != nil {
		return nil
	}
	ms = max(ms, 0)
	if p.state != StateReady {
		p.startMs = ms
		return nil
	}
	if p.duration > 0 {
		ms = min(ms, p.duration)
	}
	p.ended = false
	p.sessionOp(func(s Session) { s.SeekTo(ms) })
	return nil
}

// SetVolume stores v clamped to [0,1]; NaN is ignored.
func (p *Player) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	v = clamp(v, MinVolume, MaxVolume)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.volume = v
	eff := p.effectiveVolume()
	p.sessionOp(func(s Session) { s.SetVolume(eff) })
}

// SetSpeed stores s clamped to [0.25,4]; NaN is ignored.
func (p *Player) SetSpeed(s float64) {
	if math.IsNaN(s) {
		return
	}
	s = clamp(s, MinSpeed, MaxSpeed)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.speed = s
	p.sessionOp(func(sess Session) { sess.SetSpeed(s) })
}

// Close releases the engine session and stops both player goroutines. It
// waits for the session to be released; queued notifications are still
// delivered.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.gen++
	p.state = StateClosed
	p.mu.Unlock()

	p.ops.push(p.closeSession)
	p.ops.close()
	<-p.controlDone
	p.events.close()
	metrics.PlayerActive.Dec()
	p.logger.Debug().Msg("player closed")
	return nil
}

func (p *Player) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *Player) PlayWhenReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playWhenReady
}

// Duration is zero until the source is ready.
func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *Player) CurrentTime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}

func (p *Player) PlayableDuration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playableDuration
}

func (p *Player) Error() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) play(reason Reason) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	p.setPlayWhenReady(true, reason)
	if p.err != nil {
		return nil
	}
	switch p.state {
	case StateIdle:
		if p.url != "" {
			p.openLocked()
		}
	case StateReady:
		if p.ended {
			p.ended = false
			p.sessionOp(func(s Session) { s.SeekTo(0) })
		}
		p.sessionOp(func(Session) { p.startOutput() })
	}
	return nil
}

func (p *Player) pause(reason Reason) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	p.setPlayWhenReady(false, reason)
	if p.err == nil && p.state == StateReady {
		p.sessionOp(func(Session) { p.stopOutput() })
	}
	return nil
}

// The helpers below run with p.mu held.

func (p *Player) setPlayWhenReady(v bool, reason Reason) {
	p.playWhenReady = v
	p.lastReason = reason
	p.emit(EventPlayWhenReadyChange, PlayWhenReadyChange{PlayWhenReady: v, Reason: reason})
}

func (p *Player) setDuration(ms int64) {
	if ms == p.duration {
		return
	}
	p.duration = ms
	p.emit(EventDurationChange, ms)
}

func (p *Player) setCurrentTime(ms int64) {
	if ms == p.currentTime {
		return
	}
	p.currentTime = ms
	p.emit(EventCurrentTimeChange, ms)
}

func (p *Player) setPlayableDuration(ms int64) {
	if ms == p.playableDuration {
		return
	}
	p.playableDuration = ms
	p.emit(EventPlayableDurationChange, ms)
}

func (p *Player) setError(err error) {
	if err == nil && p.err == nil {
		return
	}
	p.err = err
	p.emit(EventErrorChange, err)
}

func (p *Player) resetTimeline() {
	p.setCurrentTime(0)
	p.setDuration(0)
	p.setPlayableDuration(0)
}

func (p *Player) effectiveVolume() float64 {
	if p.ducked {
		return p.volume * duckFactor
	}
	return p.volume
}

func (p *Player) openLocked() {
	p.gen++
	gen := p.gen
	p.state = StatePreparing
	p.ended = false
	p.openStartMs = p.startMs
	req := OpenRequest{
		URL:     p.url,
		StartMs: p.startMs,
		Volume:  p.effectiveVolume(),
		Speed:   p.speed,
	}
	p.ops.push(func() { p.openSession(gen, req) })
}

func (p *Player) closeLocked() {
	p.gen++
	p.ops.push(p.closeSession)
}

// sessionOp runs fn on the control goroutine if the session of the current
// generation is still open by then.
func (p *Player) sessionOp(fn func(Session)) {
	gen := p.gen
	p.ops.push(func() {
		if p.sess != nil && p.sessGen == gen {
			fn(p.sess)
		}
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// Control goroutine.

func (p *Player) control() {
	defer close(p.controlDone)
	for {
		op, ok := p.ops.pop()
		if !ok {
			return
		}
		op()
	}
}

func (p *Player) current(gen uint64) bool {
	return !p.closed && gen == p.gen
}

func (p *Player) openSession(gen uint64, req OpenRequest) {
	p.closeSession()

	p.mu.Lock()
	stale := !p.current(gen)
	p.mu.Unlock()
	if stale {
		return
	}

	p.prepareStart = time.Now()
	_, p.span = p.tracer.Start(context.Background(), "player.prepare",
		trace.WithAttributes(telemetry.PlayerAttributes(p.id, req.URL, req.StartMs)...))
	p.logger.Debug().Str(log.FieldURL, req.URL).Int64(log.FieldPosition, req.StartMs).Msg("opening source")

	sess, err := p.engine.Open(req, &sink{p: p, gen: gen})
	if err != nil {
		p.onFailed(gen, err)
		return
	}
	p.sess, p.sessGen = sess, gen
}

func (p *Player) closeSession() {
	p.stopFocus()
	if p.sess != nil {
		p.sess.Close()
		p.sess = nil
	}
	p.endPrepare(metrics.PrepareAborted, nil)
}

func (p *Player) startOutput() {
	if p.sess == nil {
		return
	}
	if !p.focused {
		if err := p.focus.Request(); err != nil {
			p.logger.Warn().Err(err).Msg("audio focus denied")
			p.mu.Lock()
			if p.current(p.sessGen) && p.playWhenReady {
				p.setPlayWhenReady(false, ReasonAudioInterruptStop)
			}
			p.mu.Unlock()
			return
		}
		p.focused = true
	}
	p.sess.Play()
}

func (p *Player) stopOutput() {
	if p.sess != nil {
		p.sess.Pause()
	}
	p.stopFocus()
}

func (p *Player) stopFocus() {
	if p.focused {
		p.focus.Abandon()
		p.focused = false
	}
}

// endPrepare closes the prepare span and latency sample, if one is open.
func (p *Player) endPrepare(outcome string, err error) {
	if !p.prepareStart.IsZero() {
		metrics.ObservePlayerPrepare(outcome, time.Since(p.prepareStart).Seconds())
		p.prepareStart = time.Time{}
	}
	if p.span == nil {
		return
	}
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, "prepare failed")
		p.span.SetAttributes(telemetry.ErrorAttributes("playback")...)
	}
	p.span.End()
	p.span = nil
}

func (p *Player) onReady(gen uint64, durationMs int64) {
	p.mu.Lock()
	if !p.current(gen) {
		p.mu.Unlock()
		return
	}
	durationMs = max(durationMs, 0)
	p.state = StateReady
	p.setError(nil)
	p.setDuration(durationMs)
	start := p.startMs
	if durationMs > 0 {
		start = min(start, durationMs)
	}
	p.setCurrentTime(start)
	reseek := p.startMs != p.openStartMs
	play := p.playWhenReady
	p.mu.Unlock()

	if p.span != nil {
		p.span.SetAttributes(attribute.Int64(telemetry.PlayerDurationKey, durationMs))
	}
	p.endPrepare(metrics.PrepareReady, nil)
	p.logger.Debug().Int64(log.FieldDuration, durationMs).Str(log.FieldNewState, string(StateReady)).Msg("source ready")

	if p.sess == nil || p.sessGen != gen {
		return
	}
	if reseek {
		p.sess.SeekTo(start)
	}
	if play {
		p.startOutput()
	}
}

func (p *Player) onPosition(gen uint64, ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current(gen) || p.state != StateReady {
		return
	}
	ms = max(ms, 0)
	if p.duration > 0 {
		ms = min(ms, p.duration)
	}
	p.setCurrentTime(ms)
}

func (p *Player) onBuffered(gen uint64, ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current(gen) || p.state != StateReady {
		return
	}
	ms = max(ms, 0)
	if p.duration > 0 {
		ms = min(ms, p.duration)
	}
	p.setPlayableDuration(ms)
}

func (p *Player) onEnded(gen uint64) {
	p.mu.Lock()
	if !p.current(gen) || p.state != StateReady {
		p.mu.Unlock()
		return
	}
	if p.duration > 0 {
		p.setCurrentTime(p.duration)
	}
	p.ended = true
	p.setPlayWhenReady(false, ReasonPlaybackEnded)
	p.mu.Unlock()

	p.logger.Debug().Str(log.FieldReason, ReasonPlaybackEnded.String()).Msg("playback ended")
	p.stopOutput()
}

// onFailed records the first engine error of a session and releases it.
// playWhenReady is kept so a later Prepare resumes playback.
func (p *Player) onFailed(gen uint64, err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	if !p.current(gen) || p.state == StateError {
		p.mu.Unlock()
		return
	}
	p.state = StateError
	p.setError(err)
	p.mu.Unlock()

	stage := metrics.StagePlayback
	if !p.prepareStart.IsZero() {
		stage = metrics.StagePrepare
	}
	metrics.IncPlayerError(stage)
	p.logger.Warn().Err(err).Str(log.FieldNewState, string(StateError)).Str("stage", stage).Msg("playback failed")
	p.endPrepare(metrics.PrepareFailed, err)
	p.closeSession()
}

// sink forwards engine reports of one session generation to the control
// goroutine.
type sink struct {
	p   *Player
	gen uint64
}

func (s *sink) Ready(durationMs int64) {
	s.p.ops.push(func() { s.p.onReady(s.gen, durationMs) })
}

func (s *sink) Position(ms int64) {
	s.p.ops.push(func() { s.p.onPosition(s.gen, ms) })
}

func (s *sink) Buffered(ms int64) {
	s.p.ops.push(func() { s.p.onBuffered(s.gen, ms) })
}

func (s *sink) Ended() {
	s.p.ops.push(func() { s.p.onEnded(s.gen) })
}

func (s *sink) Failed(err error) {
	s.p.ops.push(func() { s.p.onFailed(s.gen, err) })
}
