// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffengine implements player.Engine on top of the execution facade:
// ffprobe acquires the source, an ffmpeg process decodes it to PCM.
package ffengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/player"
)

// ErrNoAudio is reported when the source has no decodable audio stream.
var ErrNoAudio = errors.New("source has no audio stream")

// errRestart is the abort reason of a decoder replaced by a newer one.
var errRestart = errors.New("decoder restarted")

// Runner is the part of the execution facade the engine needs.
type Runner interface {
	Execute(ctx context.Context, commands []string, opts ffmpeg.Options) error
	Probe(ctx context.Context, url string, sig *abort.Signal) (*ffmpeg.ProbeResult, error)
}

// Config tunes the PCM output and source recovery.
type Config struct {
	SampleRate int
	Channels   int
	// PositionInterval throttles position and buffer reports.
	PositionInterval time.Duration
	// ReadAhead is how far past the decoded position the source counts as
	// buffered.
	ReadAhead time.Duration
	// MaxRetries bounds decoder restarts after transient source errors. A
	// negative value disables them.
	MaxRetries int
	// RetryDelay is the wait before the first restart; every further
	// attempt waits one step longer.
	RetryDelay time.Duration
}

const (
	DefaultSampleRate       = 44100
	DefaultChannels         = 2
	DefaultPositionInterval = 250 * time.Millisecond
	DefaultReadAhead        = time.Second
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
)

// Engine decodes every session into the same renderer.
type Engine struct {
	runner   Runner
	renderer io.Writer
	cfg      Config
}

// New returns an engine writing s16le PCM to renderer. A nil renderer
// discards the audio.
func New(runner Runner, renderer io.Writer, cfg Config) *Engine {
	if renderer == nil {
		renderer = io.Discard
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = DefaultPositionInterval
	}
	if cfg.ReadAhead <= 0 {
		cfg.ReadAhead = DefaultReadAhead
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Engine{runner: runner, renderer: renderer, cfg: cfg}
}

// Open starts probing req.URL in the background.
func (e *Engine) Open(req player.OpenRequest, sink player.Sink) (player.Session, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, player.ErrNoSource
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		engine: e,
		sink:   sink,
		url:    req.URL,
		pos:    req.StartMs,
		volume: req.Volume,
		speed:  req.Speed,
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("ffengine").With().Str(log.FieldURL, req.URL).Logger(),
	}
	s.wg.Add(1)
	go s.probe()
	return s, nil
}

type session struct {
	engine *Engine
	sink   player.Sink
	url    string
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	ready    bool
	closed   bool
	playing  bool
	pos      int64
	duration int64
	volume   float64
	speed    float64
	dec      *decoder
	// restarts after transient errors since the last decoded output
	retries int
}

// decoder is one ffmpeg run. Runs are chained: a run waits for its
// predecessor to exit before it starts writing to the renderer.
type decoder struct {
	ctl     *abort.Controller
	done    chan struct{}
	startMs int64
	speed   float64
}

func (s *session) probe() {
	defer s.wg.Done()
	res, err := s.engine.runner.Probe(s.ctx, s.url, nil)
	if err == nil && !res.HasAudio() {
		err = ErrNoAudio
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.sink.Failed(fmt.Errorf("probe %s: %w", s.url, err))
		return
	}
	s.ready = true
	s.duration = res.Duration.Milliseconds()
	if s.duration > 0 && s.pos > s.duration {
		s.pos = s.duration
	}
	play := s.playing
	if play {
		s.restartLocked()
	}
	duration, pos := s.duration, s.pos
	s.mu.Unlock()

	s.logger.Debug().Int64(log.FieldDuration, duration).Str("container", res.Container).Msg("source probed")
	s.sink.Ready(duration)
	s.sink.Buffered(pos)
}

func (s *session) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.playing {
		return
	}
	s.playing = true
	if s.ready {
		s.restartLocked()
	}
}

func (s *session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.playing = false
	s.stopLocked()
}

func (s *session) SeekTo(ms int64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pos = max(ms, 0)
	if s.playing && s.ready {
		s.restartLocked()
	}
	pos := s.pos
	s.mu.Unlock()
	s.sink.Position(pos)
}

func (s *session) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volume == v {
		return
	}
	s.volume = v
	s.restartIfPlaying()
}

func (s *session) SetSpeed(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == v {
		return
	}
	s.speed = v
	s.restartIfPlaying()
}

// Close stops the decoder and waits for every background run.
func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.playing = false
	s.stopLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *session) restartIfPlaying() {
	if s.playing && s.ready && !s.closed {
		s.restartLocked()
	}
}

func (s *session) stopLocked() {
	if s.dec != nil {
		s.dec.ctl.Abort(errRestart)
	}
}

// restartLocked replaces the running decoder with one starting at the
// current position.
func (s *session) restartLocked() {
	prev := s.dec
	if prev != nil {
		prev.ctl.Abort(errRestart)
	}
	d := &decoder{
		ctl:     abort.NewController(),
		done:    make(chan struct{}),
		startMs: s.pos,
		speed:   s.speed,
	}
	s.dec = d
	args := s.engine.DecodeArgs(s.url, s.pos, s.volume, s.speed)
	s.wg.Add(1)
	go s.decode(d, prev, args)
}

func (s *session) decode(d *decoder, prev *decoder, args []string) {
	defer s.wg.Done()
	defer close(d.done)
	if prev != nil {
		<-prev.done
	}
	if d.ctl.Signal().Aborted() {
		return
	}

	var transient atomic.Bool
	every := rate.Sometimes{Interval: s.engine.cfg.PositionInterval}
	err := s.engine.runner.Execute(s.ctx, args, ffmpeg.Options{
		Signal: d.ctl.Signal(),
		Stdout: s.engine.renderer,
		ProgressCallback: func(msg string) {
			p := ffmpeg.ParseProgress(msg)
			pos := d.startMs + int64(float64(p.OutTime.Milliseconds())*d.speed)
			s.mu.Lock()
			if s.dec == d {
				s.pos = pos
				s.retries = 0
			}
			buffered := pos + s.engine.cfg.ReadAhead.Milliseconds()
			if s.duration > 0 {
				buffered = min(buffered, s.duration)
			}
			s.mu.Unlock()
			if p.Done {
				return
			}
			every.Do(func() {
				s.sink.Position(pos)
				s.sink.Buffered(buffered)
			})
		},
		LogCallback: func(level int, msg string) {
			if level <= int(ffmpeg.LogError) && isTransient(msg) {
				transient.Store(true)
			}
			if level <= int(ffmpeg.LogWarning) {
				s.logger.Debug().Str(log.FieldLevel, ffmpeg.LogLevel(level).String()).Msg(msg)
			}
		},
	})

	var retryIn time.Duration
	s.mu.Lock()
	current := s.dec == d && !s.closed
	if current && err != nil && !errors.Is(err, errRestart) && !errors.Is(err, ffmpeg.ErrCancelled) &&
		(transient.Load() || isTransient(err.Error())) && s.retries < s.engine.cfg.MaxRetries {
		s.retries++
		retryIn = time.Duration(s.retries) * s.engine.cfg.RetryDelay
	}
	if current && retryIn == 0 {
		s.dec = nil
		s.playing = false
	}
	duration, attempt := s.duration, s.retries
	if current && err == nil {
		s.pos = duration
	}
	s.mu.Unlock()

	switch {
	case !current:
	case retryIn > 0:
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", retryIn).Msg("source interrupted; restarting decoder")
		s.wg.Add(1)
		go s.retryAfter(d, retryIn)
	case err == nil:
		// Reading reached the end of the source.
		s.sink.Buffered(duration)
		s.sink.Ended()
	case errors.Is(err, errRestart):
	default:
		s.logger.Warn().Err(err).Msg("decoder failed")
		s.sink.Failed(err)
	}
}

// retryAfter restarts the decoder at the last decoded position once delay
// has passed, unless d was stopped or replaced meanwhile.
func (s *session) retryAfter(d *decoder, delay time.Duration) {
	defer s.wg.Done()
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
		return
	case <-d.ctl.Signal().Done():
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec != d || s.closed || !s.playing {
		return
	}
	s.restartLocked()
}

// transientErrors are the messages of I/O and network failures after which
// the source may become readable again.
var transientErrors = []string{
	"input/output error",
	"network is down",
	"network is unreachable",
	"network dropped connection on reset",
	"software caused connection abort",
	"connection reset by peer",
	"connection timed out",
	"no route to host",
	"invalid data found when processing input",
}

func isTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, t := range transientErrors {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

// DecodeArgs is the ffmpeg command line decoding url from startMs to PCM on
// stdout.
func (e *Engine) DecodeArgs(url string, startMs int64, volume, speed float64) []string {
	filters := append(atempoChain(speed), "volume="+strconv.FormatFloat(volume, 'f', 3, 64))
	return []string{
		"ffmpeg",
		"-hide_banner",
		"-nostdin",
		"-ss", strconv.FormatFloat(float64(startMs)/1000, 'f', 3, 64),
		"-re",
		"-i", url,
		"-vn",
		"-af", strings.Join(filters, ","),
		"-f", "s16le",
		"-ac", strconv.Itoa(e.cfg.Channels),
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"pipe:1",
	}
}

// atempoChain splits speed into atempo stages within [0.5, 2].
func atempoChain(speed float64) []string {
	if speed <= 0 {
		speed = 1
	}
	var out []string
	for speed < 0.5 {
		out = append(out, "atempo=0.5")
		speed /= 0.5
	}
	for speed > 2 {
		out = append(out, "atempo=2.0")
		speed /= 2
	}
	return append(out, "atempo="+strconv.FormatFloat(speed, 'f', 3, 64))
}
