// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffengine

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/player"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeRunner stands in for the executor. Decoder runs write a few PCM
// bytes, report 500ms of output and then block until aborted unless
// finish is set. With execErr set, runs fail before any output, logging
// execLog first; failRuns limits that to the first runs.
type fakeRunner struct {
	mu       sync.Mutex
	probe    *ffmpeg.ProbeResult
	probeErr error
	finish   bool
	execErr  error
	execLog  string
	failRuns int
	runs     [][]string
}

func (r *fakeRunner) Probe(ctx context.Context, _ string, _ *abort.Signal) (*ffmpeg.ProbeResult, error) {
	r.mu.Lock()
	res, err := r.probe, r.probeErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return res, ctx.Err()
}

func (r *fakeRunner) Execute(ctx context.Context, commands []string, opts ffmpeg.Options) error {
	r.mu.Lock()
	r.runs = append(r.runs, slices.Clone(commands))
	finish, execErr, execLog := r.finish, r.execErr, r.execLog
	if r.failRuns > 0 && len(r.runs) > r.failRuns {
		execErr = nil
	}
	r.mu.Unlock()

	if execErr != nil {
		if execLog != "" && opts.LogCallback != nil {
			opts.LogCallback(int(ffmpeg.LogError), execLog)
		}
		return execErr
	}
	if opts.Stdout != nil {
		_, _ = opts.Stdout.Write([]byte{0, 1, 2, 3})
	}
	if opts.ProgressCallback != nil {
		opts.ProgressCallback("out_time_us=500000\nprogress=continue")
	}
	if finish {
		opts.ProgressCallback("out_time_us=900000\nprogress=end")
		return nil
	}
	select {
	case <-opts.Signal.Done():
		return &ffmpeg.Error{Code: ffmpeg.CodeCancelled, Status: 255, Err: opts.Signal.Reason()}
	case <-ctx.Done():
		return &ffmpeg.Error{Code: ffmpeg.CodeCancelled, Status: 255, Err: ctx.Err()}
	}
}

func (r *fakeRunner) started() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.runs)
}

type fakeSink struct {
	mu        sync.Mutex
	ready     []int64
	positions []int64
	buffered  []int64
	ended     int
	failures  []error
}

func (s *fakeSink) Ready(d int64) {
	s.mu.Lock()
	s.ready = append(s.ready, d)
	s.mu.Unlock()
}

func (s *fakeSink) Position(ms int64) {
	s.mu.Lock()
	s.positions = append(s.positions, ms)
	s.mu.Unlock()
}

func (s *fakeSink) Buffered(ms int64) {
	s.mu.Lock()
	s.buffered = append(s.buffered, ms)
	s.mu.Unlock()
}

func (s *fakeSink) Ended() {
	s.mu.Lock()
	s.ended++
	s.mu.Unlock()
}

func (s *fakeSink) Failed(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

type sinkState struct {
	ready     []int64
	positions []int64
	buffered  []int64
	ended     int
	failures  []error
}

func (s *fakeSink) snapshot() sinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sinkState{
		ready:     slices.Clone(s.ready),
		positions: slices.Clone(s.positions),
		buffered:  slices.Clone(s.buffered),
		ended:     s.ended,
		failures:  slices.Clone(s.failures),
	}
}

// syncBuffer is a bytes.Buffer safe for the decoder goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func audioProbe(d time.Duration) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Container: "mp3",
		Duration:  d,
		Streams:   []ffmpeg.StreamInfo{{Index: 0, CodecType: "audio", CodecName: "mp3"}},
	}
}

func openSession(t *testing.T, r *fakeRunner, req player.OpenRequest) (player.Session, *fakeSink, *syncBuffer) {
	t.Helper()
	return openSessionWith(t, r, Config{PositionInterval: time.Millisecond}, req)
}

func openSessionWith(t *testing.T, r *fakeRunner, cfg Config, req player.OpenRequest) (player.Session, *fakeSink, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	e := New(r, out, cfg)
	sink := &fakeSink{}
	s, err := e.Open(req, sink)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, sink, out
}

func TestDecodeArgs(t *testing.T) {
	e := New(&fakeRunner{}, nil, Config{})
	args := e.DecodeArgs("a.mp3", 5000, 0.5, 1)
	assert.Equal(t, []string{
		"ffmpeg", "-hide_banner", "-nostdin",
		"-ss", "5.000", "-re", "-i", "a.mp3", "-vn",
		"-af", "atempo=1.000,volume=0.500",
		"-f", "s16le", "-ac", "2", "-ar", "44100", "pipe:1",
	}, args)
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		speed float64
		want  []string
	}{
		{1, []string{"atempo=1.000"}},
		{0.25, []string{"atempo=0.5", "atempo=0.500"}},
		{4, []string{"atempo=2.0", "atempo=2.000"}},
		{1.5, []string{"atempo=1.500"}},
		{0, []string{"atempo=1.000"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, atempoChain(tt.speed), "speed %v", tt.speed)
	}
}

func TestOpen_RejectsEmptyURL(t *testing.T) {
	e := New(&fakeRunner{}, nil, Config{})
	_, err := e.Open(player.OpenRequest{URL: " "}, &fakeSink{})
	assert.ErrorIs(t, err, player.ErrNoSource)
}

func TestOpen_ReportsReadyAndBuffered(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(12500 * time.Millisecond)}
	_, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", StartMs: 2000, Volume: 1, Speed: 1})

	require.Eventually(t, func() bool { return len(sink.snapshot().buffered) == 1 }, waitFor, tick)
	snap := sink.snapshot()
	assert.Equal(t, []int64{12500}, snap.ready)
	assert.Equal(t, []int64{2000}, snap.buffered, "nothing read past the start yet")
	assert.Empty(t, r.started(), "no decoder before play")
}

func TestOpen_ProbeFailures(t *testing.T) {
	boom := errors.New("connection refused")
	r := &fakeRunner{probeErr: boom}
	_, sink, _ := openSession(t, r, player.OpenRequest{URL: "http://x/a.mp3", Volume: 1, Speed: 1})
	require.Eventually(t, func() bool { return len(sink.snapshot().failures) == 1 }, waitFor, tick)
	assert.ErrorIs(t, sink.snapshot().failures[0], boom)

	video := &ffmpeg.ProbeResult{Streams: []ffmpeg.StreamInfo{{CodecType: "video", CodecName: "h264"}}}
	r2 := &fakeRunner{probe: video}
	_, sink2, _ := openSession(t, r2, player.OpenRequest{URL: "v.mp4", Volume: 1, Speed: 1})
	require.Eventually(t, func() bool { return len(sink2.snapshot().failures) == 1 }, waitFor, tick)
	assert.ErrorIs(t, sink2.snapshot().failures[0], ErrNoAudio)
}

func TestSession_PlayDecodesFromStart(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(60 * time.Second)}
	s, sink, out := openSession(t, r, player.OpenRequest{URL: "a.mp3", StartMs: 5000, Volume: 1, Speed: 2})

	s.Play()
	require.Eventually(t, func() bool { return len(r.started()) == 1 }, waitFor, tick)
	run := r.started()[0]
	assert.Contains(t, run, "5.000")
	assert.Contains(t, run, "atempo=2.000,volume=1.000")

	// 500ms of output at double speed is one second of media.
	require.Eventually(t, func() bool { return slices.Contains(sink.snapshot().positions, int64(6000)) }, waitFor, tick)
	assert.Equal(t, 4, out.Len())
	assert.Contains(t, sink.snapshot().buffered, int64(6000+DefaultReadAhead.Milliseconds()))
}

func TestSession_PauseStopsDecoderWithoutError(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(60 * time.Second)}
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return len(sink.snapshot().positions) > 0 }, waitFor, tick)
	s.Pause()
	s.Close()

	snap := sink.snapshot()
	assert.Empty(t, snap.failures)
	assert.Zero(t, snap.ended)
}

func TestSession_SeekWhilePlayingRestarts(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(60 * time.Second)}
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return len(r.started()) == 1 }, waitFor, tick)
	s.SeekTo(30000)
	require.Eventually(t, func() bool { return len(r.started()) == 2 }, waitFor, tick)
	assert.Contains(t, r.started()[1], "30.000")
	assert.Contains(t, sink.snapshot().positions, int64(30000))

	s.SetVolume(0.25)
	require.Eventually(t, func() bool { return len(r.started()) == 3 }, waitFor, tick)
	assert.Contains(t, r.started()[2], "atempo=1.000,volume=0.250")
	assert.Empty(t, sink.snapshot().failures)
}

func TestSession_SeekWhilePausedReportsPosition(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(60 * time.Second)}
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.SeekTo(1234)
	assert.Contains(t, sink.snapshot().positions, int64(1234))
	assert.Empty(t, r.started())
}

func TestSession_EndOfStream(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(time.Second), finish: true}
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return sink.snapshot().ended == 1 }, waitFor, tick)
	snap := sink.snapshot()
	assert.Empty(t, snap.failures)
	require.NotEmpty(t, snap.buffered)
	assert.Equal(t, int64(1000), snap.buffered[len(snap.buffered)-1])
}

func TestSession_DecoderFailure(t *testing.T) {
	boom := &ffmpeg.Error{Code: ffmpeg.CodeGeneric, Status: 1, Stderr: []string{"Invalid data found"}}
	r := &fakeRunner{probe: audioProbe(time.Second), execErr: boom}
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return len(sink.snapshot().failures) == 1 }, waitFor, tick)
	assert.ErrorIs(t, sink.snapshot().failures[0], ffmpeg.ErrExecution)
	assert.Len(t, r.started(), 1, "no restart for a non-transient error")
}

func TestSession_TransientErrorRestartsAtPosition(t *testing.T) {
	reset := &ffmpeg.Error{Code: ffmpeg.CodeGeneric, Status: 1, Stderr: []string{"tcp://host: Connection reset by peer"}}
	r := &fakeRunner{probe: audioProbe(60 * time.Second), execErr: reset, failRuns: 1, finish: true}
	cfg := Config{PositionInterval: time.Millisecond, RetryDelay: 5 * time.Millisecond}
	s, sink, _ := openSessionWith(t, r, cfg, player.OpenRequest{URL: "http://host/a.mp3", StartMs: 3000, Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return sink.snapshot().ended == 1 }, waitFor, tick)
	runs := r.started()
	require.Len(t, runs, 2)
	assert.Contains(t, runs[1], "3.000")
	assert.Empty(t, sink.snapshot().failures)
}

func TestSession_TransientErrorsExhaustRetries(t *testing.T) {
	down := &ffmpeg.Error{Code: ffmpeg.CodeGeneric, Status: 1}
	r := &fakeRunner{probe: audioProbe(60 * time.Second), execErr: down, execLog: "http://host/a.mp3: Network is unreachable"}
	cfg := Config{PositionInterval: time.Millisecond, RetryDelay: time.Millisecond, MaxRetries: 2}
	s, sink, _ := openSessionWith(t, r, cfg, player.OpenRequest{URL: "http://host/a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return len(sink.snapshot().failures) == 1 }, waitFor, tick)
	assert.Len(t, r.started(), 3)
	assert.ErrorIs(t, sink.snapshot().failures[0], ffmpeg.ErrExecution)
}

func TestSession_PauseCancelsPendingRetry(t *testing.T) {
	down := &ffmpeg.Error{Code: ffmpeg.CodeGeneric, Status: 1, Stderr: []string{"Input/output error"}}
	r := &fakeRunner{probe: audioProbe(60 * time.Second), execErr: down}
	cfg := Config{PositionInterval: time.Millisecond, RetryDelay: time.Hour}
	s, sink, _ := openSessionWith(t, r, cfg, player.OpenRequest{URL: "a.mp3", Volume: 1, Speed: 1})

	s.Play()
	require.Eventually(t, func() bool { return len(r.started()) == 1 }, waitFor, tick)
	s.Pause()
	s.Close()
	assert.Len(t, r.started(), 1)
	assert.Empty(t, sink.snapshot().failures)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient("[tcp @ 0x1] Connection timed out"))
	assert.True(t, isTransient("a.mp3: Invalid data found when processing input"))
	assert.False(t, isTransient("Unknown encoder 'pcm_x'"))
}

func TestSession_PlayBeforeReadyStartsOnProbe(t *testing.T) {
	r := &fakeRunner{probe: audioProbe(10 * time.Second)}
	r.mu.Lock()
	s, sink, _ := openSession(t, r, player.OpenRequest{URL: "a.mp3", StartMs: 2000, Volume: 1, Speed: 1})
	s.Play()
	r.mu.Unlock()

	require.Eventually(t, func() bool { return len(r.started()) == 1 }, waitFor, tick)
	assert.Contains(t, r.started()[0], "2.000")
	require.Eventually(t, func() bool { return len(sink.snapshot().ready) == 1 }, waitFor, tick)
}
