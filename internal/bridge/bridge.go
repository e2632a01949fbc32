// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge runs ffmpeg and ffprobe processes keyed by execution id and
// streams their diagnostics, progress reports and structured output back to
// the caller. It exposes four primitives: Prepare, Execute, Cancel and
// SetPrintHandler.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/ffav/internal/metrics"
)

const (
	// StatusCancelled is returned for cancelled executions and unknown ids.
	StatusCancelled = 255
	// StatusSpawnFailed is returned when the process could not be started.
	StatusSpawnFailed = -1

	defaultKillGrace = 5 * time.Second
)

var (
	// ErrDuplicateID is returned by Prepare when the id is already live.
	ErrDuplicateID = errors.New("execution id already in use")
	// ErrCancelled is returned by Execute when the execution was cancelled.
	ErrCancelled = errors.New("execution cancelled")
	// ErrUnknownTool is returned when commands[0] is neither ffmpeg nor ffprobe.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNoCommand is returned by Execute for an empty command vector.
	ErrNoCommand = errors.New("empty command")
)

// Tool names accepted as commands[0].
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
)

// ExitError reports a non-zero exit status together with the stderr tail.
type ExitError struct {
	Status int
	Stderr []string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with status %d", e.Status)
}

// Callbacks receive the output of one execution. Each callback is invoked
// from a single goroutine at a time and never after Execute returns.
type Callbacks struct {
	// Log receives every stderr line with its numeric FFmpeg severity.
	Log func(level int, message string)
	// Progress receives one key=value block per report (ffmpeg only).
	Progress func(message string)
	// Output receives the buffered stdout once at completion (ffprobe only).
	Output func(message string)
}

// Config selects binaries and termination behaviour.
type Config struct {
	FFmpegBin  string
	FFprobeBin string
	// KillGrace is the delay between SIGTERM and SIGKILL on cancellation.
	KillGrace time.Duration
	RingSize  int
}

// Bridge owns the execution registry. It is safe for concurrent use.
type Bridge struct {
	cfg  Config
	reg  *registry
	tool map[string]string
}

// New creates a Bridge. Empty binaries default to "ffmpeg" and "ffprobe" on PATH.
func New(cfg Config) *Bridge {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = ToolFFmpeg
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = ToolFFprobe
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	return &Bridge{
		cfg: cfg,
		reg: newRegistry(),
		tool: map[string]string{
			ToolFFmpeg:  cfg.FFmpegBin,
			ToolFFprobe: cfg.FFprobeBin,
		},
	}
}

// Prepare reserves id for a following Execute call.
func (b *Bridge) Prepare(id int64) error {
	if err := b.reg.create(id); err != nil {
		return fmt.Errorf("prepare %d: %w", id, err)
	}
	return nil
}

// Cancel requests termination of the execution behind id.
// Unknown or already finished ids are ignored.
func (b *Bridge) Cancel(id int64) {
	if b.reg.cancel(id) {
		metrics.ExecCancelTotal.WithLabelValues("applied").Inc()
		emitPrint(levelVerbose, fmt.Sprintf("execution %d: cancel requested", id))
		return
	}
	metrics.ExecCancelTotal.WithLabelValues("unknown_id").Inc()
}

// Live returns the number of registered executions.
func (b *Bridge) Live() int {
	return b.reg.len()
}

// ExecOption customises the process IO of one Execute call.
type ExecOption func(*execOptions)

type execOptions struct {
	stdin  io.Reader
	stdout io.Writer
}

// WithStdin connects r to the process stdin.
func WithStdin(r io.Reader) ExecOption {
	return func(o *execOptions) { o.stdin = r }
}

// WithStdout sends the process stdout to w. For ffprobe with an Output
// callback the payload is delivered to both.
func WithStdout(w io.Writer) ExecOption {
	return func(o *execOptions) { o.stdout = w }
}
