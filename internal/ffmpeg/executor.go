// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg is the execution facade: it runs ffmpeg/ffprobe command
// lines through the bridge with callbacks, abort signals, a concurrency cap
// and an optional stall watchdog, and maps outcomes to typed errors.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/bridge"
	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/metrics"
	"github.com/ManuGH/ffav/internal/telemetry"
	"github.com/ManuGH/ffav/internal/watchdog"
)

// Bridge is the native execution surface the executor drives.
type Bridge interface {
	Prepare(id int64) error
	Execute(ctx context.Context, id int64, commands []string, cb bridge.Callbacks, opts ...bridge.ExecOption) (int, error)
	Cancel(id int64)
}

// Options carries the optional callbacks and controls of one execution.
type Options struct {
	// LogCallback receives every diagnostic line with its FFmpeg severity.
	LogCallback func(level int, message string)
	// ProgressCallback receives one key=value report at a time (ffmpeg only).
	ProgressCallback func(message string)
	// OutputCallback receives the structured stdout payload (ffprobe only).
	OutputCallback func(message string)

	Signal *abort.Signal

	// ExecutionID pins the id; zero allocates one.
	ExecutionID int64
	// OnStart is called with the id once it is registered with the bridge.
	OnStart func(id int64)

	Stdin  io.Reader
	Stdout io.Writer

	// StartTimeout and StallTimeout override the executor defaults for the
	// progress watchdog; negative disables.
	StartTimeout time.Duration
	StallTimeout time.Duration
}

// Config tunes an Executor.
type Config struct {
	// MaxConcurrent bounds simultaneous processes; zero means unbounded.
	MaxConcurrent int
	StartTimeout  time.Duration
	StallTimeout  time.Duration
}

// Executor is safe for concurrent use.
type Executor struct {
	bridge Bridge
	cfg    Config
	sem    *semaphore.Weighted
	nextID atomic.Int64
	tracer trace.Tracer
}

// NewExecutor creates an executor on top of b.
func NewExecutor(b Bridge, cfg Config) *Executor {
	e := &Executor{
		bridge: b,
		cfg:    cfg,
		tracer: telemetry.Tracer("github.com/ManuGH/ffav/internal/ffmpeg"),
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return e
}

// Cancel forwards to the bridge; unknown ids are ignored.
func (e *Executor) Cancel(id int64) {
	e.bridge.Cancel(id)
}

// Execute runs commands and blocks until the process finished, failed or was
// cancelled. An empty command vector is a no-op. No callback fires after
// Execute returns.
func (e *Executor) Execute(ctx context.Context, commands []string, opts Options) error {
	if len(commands) == 0 {
		return nil
	}
	tool := commands[0]
	if tool != bridge.ToolFFmpeg && tool != bridge.ToolFFprobe {
		metrics.IncExecOutcome("unknown", "invalid")
		return &Error{Code: CodeInvalidCommand, Status: -1, Err: fmt.Errorf("unsupported tool %q", tool)}
	}

	sig := opts.Signal
	if sig.Aborted() {
		metrics.IncExecOutcome(tool, "cancelled")
		return cancelledError(sig.Reason())
	}

	if err := e.acquire(ctx, sig); err != nil {
		metrics.IncExecOutcome(tool, "cancelled")
		return cancelledError(e.cancelReason(ctx, sig, err))
	}
	if e.sem != nil {
		defer e.sem.Release(1)
	}

	id, err := e.register(opts.ExecutionID)
	if err != nil {
		metrics.IncExecOutcome(tool, "invalid")
		return &Error{Code: CodeInvalidCommand, Status: -1, Err: err}
	}
	if opts.OnStart != nil {
		opts.OnStart(id)
	}

	ctx = log.ContextWithExecutionID(ctx, id)
	ctx, span := e.tracer.Start(ctx, "ffmpeg.execute",
		trace.WithAttributes(telemetry.ExecAttributes(id, tool, len(commands)-1)...))
	defer span.End()
	logger := log.WithComponentFromContext(ctx, "ffmpeg")

	// Registered after Prepare so an abort racing the check above still
	// reaches the task; a signal that already fired calls Cancel at once.
	removeAbort := sig.AddEventListener(func(error) { e.bridge.Cancel(id) })
	defer removeAbort()
	stopAfter := context.AfterFunc(ctx, func() { e.bridge.Cancel(id) })
	defer stopAfter()

	cb := bridge.Callbacks{Log: opts.LogCallback}
	var wd *watchdog.Watchdog
	switch tool {
	case bridge.ToolFFmpeg:
		cb.Progress = opts.ProgressCallback
		if start, stall := e.timeouts(opts); start > 0 || stall > 0 {
			wd = watchdog.New(start, stall)
			user := opts.ProgressCallback
			cb.Progress = func(msg string) {
				wd.Feed(msg)
				if user != nil {
					user(msg)
				}
			}
		}
	case bridge.ToolFFprobe:
		cb.Output = opts.OutputCallback
	}

	var execOpts []bridge.ExecOption
	if opts.Stdin != nil {
		execOpts = append(execOpts, bridge.WithStdin(opts.Stdin))
	}
	if opts.Stdout != nil {
		execOpts = append(execOpts, bridge.WithStdout(opts.Stdout))
	}

	var stallErr error
	wdCtx, wdCancel := context.WithCancel(ctx)
	wdDone := make(chan struct{})
	go func() {
		defer close(wdDone)
		if wd == nil {
			return
		}
		if err := wd.Run(wdCtx); err != nil {
			stallErr = err
			logger.Warn().Err(err).Str(log.FieldEvent, "watchdog_fired").Msg("stopping execution without progress")
			e.bridge.Cancel(id)
		}
	}()

	logger.Debug().Str(log.FieldTool, tool).Strs(log.FieldArgs, commands[1:]).Msg("execution started")
	started := time.Now()
	status, execErr := e.bridge.Execute(ctx, id, commands, cb, execOpts...)
	wdCancel()
	<-wdDone
	metrics.ExecDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())

	result := e.mapResult(ctx, sig, status, execErr, stallErr)
	outcome := outcomeLabel(result)
	metrics.IncExecOutcome(tool, outcome)
	span.SetAttributes(telemetry.ExecResultAttributes(status, string(CodeOf(result)))...)

	level := zerolog.DebugLevel
	if result != nil {
		span.RecordError(result)
		span.SetStatus(codes.Error, outcome)
		if outcome == "failed" || outcome == "stalled" {
			level = zerolog.WarnLevel
		}
	}
	logger.WithLevel(level).Err(result).
		Str(log.FieldTool, tool).
		Int(log.FieldStatus, status).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(started)).
		Msg("execution finished")
	return result
}

func (e *Executor) acquire(ctx context.Context, sig *abort.Signal) error {
	if e.sem == nil {
		return nil
	}
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer sig.AddEventListener(func(reason error) { cancel(reason) })()
	return e.sem.Acquire(actx, 1)
}

// register prepares a bridge task. Allocated ids skip over ids that callers
// pinned explicitly; a pinned id that is live is rejected.
func (e *Executor) register(pinned int64) (int64, error) {
	if pinned != 0 {
		if err := e.bridge.Prepare(pinned); err != nil {
			return 0, err
		}
		return pinned, nil
	}
	for {
		id := e.nextID.Add(1)
		err := e.bridge.Prepare(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, bridge.ErrDuplicateID) {
			return 0, err
		}
	}
}

func (e *Executor) timeouts(opts Options) (start, stall time.Duration) {
	start, stall = e.cfg.StartTimeout, e.cfg.StallTimeout
	if opts.StartTimeout != 0 {
		start = opts.StartTimeout
	}
	if opts.StallTimeout != 0 {
		stall = opts.StallTimeout
	}
	return max(start, 0), max(stall, 0)
}

func (e *Executor) cancelReason(ctx context.Context, sig *abort.Signal, fallback error) error {
	if sig.Aborted() {
		return sig.Reason()
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if fallback != nil && !errors.Is(fallback, bridge.ErrCancelled) {
		return fallback
	}
	return ErrCancelled
}

func (e *Executor) mapResult(ctx context.Context, sig *abort.Signal, status int, execErr, stallErr error) error {
	if stallErr != nil {
		return &Error{Code: CodeStalled, Status: status, Err: stallErr}
	}
	if status == 0 && execErr == nil {
		return nil
	}
	if status == bridge.StatusCancelled {
		return cancelledError(e.cancelReason(ctx, sig, nil))
	}
	fe := &Error{Code: CodeGeneric, Status: status, Err: execErr}
	var exitErr *bridge.ExitError
	if errors.As(execErr, &exitErr) {
		fe.Stderr = exitErr.Stderr
	}
	return fe
}

func outcomeLabel(err error) string {
	switch CodeOf(err) {
	case "":
		return "succeeded"
	case CodeCancelled:
		return "cancelled"
	case CodeStalled:
		return "stalled"
	case CodeInvalidCommand:
		return "invalid"
	default:
		return "failed"
	}
}
