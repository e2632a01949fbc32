// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/metrics"
	"github.com/ManuGH/ffav/internal/procgroup"
)

const maxLineBytes = 1024 * 1024

// Execute runs commands for the prepared id and blocks until the process has
// exited and all of its output has been delivered. It returns the exit status:
// 0 on success, StatusCancelled when the id is unknown, cancelled, or ctx is
// done, StatusSpawnFailed when the process could not start, otherwise the
// tool's exit code together with an *ExitError.
func (b *Bridge) Execute(ctx context.Context, id int64, commands []string, cb Callbacks, opts ...ExecOption) (int, error) {
	t := b.reg.retain(id)
	if t == nil {
		emitPrint(levelVerbose, fmt.Sprintf("execution %d: not prepared or cancelled", id))
		return StatusCancelled, ErrCancelled
	}
	defer b.reg.release(t)

	if len(commands) == 0 {
		return StatusSpawnFailed, ErrNoCommand
	}
	tool := commands[0]
	bin, ok := b.tool[tool]
	if !ok {
		return StatusSpawnFailed, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	if t.stopped() || ctx.Err() != nil {
		metrics.ExecStartTotal.WithLabelValues(tool, "skipped").Inc()
		return cancelledStatus(ctx)
	}

	r := &run{
		id:     id,
		tool:   tool,
		cb:     cb,
		ring:   NewLineRing(b.cfg.RingSize),
		logger: log.WithContext(log.ContextWithExecutionID(ctx, id), log.WithComponent("bridge")),
	}
	return r.exec(ctx, t, bin, commands[1:], o, b.cfg.KillGrace)
}

func cancelledStatus(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return StatusCancelled, context.Cause(ctx)
	}
	return StatusCancelled, ErrCancelled
}

// run holds the per-process state of one Execute call.
type run struct {
	id     int64
	tool   string
	cb     Callbacks
	ring   *LineRing
	logger zerolog.Logger
}

func (r *run) exec(ctx context.Context, t *task, bin string, args []string, o execOptions, grace time.Duration) (int, error) {
	argv := []string{"-loglevel", "+level"}

	var progressR, progressW *os.File
	if r.tool == ToolFFmpeg && r.cb.Progress != nil && runtime.GOOS != "windows" {
		pr, pw, err := os.Pipe()
		if err != nil {
			return StatusSpawnFailed, fmt.Errorf("progress pipe: %w", err)
		}
		progressR, progressW = pr, pw
		argv = append(argv, "-progress", "pipe:3")
	}
	argv = append(argv, rewriteLogLevel(args)...)

	cmd := exec.Command(bin, argv...) // #nosec G204 -- argv is the caller's tool command line
	procgroup.Set(cmd)
	cmd.Stdin = o.stdin
	if progressW != nil {
		cmd.ExtraFiles = []*os.File{progressW}
	}

	var outBuf *bytes.Buffer
	switch {
	case r.tool == ToolFFprobe && r.cb.Output != nil:
		outBuf = &bytes.Buffer{}
		if o.stdout != nil {
			cmd.Stdout = io.MultiWriter(outBuf, o.stdout)
		} else {
			cmd.Stdout = outBuf
		}
	default:
		cmd.Stdout = o.stdout
	}

	closeProgress := func() {
		if progressW != nil {
			_ = progressW.Close()
		}
		if progressR != nil {
			_ = progressR.Close()
		}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeProgress()
		return StatusSpawnFailed, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		closeProgress()
		metrics.ExecStartTotal.WithLabelValues(r.tool, "error").Inc()
		r.logger.Error().Err(err).Str(log.FieldTool, r.tool).Msg("process start failed")
		emitPrint(levelError, fmt.Sprintf("execution %d: start %s failed: %v", r.id, r.tool, err))
		return StatusSpawnFailed, fmt.Errorf("start %s: %w", r.tool, err)
	}
	if progressW != nil {
		// The child holds its own copy; EOF on the read side needs ours closed.
		_ = progressW.Close()
	}
	metrics.ExecStartTotal.WithLabelValues(r.tool, "ok").Inc()
	r.logger.Debug().
		Str(log.FieldTool, r.tool).
		Int(log.FieldPID, cmd.Process.Pid).
		Strs(log.FieldArgs, argv).
		Msg("process started")
	emitPrint(levelVerbose, fmt.Sprintf("execution %d: started %s pid %d", r.id, r.tool, cmd.Process.Pid))

	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		r.readStderr(stderr)
	}()
	if progressR != nil {
		ioWg.Add(1)
		go func() {
			defer ioWg.Done()
			defer func() { _ = progressR.Close() }()
			r.readProgress(progressR)
		}()
	}

	// Wait must not run before the stderr pipe is drained.
	waitCh := make(chan error, 1)
	go func() {
		ioWg.Wait()
		waitCh <- cmd.Wait()
	}()

	cancelled := false
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-t.cancel:
		cancelled = true
	case <-ctx.Done():
		cancelled = true
	}
	if cancelled {
		r.logger.Debug().Dur("grace", grace).Msg("terminating process group")
		waitErr = procgroup.Terminate(cmd, waitCh, grace)
	}

	status, err := r.outcome(ctx, cancelled, waitErr)
	if err == nil && outBuf != nil && outBuf.Len() > 0 {
		r.cb.Output(outBuf.String())
		metrics.ExecCallbackTotal.WithLabelValues("output").Inc()
	}

	r.logger.Debug().
		Str(log.FieldTool, r.tool).
		Int(log.FieldStatus, status).
		Dur("elapsed", time.Since(started)).
		Msg("process finished")
	emitPrint(levelVerbose, fmt.Sprintf("execution %d: %s exited with status %d", r.id, r.tool, status))
	return status, err
}

func (r *run) outcome(ctx context.Context, cancelled bool, waitErr error) (int, error) {
	if cancelled {
		return cancelledStatus(ctx)
	}
	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// Terminated by a signal from outside the bridge.
			code = StatusCancelled
		}
		return code, &ExitError{Status: code, Stderr: r.ring.LastN(r.ring.Len())}
	}
	return StatusSpawnFailed, fmt.Errorf("wait %s: %w", r.tool, waitErr)
}

func (r *run) readStderr(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(scanLogLines)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		level, msg := splitLevel(line)
		r.ring.Add(msg)
		emitPrint(level, msg)
		if r.cb.Log != nil {
			r.cb.Log(level, msg)
			metrics.ExecCallbackTotal.WithLabelValues("log").Inc()
		}
	}
	if err := sc.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("stderr scan aborted, discarding remainder")
		_, _ = io.Copy(io.Discard, rd)
	}
}

// readProgress groups key=value lines into one message per report; ffmpeg
// terminates every report with progress=continue or progress=end.
func (r *run) readProgress(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	var block strings.Builder
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		block.WriteString(line)
		block.WriteByte('\n')
		if strings.HasPrefix(line, "progress=") {
			r.cb.Progress(block.String())
			metrics.ExecCallbackTotal.WithLabelValues("progress").Inc()
			block.Reset()
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, rd)
	}
}
