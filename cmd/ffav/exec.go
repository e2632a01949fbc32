// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/ffav/internal/bridge"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/log"
)

type execOptions struct {
	id         int64
	noProgress bool
}

func newExecCmd(a *app) *cobra.Command {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec -- <ffmpeg|ffprobe> [args...]",
		Short: "Run one FFmpeg or FFprobe command",
		Long: "Run one FFmpeg or FFprobe command through the execution bridge. " +
			"Diagnostics go to the log, progress to stderr, ffprobe output and media written to pipe:1 to stdout. " +
			"Ctrl-C cancels the execution.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExec(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().Int64Var(&opts.id, "id", 0, "pin the execution id")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "do not print progress reports")
	return cmd
}

func (a *app) runExec(ctx context.Context, stdout, stderr io.Writer, commands []string, opts execOptions) error {
	shutdown, err := a.startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	sig, stop := interruptSignal(ctx)
	defer stop()

	exe := a.newExecutor()
	eopts := ffmpeg.Options{
		Signal:      sig,
		ExecutionID: opts.id,
		OutputCallback: func(msg string) {
			fmt.Fprintln(stdout, msg)
		},
		OnStart: func(id int64) {
			logger := log.WithComponent("cli")
			logger.Debug().Int64(log.FieldExecutionID, id).Msg("execution started")
		},
	}
	// ffprobe output arrives once through OutputCallback.
	if commands[0] == bridge.ToolFFmpeg {
		eopts.Stdout = stdout
	}
	if !opts.noProgress {
		eopts.ProgressCallback = func(msg string) {
			fmt.Fprint(stderr, progressLine(ffmpeg.ParseProgress(msg)))
		}
	}

	// Only the signal cancels; its reason tells an interrupt from a failure.
	return exe.Execute(context.WithoutCancel(ctx), commands, eopts)
}

// progressLine renders a report for a terminal, overwriting the previous one.
func progressLine(p ffmpeg.Progress) string {
	line := fmt.Sprintf("\rtime=%s", formatClock(p.OutTime))
	if p.Frame > 0 {
		line += fmt.Sprintf(" frame=%d", p.Frame)
	}
	if p.Bitrate != "" {
		line += " bitrate=" + p.Bitrate
	}
	if p.Speed > 0 {
		line += fmt.Sprintf(" speed=%.2fx", p.Speed)
	}
	if p.Done {
		line += "\n"
	}
	return line
}

// formatClock prints d as HH:MM:SS.mmm.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
