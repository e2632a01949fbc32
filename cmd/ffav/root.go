// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/bridge"
	"github.com/ManuGH/ffav/internal/config"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/telemetry"
	"github.com/ManuGH/ffav/internal/version"
)

// annotationNoConfig marks commands that run without loading the config.
const annotationNoConfig = "ffav/no-config"

var errInterrupted = errors.New("interrupted")

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string

	loader *config.Loader
	cfg    config.AppConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ffav",
		Short:         "FFmpeg execution bridge and headless audio player",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationNoConfig] != "" {
				return nil
			}
			return a.load(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level, overrides the configuration (debug, info, warn, error)")

	root.AddCommand(
		newExecCmd(a),
		newProbeCmd(a),
		newPlayCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration and reconfigures logging from it.
func (a *app) load(cmd *cobra.Command) error {
	if a.logLevel != "" {
		if _, err := zerolog.ParseLevel(a.logLevel); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
		}
	}
	// Loader warnings need a logger before the configured one exists.
	log.Configure(log.Config{Level: a.logLevel, Output: cmd.ErrOrStderr(), Version: version.Version})

	path := a.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	a.loader = config.NewLoader(path)
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  cmd.ErrOrStderr(),
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger := log.WithComponent("cli")
	logger.Debug().
		Str("config", a.loader.Path()).
		Str("command", cmd.CommandPath()).
		Msg("configuration loaded")
	return nil
}

// newExecutor builds the bridge and the execution facade and routes FFmpeg
// diagnostics into the log.
func (a *app) newExecutor() *ffmpeg.Executor {
	b := bridge.New(bridge.Config{
		FFmpegBin:  a.cfg.FFmpeg.Bin,
		FFprobeBin: a.cfg.FFmpeg.FFprobeBin,
		KillGrace:  a.cfg.FFmpeg.KillGrace,
	})
	bridge.SetPrintHandler(ffmpeg.ZerologPrintHandler(log.WithComponent("ffmpeg")))
	return ffmpeg.NewExecutor(b, ffmpeg.Config{
		MaxConcurrent: a.cfg.Exec.MaxConcurrent,
		StartTimeout:  a.cfg.FFmpeg.StartTimeout,
		StallTimeout:  a.cfg.FFmpeg.StallTimeout,
	})
}

// startTelemetry installs the tracer provider and returns its shutdown.
func (a *app) startTelemetry(ctx context.Context) (func(), error) {
	p, err := telemetry.NewProvider(ctx, a.cfg.TelemetryProvider(version.Version))
	if err != nil {
		return nil, fmt.Errorf("start telemetry: %w", err)
	}
	return func() {
		if err := p.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger := log.WithComponent("telemetry")
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}, nil
}

// interruptSignal returns a signal aborted with errInterrupted once ctx ends,
// and a func releasing the watch on ctx.
func interruptSignal(ctx context.Context) (*abort.Signal, func() bool) {
	ctl := abort.NewController()
	stop := context.AfterFunc(ctx, func() { ctl.Abort(errInterrupted) })
	return ctl.Signal(), stop
}
