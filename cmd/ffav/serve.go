// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/ffav/internal/api"
	"github.com/ManuGH/ffav/internal/config"
	"github.com/ManuGH/ffav/internal/health"
	"github.com/ManuGH/ffav/internal/history"
	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/version"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution API",
		Long: "Serve the HTTP execution API with history, event streams and metrics. " +
			"The config file is watched; log_level changes apply immediately, other changes on restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := health.PerformStartupChecks(a.cfg); err != nil {
				return fmt.Errorf("startup checks: %w", err)
			}
			ln, err := net.Listen("tcp", a.cfg.API.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", a.cfg.API.ListenAddr, err)
			}
			return a.serve(cmd.Context(), ln)
		},
	}
}

// serve runs the API on ln until ctx ends, then drains running executions.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	logger := log.WithComponent("serve")

	shutdownTelemetry, err := a.startTelemetry(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer shutdownTelemetry()

	checks := []health.Checker{
		health.BinaryChecker("ffmpeg", a.cfg.FFmpeg.Bin, true),
		health.BinaryChecker("ffprobe", a.cfg.FFmpeg.FFprobeBin, false),
	}
	// A typed nil would defeat the server's nil check.
	var hist api.History
	if path := a.cfg.History.Path; path != "" {
		store, err := history.Open(ctx, path)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("open history: %w", err)
		}
		defer func() { _ = store.Close() }()
		n, err := store.AbandonRunning(ctx)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("recover history: %w", err)
		}
		if n > 0 {
			logger.Warn().Int64("count", n).Msg("executions of a previous run marked cancelled")
		}
		hist = store
		checks = append(checks, health.PingChecker("history", store))
	}

	tracing := ""
	if a.cfg.Telemetry.Enabled {
		tracing = a.cfg.LogService
	}
	srv := api.New(a.newExecutor(), hist, nil, api.Config{
		RateLimit:      a.cfg.API.RateLimit,
		RateWindow:     a.cfg.API.RateWindow,
		TracingService: tracing,
		Version:        version.Version,
		Checks:         checks,
	})
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	holder := config.NewHolder(a.cfg, a.loader)
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Str("version", version.Version).Msg("execution API listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return holder.Watch(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case cfg := <-reloads:
				a.applyReload(cfg)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info().Int("running", srv.Running()).Msg("shutting down")
		if err := srv.Close(sctx); err != nil {
			logger.Warn().Err(err).Msg("running executions did not finish in time")
		}
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

// applyReload applies the settings that can change at runtime. A --log-level
// flag keeps precedence over the file.
func (a *app) applyReload(cfg config.AppConfig) {
	logger := log.WithComponent("serve")
	if a.logLevel != "" || cfg.LogLevel == a.cfg.LogLevel {
		return
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring reloaded log level")
		return
	}
	logger.Info().Str("level", cfg.LogLevel).Msg("log level changed")
	a.cfg.LogLevel = cfg.LogLevel
}
