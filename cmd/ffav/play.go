// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/ffav/internal/player"
	"github.com/ManuGH/ffav/internal/player/ffengine"
)

type playOptions struct {
	startMs int64
	volume  float64
	speed   float64
	out     string
}

func newPlayCmd(a *app) *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play <url>",
		Short: "Play a media source headlessly until it ends",
		Long: "Decode a media source in real time through the player, printing its events to stderr. " +
			"The s16le PCM output is written to --out or discarded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if !f.Changed("volume") {
				opts.volume = a.cfg.Player.DefaultVolume
			}
			if !f.Changed("speed") {
				opts.speed = a.cfg.Player.DefaultSpeed
			}
			return a.runPlay(cmd.Context(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	cmd.Flags().Int64Var(&opts.startMs, "start", 0, "start position in milliseconds")
	cmd.Flags().Float64Var(&opts.volume, "volume", 1, "volume in [0,1]")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "playback speed in [0.25,4]")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the decoded PCM to this file")
	return cmd
}

func (a *app) runPlay(ctx context.Context, stderr io.Writer, url string, opts playOptions) error {
	shutdown, err := a.startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	var renderer io.Writer = io.Discard
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		renderer = f
	}

	eng := ffengine.New(a.newExecutor(), renderer, ffengine.Config{
		SampleRate:       a.cfg.Player.SampleRate,
		Channels:         a.cfg.Player.Channels,
		PositionInterval: a.cfg.Player.PositionInterval,
	})
	p := player.New(eng, player.Config{Volume: &opts.volume, Speed: &opts.speed})
	defer func() { _ = p.Close() }()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	p.OnDurationChange(func(ms int64) {
		fmt.Fprintf(stderr, "duration %s\n", formatClock(time.Duration(ms)*time.Millisecond))
	})
	p.OnCurrentTimeChange(func(ms int64) {
		fmt.Fprintf(stderr, "\rposition %s", formatClock(time.Duration(ms)*time.Millisecond))
	})
	p.OnPlayWhenReadyChange(func(c player.PlayWhenReadyChange) {
		fmt.Fprintf(stderr, "\nplayWhenReady=%t reason=%s\n", c.PlayWhenReady, c.Reason)
		if !c.PlayWhenReady && c.Reason == player.ReasonPlaybackEnded {
			finish(nil)
		}
	})
	p.OnErrorChange(func(err error) {
		if err != nil {
			finish(err)
		}
	})

	if err := p.SetURL(url, player.URLOptions{StartTimePosition: opts.startMs}); err != nil {
		return err
	}
	if err := p.Play(); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = p.Pause()
		return ctx.Err()
	}
}
