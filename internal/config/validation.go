// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/player"
	"github.com/ManuGH/ffav/internal/telemetry"
	"github.com/ManuGH/ffav/internal/validate"
)

// Validate checks every section and reports all failures at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("ffmpeg.bin", cfg.FFmpeg.Bin)
	if cfg.FFmpeg.KillGrace < 0 || cfg.FFmpeg.KillGrace > time.Minute {
		v.AddError("ffmpeg.kill_grace", "must be between 0 and 1m", cfg.FFmpeg.KillGrace)
	}
	// Zero and negative watchdog timeouts both mean disabled.

	v.Range("exec.max_concurrent", cfg.Exec.MaxConcurrent, 0, 256)

	// A zero player volume means full volume, so a muted default is rejected.
	if cfg.Player.DefaultVolume <= player.MinVolume || cfg.Player.DefaultVolume > player.MaxVolume {
		v.AddError("player.default_volume", "must be in (0, 1]", cfg.Player.DefaultVolume)
	}
	v.FloatRange("player.default_speed", cfg.Player.DefaultSpeed, player.MinSpeed, player.MaxSpeed)
	v.PositiveDuration("player.position_interval", cfg.Player.PositionInterval)
	v.Range("player.sample_rate", cfg.Player.SampleRate, 8000, 192000)
	v.Range("player.channels", cfg.Player.Channels, 1, 8)

	v.ListenAddr("api.listen_addr", cfg.API.ListenAddr)
	v.NonNegative("api.rate_limit", cfg.API.RateLimit)
	if cfg.API.RateLimit > 0 {
		v.PositiveDuration("api.rate_window", cfg.API.RateWindow)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{telemetry.ExporterGRPC, telemetry.ExporterHTTP})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}
	v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		v.AddError("log_level", "unknown log level", cfg.LogLevel)
	}

	return v.Err()
}
