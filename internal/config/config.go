// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the ffav configuration with precedence
// ENV > file > defaults and supports hot reload of the file.
package config

import (
	"time"

	"github.com/ManuGH/ffav/internal/telemetry"
)

// AppConfig is the complete, validated configuration.
type AppConfig struct {
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Exec      ExecConfig      `yaml:"exec"`
	Player    PlayerConfig    `yaml:"player"`
	API       APIConfig       `yaml:"api"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`
}

// FFmpegConfig locates the binaries and tunes process supervision.
type FFmpegConfig struct {
	Bin        string `yaml:"bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`
	// KillGrace is the wait between SIGTERM and SIGKILL on cancel.
	KillGrace    time.Duration `yaml:"kill_grace"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

type ExecConfig struct {
	// MaxConcurrent bounds simultaneous processes; zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
}

type PlayerConfig struct {
	DefaultVolume    float64       `yaml:"default_volume"`
	DefaultSpeed     float64       `yaml:"default_speed"`
	PositionInterval time.Duration `yaml:"position_interval"`
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// RateLimit is the number of execution submissions allowed per
	// RateWindow and client; zero disables limiting.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type HistoryConfig struct {
	// Path of the SQLite database; empty disables the history.
	Path string `yaml:"path"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	return AppConfig{
		FFmpeg: FFmpegConfig{
			Bin:       "ffmpeg",
			KillGrace: 2 * time.Second,
		},
		Exec: ExecConfig{MaxConcurrent: 4},
		Player: PlayerConfig{
			DefaultVolume:    1,
			DefaultSpeed:     1,
			PositionInterval: 250 * time.Millisecond,
			SampleRate:       44100,
			Channels:         2,
		},
		API: APIConfig{
			ListenAddr: ":8088",
			RateLimit:  30,
			RateWindow: time.Minute,
		},
		History: HistoryConfig{Path: "ffav-history.db"},
		Telemetry: TelemetryConfig{
			Exporter:     telemetry.ExporterGRPC,
			Endpoint:     "localhost:4317",
			SamplingRate: 1,
		},
		LogLevel:   "info",
		LogService: "ffav",
	}
}

// TelemetryProvider maps the telemetry section onto the provider config.
func (c AppConfig) TelemetryProvider(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.LogService,
		ServiceVersion: version,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}
