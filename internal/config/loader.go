// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/ffav/internal/log"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	// ConsumedEnvKeys records every environment key Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader returns a loader for configPath; an empty path skips the file.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path is the config file the loader reads, if any.
func (l *Loader) Path() string {
	return l.configPath
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load builds the configuration: defaults, then the strict YAML file, then
// FFAV_* environment overrides, then ffprobe resolution and validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.ConsumedEnvKeys[EnvConfigPath] = struct{}{}
	if unknown := unknownEnvKeys(os.Environ(), l.ConsumedEnvKeys); len(unknown) > 0 {
		logger := log.WithComponent("config")
		logger.Warn().
			Strs("keys", unknown).
			Msg("ignoring unknown FFAV_ environment variables")
	}

	cfg.FFmpeg.FFprobeBin = ResolveFFprobeBin(cfg.FFmpeg.FFprobeBin, cfg.FFmpeg.Bin)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys and trailing documents are
// rejected; an empty file leaves cfg untouched.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %q (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- the config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.FFmpeg.Bin = l.envString("FFAV_FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = l.envString("FFAV_FFPROBE_BIN", cfg.FFmpeg.FFprobeBin)
	cfg.FFmpeg.KillGrace = l.envDuration("FFAV_FFMPEG_KILL_GRACE", cfg.FFmpeg.KillGrace)
	cfg.FFmpeg.StartTimeout = l.envDuration("FFAV_FFMPEG_START_TIMEOUT", cfg.FFmpeg.StartTimeout)
	cfg.FFmpeg.StallTimeout = l.envDuration("FFAV_FFMPEG_STALL_TIMEOUT", cfg.FFmpeg.StallTimeout)

	cfg.Exec.MaxConcurrent = l.envInt("FFAV_EXEC_MAX_CONCURRENT", cfg.Exec.MaxConcurrent)

	cfg.Player.DefaultVolume = l.envFloat("FFAV_PLAYER_VOLUME", cfg.Player.DefaultVolume)
	cfg.Player.DefaultSpeed = l.envFloat("FFAV_PLAYER_SPEED", cfg.Player.DefaultSpeed)
	cfg.Player.PositionInterval = l.envDuration("FFAV_PLAYER_POSITION_INTERVAL", cfg.Player.PositionInterval)
	cfg.Player.SampleRate = l.envInt("FFAV_PLAYER_SAMPLE_RATE", cfg.Player.SampleRate)
	cfg.Player.Channels = l.envInt("FFAV_PLAYER_CHANNELS", cfg.Player.Channels)

	cfg.API.ListenAddr = l.envString("FFAV_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt("FFAV_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.RateWindow = l.envDuration("FFAV_RATE_WINDOW", cfg.API.RateWindow)

	cfg.History.Path = l.envString("FFAV_HISTORY_PATH", cfg.History.Path)

	cfg.Telemetry.Enabled = l.envBool("FFAV_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("FFAV_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("FFAV_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("FFAV_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.LogLevel = l.envString("FFAV_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("FFAV_LOG_SERVICE", cfg.LogService)
}
