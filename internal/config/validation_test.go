// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ffav/internal/validate"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Defaults()
	cfg.FFmpeg.Bin = ""
	cfg.Exec.MaxConcurrent = -1
	cfg.Player.DefaultVolume = 0
	cfg.Player.Channels = 0
	cfg.API.ListenAddr = "nowhere"
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "zipkin"
	cfg.LogLevel = "chatty"

	err := Validate(cfg)
	require.Error(t, err)
	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))

	var fields []string
	for _, e := range ve.Errors() {
		fields = append(fields, e.Field)
	}
	want := []string{
		"ffmpeg.bin",
		"exec.max_concurrent",
		"player.default_volume",
		"player.channels",
		"api.listen_addr",
		"telemetry.exporter",
		"log_level",
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("invalid fields mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_RateWindowOnlyWithLimit(t *testing.T) {
	cfg := Defaults()
	cfg.API.RateLimit = 0
	cfg.API.RateWindow = 0
	assert.NoError(t, Validate(cfg))

	cfg.API.RateLimit = 5
	assert.Error(t, Validate(cfg))
}

func TestWriteFile_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffav.yaml")
	cfg := Defaults()
	cfg.FFmpeg.FFprobeBin = "/opt/ffprobe"
	cfg.Player.DefaultSpeed = 2
	cfg.Telemetry.Endpoint = "collector:4318"

	require.NoError(t, WriteFile(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := NewLoader(path).Load()
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshal_UsesDurationStrings(t *testing.T) {
	data, err := Marshal(Defaults())
	require.NoError(t, err)
	assert.Contains(t, string(data), "kill_grace: 2s")
	assert.Contains(t, string(data), "position_interval: 250ms")
}
