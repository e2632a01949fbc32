// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/config"
	"github.com/ManuGH/ffav/internal/log"
)

// PerformStartupChecks validates the environment before the API starts. A
// missing ffmpeg or an unwritable history directory is fatal; a missing
// ffprobe only disables probing and is logged.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	path, err := exec.LookPath(cfg.FFmpeg.Bin)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", cfg.FFmpeg.Bin, err)
	}
	logger.Debug().Str("ffmpeg", path).Msg("ffmpeg binary available")

	if path, err := exec.LookPath(cfg.FFmpeg.FFprobeBin); err != nil {
		logger.Warn().Err(err).Str("ffprobe", cfg.FFmpeg.FFprobeBin).Msg("ffprobe not found; ffprobe executions will fail")
	} else {
		logger.Debug().Str("ffprobe", path).Msg("ffprobe binary available")
	}

	if cfg.History.Path != "" {
		if err := checkWritableDir(logger, filepath.Dir(cfg.History.Path)); err != nil {
			return fmt.Errorf("history directory: %w", err)
		}
	}
	return nil
}

func checkWritableDir(logger zerolog.Logger, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	f, err := os.CreateTemp(dir, ".ffav-write-test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	logger.Debug().Str(log.FieldPath, dir).Msg("history directory is writable")
	return nil
}
