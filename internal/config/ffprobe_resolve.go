// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveFFprobeBin returns the ffprobe binary to use.
//
// Resolution order:
// 1) explicit ffprobeBin
// 2) the ffprobe next to a concrete ffmpegBin path (.../ffmpeg -> .../ffprobe)
// 3) ffprobe found on PATH
// 4) the bare name "ffprobe"
func ResolveFFprobeBin(ffprobeBin, ffmpegBin string) string {
	return resolveFFprobeBin(ffprobeBin, ffmpegBin, os.Stat, exec.LookPath)
}

func resolveFFprobeBin(ffprobeBin, ffmpegBin string, stat func(string) (os.FileInfo, error), lookPath func(string) (string, error)) string {
	if s := strings.TrimSpace(ffprobeBin); s != "" {
		return s
	}

	ffmpegBin = strings.TrimSpace(ffmpegBin)
	// A bare "ffmpeg" comes from PATH; there is no directory to derive from.
	if strings.ContainsRune(ffmpegBin, filepath.Separator) {
		base := filepath.Base(ffmpegBin)
		if name, ok := strings.CutPrefix(base, "ffmpeg"); ok {
			candidate := filepath.Join(filepath.Dir(ffmpegBin), "ffprobe"+name)
			if fi, err := stat(candidate); err == nil && !fi.IsDir() {
				return candidate
			}
		}
	}

	if p, err := lookPath("ffprobe"); err == nil {
		return p
	}
	return "ffprobe"
}
