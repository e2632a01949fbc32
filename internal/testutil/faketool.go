// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testutil holds helpers shared by package tests: shell fakes for
// ffmpeg/ffprobe and metric readers.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// CancellableBody is a fake tool body that logs "running" and then loops
// until SIGTERM, exiting 255 like ffmpeg does on a signal.
const CancellableBody = `trap 'exit 255' TERM
echo "[info] running" >&2
while :; do sleep 0.05; done`

// RequireShell skips the test when no POSIX shell is available.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// FakeTool writes an executable shell script named name into a fresh temp
// dir and returns its path.
func FakeTool(t *testing.T, name, body string) string {
	t.Helper()
	RequireShell(t)
	path := filepath.Join(t.TempDir(), name)
	// #nosec G306 -- test fixture must be executable
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}
