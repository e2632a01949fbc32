// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())
	// Give the shell time to spawn its children.
	time.Sleep(100 * time.Millisecond)
	return cmd
}

func waitChan(cmd *exec.Cmd) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- cmd.Wait() }()
	return ch
}

func TestKill_ReachesWholeGroup(t *testing.T) {
	cmd := startGroup(t, "sleep 10 & sleep 10")
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should lead its own group")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = cmd.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected signal exit, got %v", err)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, status.Signaled())
	assert.Equal(t, syscall.SIGKILL, status.Signal())

	time.Sleep(50 * time.Millisecond)
	err = syscall.Kill(-pgid, syscall.Signal(0))
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
	assert.ErrorIs(t, err, syscall.ESRCH, "process group should be gone")
}

func TestKill_NilAndUnstarted(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(exec.Command("true"), syscall.SIGTERM))
}

func TestTerminate_GracefulExit(t *testing.T) {
	cmd := startGroup(t, "trap 'exit 255' TERM; while :; do sleep 0.05; done")
	waitCh := waitChan(cmd)

	start := time.Now()
	err := Terminate(cmd, waitCh, 5*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second, "SIGTERM should be honoured before grace")

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 255, exitErr.ExitCode())
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd := startGroup(t, "trap '' TERM; while :; do sleep 0.05; done")
	waitCh := waitChan(cmd)

	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected forced exit, got %v", err)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestTerminate_NilCommand(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}
