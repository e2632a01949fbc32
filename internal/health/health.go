// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health provides liveness and readiness reports with per-component
// checks for the HTTP surface.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"time"

	"github.com/ManuGH/ffav/internal/log"
)

// Status is the health of one component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 2 * time.Second

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the body of /healthz and /readyz.
type Report struct {
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type funcChecker struct {
	name string
	fn   func(context.Context) CheckResult
}

func (c funcChecker) Name() string                          { return c.name }
func (c funcChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// Func adapts fn to a Checker.
func Func(name string, fn func(context.Context) CheckResult) Checker {
	return funcChecker{name: name, fn: fn}
}

// Manager runs the registered checks. Register before serving.
type Manager struct {
	version  string
	checkers []Checker
	timeout  time.Duration
	now      func() time.Time
}

func NewManager(version string) *Manager {
	return &Manager{version: version, timeout: DefaultCheckTimeout, now: time.Now}
}

// Register adds checkers in report order.
func (m *Manager) Register(checkers ...Checker) {
	m.checkers = append(m.checkers, checkers...)
}

// Evaluate runs every check. Any unhealthy component makes the process not
// ready; degraded components only lower the status.
func (m *Manager) Evaluate(ctx context.Context) Report {
	rep := Report{Status: StatusHealthy, Ready: true, Version: m.version, Timestamp: m.now().UTC()}
	if len(m.checkers) == 0 {
		return rep
	}
	rep.Checks = make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		res := c.Check(cctx)
		cancel()
		rep.Checks[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			rep.Status = StatusUnhealthy
			rep.Ready = false
		case StatusDegraded:
			if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		}
	}
	return rep
}

// ServeHealth is the liveness probe: always 200, with component checks only
// for ?verbose=true.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	rep := Report{Status: StatusHealthy, Ready: true, Version: m.version, Timestamp: m.now().UTC()}
	if r.URL.Query().Get("verbose") == "true" {
		rep = m.Evaluate(r.Context())
	}
	m.write(w, r, http.StatusOK, rep)
}

// ServeReady is the readiness probe: 503 while any component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	rep := m.Evaluate(r.Context())
	status := http.StatusOK
	if !rep.Ready {
		status = http.StatusServiceUnavailable
	}
	m.write(w, r, status, rep)
}

func (m *Manager) write(w http.ResponseWriter, r *http.Request, status int, rep Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "health")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "health.encode_error").
			Msg("failed to encode health report")
	}
}

// BinaryChecker reports whether an executable can be resolved. A missing
// optional binary only degrades the report.
func BinaryChecker(name, bin string, required bool) Checker {
	return Func(name, func(context.Context) CheckResult {
		path, err := exec.LookPath(bin)
		if err != nil {
			status := StatusDegraded
			if required {
				status = StatusUnhealthy
			}
			return CheckResult{Status: status, Error: err.Error(), Message: bin}
		}
		return CheckResult{Status: StatusHealthy, Message: path}
	})
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports p unhealthy when Ping fails.
func PingChecker(name string, p Pinger) Checker {
	return Func(name, func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	})
}
