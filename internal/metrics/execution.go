// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecStartTotal counts process starts per tool and result (ok|error|skipped).
	ExecStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_exec_start_total",
		Help: "Total number of ffmpeg/ffprobe process starts",
	}, []string{"tool", "result"})

	// ExecOutcomeTotal counts terminal outcomes (succeeded|failed|cancelled|stalled|invalid).
	ExecOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_exec_outcome_total",
		Help: "Total number of executions by tool and terminal outcome",
	}, []string{"tool", "outcome"})

	ExecDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffav_exec_duration_seconds",
		Help:    "Wall time of ffmpeg/ffprobe executions",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 14), // 10ms to ~80s
	}, []string{"tool"})

	ExecActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ffav_exec_active",
		Help: "Number of executions currently registered with the bridge",
	})

	ExecCancelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_exec_cancel_total",
		Help: "Cancel requests by result (applied|unknown_id)",
	}, []string{"result"})

	ExecCallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_exec_callback_total",
		Help: "Callback invocations by kind (log|progress|output)",
	}, []string{"kind"})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_proc_terminate_total",
		Help: "Signals sent to process groups by signal and result",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_proc_wait_total",
		Help: "Process wait results after termination",
	}, []string{"result"})
)

// IncExecOutcome records a terminal execution outcome.
func IncExecOutcome(tool, outcome string) {
	if tool == "" {
		tool = "unknown"
	}
	ExecOutcomeTotal.WithLabelValues(tool, outcome).Inc()
}

// IncProcTerminate records a termination signal sent to a process group.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(result string) {
	procWaitTotal.WithLabelValues(result).Inc()
}
