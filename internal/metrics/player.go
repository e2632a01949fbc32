// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prepare outcomes.
const (
	PrepareReady   = "ready"
	PrepareFailed  = "failed"
	PrepareAborted = "aborted"
)

// Player error stages.
const (
	StagePrepare  = "prepare"
	StagePlayback = "playback"
)

var (
	PlayerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_player_events_total",
		Help: "Player change notifications by event and delivery (delivered|unsubscribed)",
	}, []string{"event", "delivery"})

	PlayerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_player_errors_total",
		Help: "Playback errors reported by the engine by stage (prepare|playback)",
	}, []string{"stage"})

	PlayerPrepareSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffav_player_prepare_seconds",
		Help:    "Time from opening a source until it was ready, failed or released",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
	}, []string{"outcome"})

	PlayerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ffav_player_active",
		Help: "Number of open player instances",
	})
)

// IncPlayerEvent records one notification dispatch.
func IncPlayerEvent(event string, delivered bool) {
	delivery := "delivered"
	if !delivered {
		delivery = "unsubscribed"
	}
	PlayerEventsTotal.WithLabelValues(event, delivery).Inc()
}

// IncPlayerError records an engine error; unknown stages are folded.
func IncPlayerError(stage string) {
	PlayerErrorsTotal.WithLabelValues(normalizeLabel(stage, StagePrepare, StagePlayback)).Inc()
}

// ObservePlayerPrepare records how long a source took to settle.
func ObservePlayerPrepare(outcome string, seconds float64) {
	PlayerPrepareSeconds.
		WithLabelValues(normalizeLabel(outcome, PrepareReady, PrepareFailed, PrepareAborted)).
		Observe(seconds)
}

// normalizeLabel keeps label cardinality bounded to the allowed values.
func normalizeLabel(v string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "unknown"
}
