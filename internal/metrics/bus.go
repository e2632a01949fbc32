// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffav_bus_drop_total",
		Help: "Total number of in-memory bus message drops by topic kind and reason",
	}, []string{"topic", "reason"})
)

// IncBusDrop records a dropped bus message. Topics are collapsed to their
// kind prefix to keep label cardinality bounded.
func IncBusDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDropsTotal.WithLabelValues(topic, reason).Inc()
}
