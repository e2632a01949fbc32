// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestExecAttributes(t *testing.T) {
	m := attrMap(ExecAttributes(7, "ffprobe", 5))
	assert.Equal(t, int64(7), m[ExecIDKey].AsInt64())
	assert.Equal(t, "ffprobe", m[ExecToolKey].AsString())
	assert.Equal(t, int64(5), m[ExecArgCountKey].AsInt64())
}

func TestExecResultAttributes(t *testing.T) {
	assert.Len(t, ExecResultAttributes(0, ""), 1)

	m := attrMap(ExecResultAttributes(255, "FF_CANCELLED_ERR"))
	assert.Equal(t, int64(255), m[ExecStatusKey].AsInt64())
	assert.Equal(t, "FF_CANCELLED_ERR", m[ExecCodeKey].AsString())
}

func TestPlayerAttributes(t *testing.T) {
	tests := []struct {
		name    string
		id, url string
		start   int64
		wantLen int
	}{
		{"all fields", "p1", "a.mp3", 5000, 3},
		{"only url", "", "a.mp3", 0, 1},
		{"empty", "", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, PlayerAttributes(tt.id, tt.url, tt.start), tt.wantLen)
		})
	}
}

func TestErrorAttributes(t *testing.T) {
	m := attrMap(ErrorAttributes("stalled"))
	assert.True(t, m[ErrorKey].AsBool())
	assert.Equal(t, "stalled", m[ErrorTypeKey].AsString())
}
