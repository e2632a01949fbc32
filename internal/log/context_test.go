// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/assert"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutionIDFromContext(t *testing.T) {
	_, ok := ExecutionIDFromContext(context.Background())
	assert.False(t, ok)

	//nolint:staticcheck // nil context is part of the contract
	_, ok = ExecutionIDFromContext(nil)
	assert.False(t, ok)

	ctx := ContextWithExecutionID(context.Background(), 42)
	id, ok := ExecutionIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestWithContext_AddsFields(t *testing.T) {
	buf := captureBase(t, "debug")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithExecutionID(ctx, 7)
	ctx = trace.ContextWithSpanContext(ctx, sc)

	l := WithComponentFromContext(ctx, "ffmpeg")
	l.Info().Msg("with context")

	entry := decodeLine(t, buf)
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, float64(7), entry[FieldExecutionID])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry[FieldTraceID])
	assert.Equal(t, "00f067aa0ba902b7", entry[FieldSpanID])
	assert.Equal(t, "ffmpeg", entry[FieldComponent])
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	buf := captureBase(t, "debug")

	l := WithTraceContext(context.Background())
	l.Info().Msg("plain")

	entry := decodeLine(t, buf)
	_, has := entry[FieldTraceID]
	assert.False(t, has)
}
