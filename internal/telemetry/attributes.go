// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Execution attributes
	ExecIDKey       = "ffav.exec.id"
	ExecToolKey     = "ffav.exec.tool"
	ExecArgCountKey = "ffav.exec.arg_count"
	ExecStatusKey   = "ffav.exec.status"
	ExecCodeKey     = "ffav.exec.code"

	// Player attributes
	PlayerIDKey       = "ffav.player.id"
	PlayerURLKey      = "ffav.player.url"
	PlayerStartMsKey  = "ffav.player.start_ms"
	PlayerDurationKey = "ffav.player.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ExecAttributes creates execution span attributes.
func ExecAttributes(id int64, tool string, argCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(ExecIDKey, id),
		attribute.String(ExecToolKey, tool),
		attribute.Int(ExecArgCountKey, argCount),
	}
}

// ExecResultAttributes describes the terminal outcome of an execution.
func ExecResultAttributes(status int, code string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int(ExecStatusKey, status)}
	if code != "" {
		attrs = append(attrs, attribute.String(ExecCodeKey, code))
	}
	return attrs
}

// PlayerAttributes creates player-session span attributes; empty values are omitted.
func PlayerAttributes(playerID, url string, startMs int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if playerID != "" {
		attrs = append(attrs, attribute.String(PlayerIDKey, playerID))
	}
	if url != "" {
		attrs = append(attrs, attribute.String(PlayerURLKey, url))
	}
	if startMs > 0 {
		attrs = append(attrs, attribute.Int64(PlayerStartMsKey, startMs))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
