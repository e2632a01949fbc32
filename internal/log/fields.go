// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldExecutionID = "execution_id"
	FieldPlayerID    = "player_id"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTool      = "tool"
	FieldStatus    = "status"
	FieldPID       = "pid"
	FieldArgs      = "args"

	// Media fields
	FieldURL      = "url"
	FieldLevel    = "ff_level"
	FieldPosition = "position_ms"
	FieldDuration = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Path fields
	FieldPath = "path"
)
