// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrCancelRequested is the abort reason of executions cancelled over HTTP.
	ErrCancelRequested = errors.New("cancelled by client")
	// ErrShuttingDown is the abort reason of executions still running at Close.
	ErrShuttingDown = errors.New("server shutting down")
)

// Error codes of the JSON error body.
const (
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeConflict       = "execution_id_in_use"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal_error"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}
