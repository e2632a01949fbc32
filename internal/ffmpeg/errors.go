// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the stable identifier carried by every execution error.
type Code string

const (
	CodeInvalidCommand Code = "FF_INVALID_CMD_ERR"
	CodeCancelled      Code = "FF_CANCELLED_ERR"
	CodeGeneric        Code = "FF_GENERIC_ERR"
	CodeStalled        Code = "FF_STALLED_ERR"
)

var (
	// ErrInvalidCommand matches errors for unsupported tools and rejected ids.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrCancelled matches every cancelled execution, whatever its reason.
	ErrCancelled = errors.New("execution cancelled")
	// ErrExecution matches non-zero exits and spawn failures.
	ErrExecution = errors.New("execution failed")
	// ErrStalled matches executions stopped by the progress watchdog.
	ErrStalled = errors.New("execution stalled")
)

// Error is returned by Executor.Execute for every failure.
type Error struct {
	Code Code
	// Status is the bridge exit status; -1 when no process ran.
	Status int
	// Stderr holds the last diagnostic lines of a failed run.
	Stderr []string
	// Err is the cause: the abort reason for cancellations, the bridge or
	// watchdog error otherwise.
	Err error
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeCancelled:
		if e.Err != nil {
			return e.Err.Error()
		}
		return ErrCancelled.Error()
	case CodeGeneric:
		msg := fmt.Sprintf("%s: status %d", ErrExecution, e.Status)
		if n := len(e.Stderr); n > 0 {
			msg += ": " + strings.TrimSpace(e.Stderr[n-1])
		} else if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
		}
		return e.sentinel().Error()
	}
}

// Unwrap exposes both the code sentinel and the cause, so errors.Is matches
// ErrCancelled as well as the caller's abort reason.
func (e *Error) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) sentinel() error {
	switch e.Code {
	case CodeInvalidCommand:
		return ErrInvalidCommand
	case CodeCancelled:
		return ErrCancelled
	case CodeStalled:
		return ErrStalled
	default:
		return ErrExecution
	}
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func cancelledError(reason error) *Error {
	if reason == nil {
		reason = ErrCancelled
	}
	return &Error{Code: CodeCancelled, Status: 255, Err: reason}
}
