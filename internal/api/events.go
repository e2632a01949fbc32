// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/history"
	"github.com/ManuGH/ffav/internal/log"
)

// Event types streamed for an execution.
const (
	EventLog      = "log"
	EventProgress = "progress"
	EventOutput   = "output"
	EventDone     = "done"
)

// Event is one bus message of an execution. The final event of every
// execution has type "done".
type Event struct {
	Type    string        `json:"type"`
	Level   string        `json:"level,omitempty"`
	Message string        `json:"message,omitempty"`
	State   history.State `json:"state,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// Topic is the bus topic carrying the events of execution id.
func Topic(id int64) string {
	return "exec." + strconv.FormatInt(id, 10)
}

func doneEvent(err error) Event {
	ev := Event{Type: EventDone, State: history.StateFor(err)}
	if err != nil {
		ev.Error = err.Error()
		ev.Code = string(ffmpeg.CodeOf(err))
	}
	return ev
}

func recordDoneEvent(rec *history.Record) Event {
	return Event{Type: EventDone, State: rec.State, Error: rec.Error, Code: rec.Code}
}

// handleEvents streams the events of a running execution as server-sent
// events. A finished execution gets its final "done" event only.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	// Subscribe before checking the state so the final event cannot slip
	// between the two.
	sub, err := s.bus.Subscribe(r.Context(), Topic(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	defer func() { _ = sub.Close() }()

	rec, err := s.lookup(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, id, err)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if rec.State != history.StateRunning {
		_ = writeSSE(w, recordDoneEvent(rec))
		_ = rc.Flush()
		return
	}
	_ = rc.Flush()

	logger := log.WithComponentFromContext(r.Context(), "api").With().Int64(log.FieldExecutionID, id).Logger()
	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			ev, ok := msg.(Event)
			if !ok {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				logger.Debug().Err(err).Msg("event stream closed")
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if ev.Type == EventDone {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
