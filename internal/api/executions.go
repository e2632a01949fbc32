// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/bridge"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/history"
	"github.com/ManuGH/ffav/internal/log"
	"github.com/ManuGH/ffav/internal/validate"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 500
	// doneTimeout bounds how long a finished execution waits for slow event
	// subscribers to take the final message.
	doneTimeout = 2 * time.Second
)

type createRequest struct {
	Commands    []string `json:"commands"`
	ExecutionID int64    `json:"execution_id,omitempty"`
}

type createResponse struct {
	ID    int64         `json:"id"`
	State history.State `json:"state"`
}

func (req createRequest) validate() error {
	v := validate.New()
	if len(req.Commands) == 0 {
		v.AddError("commands", "at least the tool name is required", req.Commands)
	} else {
		v.OneOf("commands[0]", req.Commands[0], []string{bridge.ToolFFmpeg, bridge.ToolFFprobe})
	}
	if req.ExecutionID < 0 {
		v.AddError("execution_id", "must not be negative", req.ExecutionID)
	}
	return v.Err()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	j, status, err := s.admit(req)
	if err != nil {
		code := codeConflict
		if status == http.StatusServiceUnavailable {
			code = codeUnavailable
		}
		writeError(w, status, code, err.Error())
		return
	}
	id := j.rec.ID

	if s.hist != nil {
		if err := s.hist.Start(r.Context(), id, req.Commands); err != nil {
			s.forget(id)
			s.wg.Done()
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().Err(err).Int64(log.FieldExecutionID, id).Msg("record execution start")
			writeError(w, http.StatusInternalServerError, codeInternal, "could not record execution")
			return
		}
	}

	// The execution outlives the request but keeps its request id and trace.
	ctx := log.ContextWithExecutionID(context.WithoutCancel(r.Context()), id)
	go s.run(ctx, j)

	w.Header().Set("Location", "/api/v1/executions/"+strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusAccepted, createResponse{ID: id, State: history.StateRunning})
}

// admit reserves an id and registers the job. It returns the HTTP status to
// answer with when the submission is refused.
func (s *Server) admit(req createRequest) (*job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, http.StatusServiceUnavailable, ErrShuttingDown
	}
	id := req.ExecutionID
	if id == 0 {
		for {
			s.nextID++
			if _, busy := s.jobs[s.nextID]; !busy {
				id = s.nextID
				break
			}
		}
	} else if _, busy := s.jobs[id]; busy {
		return nil, http.StatusConflict, fmt.Errorf("execution %d is running", id)
	}

	j := &job{
		rec: history.Record{
			ID:        id,
			Commands:  slices.Clone(req.Commands),
			Tool:      req.Commands[0],
			State:     history.StateRunning,
			StartedAt: time.Now().UTC(),
		},
		ctl: abort.NewController(),
	}
	s.jobs[id] = j
	s.wg.Add(1)
	return j, 0, nil
}

func (s *Server) forget(id int64) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *Server) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	id := j.rec.ID
	topic := Topic(id)

	err := s.exec.Execute(ctx, j.rec.Commands, ffmpeg.Options{
		ExecutionID: id,
		Signal:      j.ctl.Signal(),
		LogCallback: func(level int, msg string) {
			s.bus.TryPublish(topic, Event{Type: EventLog, Level: ffmpeg.LogLevel(level).String(), Message: msg})
		},
		ProgressCallback: func(msg string) {
			s.bus.TryPublish(topic, Event{Type: EventProgress, Message: msg})
		},
		OutputCallback: func(msg string) {
			s.bus.TryPublish(topic, Event{Type: EventOutput, Message: msg})
		},
	})

	if s.hist != nil {
		if ferr := s.hist.Finish(context.WithoutCancel(ctx), id, err); ferr != nil {
			logger := log.WithComponentFromContext(ctx, "api")
			logger.Error().Err(ferr).Msg("record execution result")
		}
	}
	s.forget(id)

	done := doneEvent(err)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), doneTimeout)
	defer cancel()
	_ = s.bus.Publish(pctx, topic, done)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := s.lookup(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// lookup prefers the live record, which is fresher than the history row.
func (s *Server) lookup(ctx context.Context, id int64) (*history.Record, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	var rec history.Record
	if ok {
		rec = j.rec
	}
	s.mu.Unlock()
	if ok {
		return &rec, nil
	}
	if s.hist == nil {
		return nil, history.ErrNotFound
	}
	return s.hist.Get(ctx, id)
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("execution %d not found", id))
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Error().Err(err).Int64(log.FieldExecutionID, id).Msg("lookup execution")
	writeError(w, http.StatusInternalServerError, codeInternal, "could not read execution")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}

	if s.hist == nil {
		writeJSON(w, http.StatusOK, s.live(limit))
		return
	}
	recs, err := s.hist.List(r.Context(), limit)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("list executions")
		writeError(w, http.StatusInternalServerError, codeInternal, "could not list executions")
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// live lists the running executions, newest first.
func (s *Server) live(limit int) []history.Record {
	s.mu.Lock()
	recs := make([]history.Record, 0, len(s.jobs))
	for _, j := range s.jobs {
		recs = append(recs, j.rec)
	}
	s.mu.Unlock()
	slices.SortFunc(recs, func(a, b history.Record) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// handleCancel aborts an execution submitted here and forwards the id to the
// facade in any case. Unknown ids are not an error.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	j := s.jobs[id]
	s.mu.Unlock()
	if j != nil {
		j.ctl.Abort(ErrCancelRequested)
	}
	s.exec.Cancel(id)
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Int64(log.FieldExecutionID, id).
		Bool("tracked", j != nil).
		Msg("cancel requested")
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "execution id must be a positive integer")
		return 0, false
	}
	return id, true
}
