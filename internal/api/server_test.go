// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ffav/internal/api/middleware"
	"github.com/ManuGH/ffav/internal/bus"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/health"
	"github.com/ManuGH/ffav/internal/history"
)

// fakeExec emits one log line and one progress report once gate opens, then
// returns result. An abort before that ends the run as cancelled.
type fakeExec struct {
	gate   chan struct{}
	result error

	mu        sync.Mutex
	cancelled []int64
}

func newFakeExec() *fakeExec {
	return &fakeExec{gate: make(chan struct{})}
}

func (f *fakeExec) open() { close(f.gate) }

func (f *fakeExec) Execute(_ context.Context, _ []string, opts ffmpeg.Options) error {
	select {
	case <-f.gate:
	case <-opts.Signal.Done():
		return &ffmpeg.Error{Code: ffmpeg.CodeCancelled, Status: 255, Err: opts.Signal.Reason()}
	}
	opts.LogCallback(int(ffmpeg.LogInfo), "Input #0, mp3")
	opts.ProgressCallback("out_time_us=1000000")
	return f.result
}

func (f *fakeExec) Cancel(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeExec) cancelledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cancelled...)
}

type fixture struct {
	srv  *Server
	exec *fakeExec
	hist *history.Store
	bus  *bus.MemoryBus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	hist, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	f := &fixture{exec: newFakeExec(), hist: hist, bus: bus.NewMemoryBus(0)}
	f.srv = New(f.exec, hist, f.bus, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.srv.Close(ctx)
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) submit(t *testing.T, body string) int64 {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/v1/executions", body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var resp createResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, history.StateRunning, resp.State)
	return resp.ID
}

func (f *fixture) waitState(t *testing.T, id int64, want history.State) *history.Record {
	t.Helper()
	var rec *history.Record
	require.Eventually(t, func() bool {
		if f.srv.Running() != 0 {
			return false
		}
		var err error
		rec, err = f.hist.Get(context.Background(), id)
		return err == nil && rec.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestCreate_RunsAndRecords(t *testing.T) {
	f := newFixture(t, Config{})

	rr := f.do(t, http.MethodPost, "/api/v1/executions", `{"commands":["ffmpeg","-i","in.mp3","out.wav"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "/api/v1/executions/1", rr.Header().Get("Location"))
	assert.NotEmpty(t, rr.Header().Get(middleware.HeaderRequestID))

	got := f.do(t, http.MethodGet, "/api/v1/executions/1", "")
	require.Equal(t, http.StatusOK, got.Code)
	var live history.Record
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &live))
	assert.Equal(t, history.StateRunning, live.State)
	assert.Equal(t, "ffmpeg", live.Tool)

	f.exec.open()
	rec := f.waitState(t, 1, history.StateSucceeded)
	assert.Equal(t, []string{"ffmpeg", "-i", "in.mp3", "out.wav"}, rec.Commands)

	got = f.do(t, http.MethodGet, "/api/v1/executions/1", "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Contains(t, got.Body.String(), `"state":"succeeded"`)
}

func TestCreate_FailureIsRecorded(t *testing.T) {
	f := newFixture(t, Config{})
	f.exec.result = &ffmpeg.Error{Code: ffmpeg.CodeGeneric, Status: 1, Stderr: []string{"in.mp3: No such file"}}
	f.exec.open()

	id := f.submit(t, `{"commands":["ffmpeg","-i","in.mp3"]}`)
	rec := f.waitState(t, id, history.StateFailed)
	require.NotNil(t, rec.Status)
	assert.Equal(t, 1, *rec.Status)
	assert.Equal(t, string(ffmpeg.CodeGeneric), rec.Code)
	assert.Contains(t, rec.Error, "No such file")
}

func TestCreate_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, Config{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", `commands`},
		{"unknown field", `{"commands":["ffmpeg"],"cmd":1}`},
		{"no commands", `{"commands":[]}`},
		{"unsupported tool", `{"commands":["sh","-c","true"]}`},
		{"negative id", `{"commands":["ffprobe","x"],"execution_id":-4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/api/v1/executions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, codeInvalidRequest, decodeError(t, rr).Error)
		})
	}
	assert.Zero(t, f.srv.Running())
}

func TestCreate_PinnedIDConflict(t *testing.T) {
	f := newFixture(t, Config{})

	id := f.submit(t, `{"commands":["ffmpeg"],"execution_id":42}`)
	assert.Equal(t, int64(42), id)

	rr := f.do(t, http.MethodPost, "/api/v1/executions", `{"commands":["ffmpeg"],"execution_id":42}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, codeConflict, decodeError(t, rr).Error)

	f.exec.open()
	f.waitState(t, 42, history.StateSucceeded)
	// A finished id can be reused.
	f.submit(t, `{"commands":["ffmpeg"],"execution_id":42}`)
}

func TestCreate_AllocatesAroundPinnedIDs(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, int64(2), f.submit(t, `{"commands":["ffmpeg"],"execution_id":2}`))
	assert.Equal(t, int64(1), f.submit(t, `{"commands":["ffmpeg"]}`))
	assert.Equal(t, int64(3), f.submit(t, `{"commands":["ffmpeg"]}`))
	assert.Equal(t, 3, f.srv.Running())
}

func TestCancel_AbortsRunningExecution(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, `{"commands":["ffmpeg","-i","in"]}`)

	rr := f.do(t, http.MethodDelete, "/api/v1/executions/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rec := f.waitState(t, id, history.StateCancelled)
	assert.Equal(t, ErrCancelRequested.Error(), rec.Error)
	assert.Equal(t, []int64{id}, f.exec.cancelledIDs())
}

func TestCancel_UnknownIDIsForwarded(t *testing.T) {
	f := newFixture(t, Config{})

	rr := f.do(t, http.MethodDelete, "/api/v1/executions/77", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []int64{77}, f.exec.cancelledIDs())

	rr = f.do(t, http.MethodDelete, "/api/v1/executions/zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, Config{})

	rr := f.do(t, http.MethodGet, "/api/v1/executions/9", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rr).Error)
}

func TestList(t *testing.T) {
	f := newFixture(t, Config{})
	f.exec.open()
	for range 3 {
		id := f.submit(t, `{"commands":["ffprobe","a.mp3"]}`)
		f.waitState(t, id, history.StateSucceeded)
	}

	rr := f.do(t, http.MethodGet, "/api/v1/executions?limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []history.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, int64(3), recs[0].ID)

	for _, bad := range []string{"0", "x", "501"} {
		rr = f.do(t, http.MethodGet, "/api/v1/executions?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, bad)
	}
}

func TestList_WithoutHistory(t *testing.T) {
	exec := newFakeExec()
	srv := New(exec, nil, nil, Config{})
	t.Cleanup(func() { _ = srv.Close(context.Background()) })

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(`{"commands":["ffmpeg"]}`)))
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
	var recs []history.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, history.StateRunning, recs[0].State)

	exec.open()
	require.Eventually(t, func() bool { return srv.Running() == 0 }, 5*time.Second, 10*time.Millisecond)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/executions/1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimit_OnSubmissionsOnly(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Minute})

	f.submit(t, `{"commands":["ffmpeg"]}`)
	rr := f.do(t, http.MethodPost, "/api/v1/executions", `{"commands":["ffmpeg"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rr).Error)

	for range 3 {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/executions", "").Code)
	}
}

func TestClose_CancelsAndRejects(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, `{"commands":["ffmpeg"]}`)

	require.NoError(t, f.srv.Close(context.Background()))
	rec, err := f.hist.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, history.StateCancelled, rec.State)
	assert.Equal(t, ErrShuttingDown.Error(), rec.Error)

	rr := f.do(t, http.MethodPost, "/api/v1/executions", `{"commands":["ffmpeg"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, codeUnavailable, decodeError(t, rr).Error)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Config{Version: "v1.2.3"})

	rr := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rep health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, health.StatusHealthy, rep.Status)
	assert.Equal(t, "v1.2.3", rep.Version)

	rr = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ffav_http_requests_total")
}

func TestReadiness(t *testing.T) {
	down := health.Func("history", func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusUnhealthy, Error: "locked"}
	})
	f := newFixture(t, Config{})
	rr := f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rep health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, "0 running", rep.Checks["executions"].Message)

	require.NoError(t, f.srv.Close(context.Background()))
	rr = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "shutting down")

	g := newFixture(t, Config{Checks: []health.Checker{down}})
	rr = g.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "locked")
}

func TestRequestID_Echoed(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.HeaderRequestID, "abc-123")
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(middleware.HeaderRequestID))
}

// readEvents collects SSE events until "done" or EOF.
func readEvents(t *testing.T, resp *http.Response) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
		if ev.Type == EventDone {
			break
		}
	}
	return events
}

func TestEvents_StreamsUntilDone(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	id := f.submit(t, `{"commands":["ffmpeg","-i","in"]}`)

	resp, err := http.Get(ts.URL + "/api/v1/executions/1/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.bus.Subscribers(Topic(id)) == 1 }, 5*time.Second, 5*time.Millisecond)
	f.exec.open()

	events := readEvents(t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Type: EventLog, Level: "info", Message: "Input #0, mp3"}, events[0])
	assert.Equal(t, Event{Type: EventProgress, Message: "out_time_us=1000000"}, events[1])
	assert.Equal(t, Event{Type: EventDone, State: history.StateSucceeded}, events[2])
}

func TestEvents_FinishedExecution(t *testing.T) {
	f := newFixture(t, Config{})
	f.exec.result = errors.New("boom")
	f.exec.open()
	id := f.submit(t, `{"commands":["ffmpeg"]}`)
	f.waitState(t, id, history.StateFailed)

	rr := f.do(t, http.MethodGet, "/api/v1/executions/1/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: done\n"), body)
	assert.Contains(t, body, `"state":"failed"`)
	assert.Contains(t, body, `"error":"boom"`)
}

func TestEvents_UnknownExecution(t *testing.T) {
	f := newFixture(t, Config{})
	rr := f.do(t, http.MethodGet, "/api/v1/executions/5/events", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, f.bus.Subscribers(Topic(5)))
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSSE(&buf, Event{Type: EventLog, Message: "a\nb"}))
	assert.Equal(t, "event: log\ndata: {\"type\":\"log\",\"message\":\"a\\nb\"}\n\n", buf.String())
}
