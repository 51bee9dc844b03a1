package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/coordinator"
	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/messaging"
	"github.com/fyrsmithlabs/taskrelay/internal/metrics"
	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requester = "rita@example.com"
	assignee  = "alex@example.com"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type profileMap map[string]*identity.Profile

func (m profileMap) LookupByEmail(_ context.Context, email string) (*identity.Profile, error) {
	return m[email], nil
}

type stubSweeper struct {
	result *reminder.SweepResult
	err    error
	calls  int
}

func (s *stubSweeper) RunSweep(context.Context) (*reminder.SweepResult, error) {
	s.calls++
	return s.result, s.err
}

type testServer struct {
	*Server
	store   *task.MemoryStore
	coord   *coordinator.Coordinator
	sweeper *stubSweeper
}

func setupTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store := task.NewMemoryStore(10)
	coord := coordinator.New(coordinator.Config{MaxConcurrency: 2, LockTimeout: 50 * time.Millisecond})
	resolver := identity.NewResolver(profileMap{
		requester: {Handle: "U-RITA", Email: requester, Name: "Rita"},
		assignee:  {Handle: "U-ALEX", Email: assignee, Name: "Alex"},
	}, identity.NewStaticDirectory(nil))
	svc := lifecycle.NewService(store, messaging.NewLogNotifier(logging.Nop()), coord, resolver,
		lifecycle.WithClock(fixedClock(now)),
	)
	sweeper := &stubSweeper{result: &reminder.SweepResult{SweepID: "sw-1"}}

	server, err := NewServer(svc, sweeper, logging.Nop(), &Config{Host: "localhost", Port: 9191}, opts...)
	require.NoError(t, err)
	return &testServer{Server: server, store: store, coord: coord, sweeper: sweeper}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T) *task.Task {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/tasks", SubmitRequest{
		Title:          "Quarterly report",
		RequesterEmail: requester,
		AssigneeEmail:  assignee,
		DueDate:        now.Add(72 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[ActionResponse](t, rec)
	require.NotNil(t, resp.Task)
	return resp.Task
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	svc := lifecycle.NewService(task.NewMemoryStore(0), messaging.NewLogNotifier(nil),
		coordinator.New(coordinator.Config{}), identity.NewResolver(nil, identity.NewStaticDirectory(nil)))

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(svc, nil, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svc, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, logging.Nop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lifecycle service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok without a health check", func(t *testing.T) {
		s := setupTestServer(t)
		rec := s.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	})

	t.Run("unavailable when the check fails", func(t *testing.T) {
		s := setupTestServer(t, WithHealthCheck(func(context.Context) error {
			return errors.New("connection refused")
		}))
		rec := s.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "unavailable", resp.Status)
		assert.Equal(t, "connection refused", resp.Error)
	})
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Transition("approve", "ok")

	s := setupTestServer(t, WithGatherer(reg))
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskrelay_transitions_total")
}

func TestHandleSubmit(t *testing.T) {
	t.Run("creates a pending task", func(t *testing.T) {
		s := setupTestServer(t)
		tk := s.submit(t)
		assert.Equal(t, task.StatusPendingApproval, tk.Status)
		assert.Equal(t, "U-ALEX", tk.Assignee.MessagingHandle)

		stored, err := s.store.FetchByID(context.Background(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, "Quarterly report", stored.Title)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		tests := []struct {
			name string
			body any
		}{
			{"missing title", SubmitRequest{RequesterEmail: requester, AssigneeEmail: assignee, DueDate: now}},
			{"bad email", SubmitRequest{Title: "x", RequesterEmail: "nope", AssigneeEmail: assignee, DueDate: now}},
			{"missing due date", SubmitRequest{Title: "x", RequesterEmail: requester, AssigneeEmail: assignee}},
			{"malformed body", "not an object"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := setupTestServer(t)
				rec := s.do(t, http.MethodPost, "/api/v1/tasks", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
				assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
			})
		}
	})
}

func TestHandleGet(t *testing.T) {
	s := setupTestServer(t)
	tk := s.submit(t)

	rec := s.do(t, http.MethodGet, "/api/v1/tasks/"+tk.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tk.ID, decode[task.Task](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, task.ErrNotFound.Error(), decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAudit(t *testing.T) {
	s := setupTestServer(t)
	tk := s.submit(t)
	s.do(t, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/approve", ActionRequest{Actor: assignee})

	rec := s.do(t, http.MethodGet, "/api/v1/tasks/"+tk.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AuditResponse](t, rec)
	assert.Equal(t, tk.ID, resp.TaskID)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, task.AuditSubmitted, resp.Events[0].Type)
	assert.Equal(t, task.AuditApproved, resp.Events[1].Type)
}

func TestActions(t *testing.T) {
	s := setupTestServer(t)
	tk := s.submit(t)
	base := "/api/v1/tasks/" + tk.ID

	steps := []struct {
		path   string
		body   ActionRequest
		status task.Status
	}{
		{"/approve", ActionRequest{Actor: assignee}, task.StatusApproved},
		{"/extension", ActionRequest{Actor: assignee, DueDate: now.Add(120 * time.Hour), Reason: "waiting on data"}, task.StatusApproved},
		{"/extension/resolve", ActionRequest{Actor: requester, Approve: true}, task.StatusApproved},
		{"/read", ActionRequest{Actor: assignee}, task.StatusApproved},
		{"/complete", ActionRequest{Actor: assignee}, task.StatusCompletionReported},
		{"/confirm", ActionRequest{Actor: requester, Reason: "missing appendix", DueDate: now.Add(168 * time.Hour)}, task.StatusApproved},
		{"/complete", ActionRequest{Actor: assignee}, task.StatusCompletionReported},
		{"/confirm", ActionRequest{Actor: requester, Approve: true}, task.StatusCompleted},
	}
	for _, step := range steps {
		rec := s.do(t, http.MethodPost, base+step.path, step.body)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step.path, rec.Body.String())
		resp := decode[ActionResponse](t, rec)
		assert.Equal(t, ResultOK, resp.Result, step.path)
		require.NotNil(t, resp.Task, step.path)
		assert.Equal(t, step.status, resp.Task.Status, step.path)
	}

	final, err := s.store.FetchByID(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.True(t, final.DueDate.Equal(now.Add(168*time.Hour)))
	assert.False(t, final.LastReadAt.IsZero())
}

func TestActions_Reject(t *testing.T) {
	s := setupTestServer(t)
	tk := s.submit(t)

	rec := s.do(t, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/reject", ActionRequest{Actor: assignee})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/reject", ActionRequest{Actor: assignee, Reason: "no capacity"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.StatusRejected, decode[ActionResponse](t, rec).Task.Status)
}

func TestActions_DuplicateIsAlreadyHandled(t *testing.T) {
	s := setupTestServer(t)
	tk := s.submit(t)
	path := "/api/v1/tasks/" + tk.ID + "/approve"

	rec := s.do(t, http.MethodPost, path, ActionRequest{Actor: assignee})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, path, ActionRequest{Actor: assignee})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ActionResponse](t, rec)
	assert.Equal(t, ResultAlreadyHandled, resp.Result)
	assert.Nil(t, resp.Task)
	assert.Contains(t, resp.Detail, "approved")
}

func TestActions_ErrorMapping(t *testing.T) {
	t.Run("actor is required", func(t *testing.T) {
		s := setupTestServer(t)
		tk := s.submit(t)
		rec := s.do(t, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/approve", ActionRequest{Actor: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "actor field is required", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("unknown task", func(t *testing.T) {
		s := setupTestServer(t)
		rec := s.do(t, http.MethodPost, "/api/v1/tasks/missing/approve", ActionRequest{Actor: assignee})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lock timeout", func(t *testing.T) {
		s := setupTestServer(t)
		tk := s.submit(t)
		release, err := s.coord.Acquire(context.Background(), tk.ID)
		require.NoError(t, err)
		defer release()

		rec := s.do(t, http.MethodPost, "/api/v1/tasks/"+tk.ID+"/approve", ActionRequest{Actor: assignee})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, task.StatusPendingApproval, mustFetch(t, s.store, tk.ID).Status)
	})
}

func mustFetch(t *testing.T, s task.Store, id string) *task.Task {
	t.Helper()
	tk, err := s.FetchByID(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{task.ErrNotFound, http.StatusNotFound},
		{task.ErrAlreadyExists, http.StatusConflict},
		{reminder.ErrSweepInProgress, http.StatusConflict},
		{task.ErrReasonRequired, http.StatusBadRequest},
		{task.ErrDueDateRequired, http.StatusBadRequest},
		{task.ErrInvalidTask, http.StatusBadRequest},
		{task.ErrConcurrencyTimeout, http.StatusServiceUnavailable},
		{&task.CollaboratorError{Op: "send", Err: errors.New("boom")}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.ErrUnsupported, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHandleRunSweep(t *testing.T) {
	t.Run("returns the summary", func(t *testing.T) {
		s := setupTestServer(t)
		s.sweeper.result = &reminder.SweepResult{
			SweepID:  "sw-2",
			Checked:  3,
			Notified: 1,
			Accrued:  1,
			Errors:   []reminder.TaskError{{TaskID: "t-1", Err: reminder.ErrNotDelivered}},
		}

		rec := s.do(t, http.MethodPost, "/api/v1/reminders/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, s.sweeper.calls)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "sw-2", body["sweep_id"])
		assert.EqualValues(t, 3, body["checked"])
		assert.EqualValues(t, 1, body["accrued"])
		errs, ok := body["errors"].([]any)
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.True(t, strings.Contains(errs[0].(map[string]any)["error"].(string), "not delivered"))
	})

	t.Run("overlapping sweep conflicts", func(t *testing.T) {
		s := setupTestServer(t)
		s.sweeper.result, s.sweeper.err = nil, reminder.ErrSweepInProgress
		rec := s.do(t, http.MethodPost, "/api/v1/reminders/run", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("not implemented without a sweeper", func(t *testing.T) {
		s := setupTestServer(t)
		s.sweeper = nil
		s.Server.sweeper = nil
		rec := s.do(t, http.MethodPost, "/api/v1/reminders/run", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}
