package http

import (
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SubmitRequest is the request body for POST /api/v1/tasks.
type SubmitRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	TaskType       string    `json:"task_type"`
	Urgency        string    `json:"urgency"`
	RequesterEmail string    `json:"requester_email"`
	AssigneeEmail  string    `json:"assignee_email"`
	DueDate        time.Time `json:"due_date"`
}

// ActionRequest is the body shared by every task action. Fields that an
// action does not use are ignored.
type ActionRequest struct {
	Actor string `json:"actor"`

	// Reason backs reject, extension requests and completion rejection.
	Reason string `json:"reason,omitempty"`
	// Approve backs confirm and extension resolution.
	Approve bool `json:"approve,omitempty"`
	// DueDate is the new due date for completion rejection and the
	// requested one for extensions.
	DueDate time.Time `json:"due_date,omitempty"`
}

// Result values reported by action endpoints.
const (
	ResultOK             = "ok"
	ResultAlreadyHandled = "already_handled"
)

// ActionResponse is the response body of a task action.
type ActionResponse struct {
	Result string     `json:"result"`
	Detail string     `json:"detail,omitempty"`
	Task   *task.Task `json:"task,omitempty"`
}

// AuditResponse is the response body for GET /api/v1/tasks/:id/audit.
type AuditResponse struct {
	TaskID string            `json:"task_id"`
	Events []task.AuditEvent `json:"events"`
}

// SweepResponse is the response body for POST /api/v1/reminders/run.
type SweepResponse struct {
	*reminder.SweepResult
	Errors []SweepError `json:"errors"`
}

// SweepError is one task failure reported by a sweep.
type SweepError struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newSweepResponse(r *reminder.SweepResult) SweepResponse {
	resp := SweepResponse{SweepResult: r, Errors: make([]SweepError, 0, len(r.Errors))}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, SweepError{TaskID: e.TaskID, Error: e.Err.Error()})
	}
	return resp
}
