package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/sanitize"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// actionFunc runs one lifecycle operation for an action endpoint.
type actionFunc func(c echo.Context, id string, req ActionRequest) (*task.Task, error)

// action binds the shared request body, requires an actor and reports an
// invalid transition as already handled rather than as a failure.
func (s *Server) action(fn actionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ActionRequest
		if err := c.Bind(&req); err != nil {
			s.logger.Warn(c.Request().Context(), "invalid action request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		req.Actor = strings.TrimSpace(req.Actor)
		if req.Actor == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "actor field is required")
		}

		id := c.Param("id")
		if err := sanitize.ValidateID(id, "task id"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ctx := logging.WithActor(logging.WithTaskID(c.Request().Context(), id), req.Actor)
		c.SetRequest(c.Request().WithContext(ctx))

		t, err := fn(c, id, req)
		if errors.Is(err, task.ErrInvalidTransition) {
			return c.JSON(http.StatusOK, ActionResponse{Result: ResultAlreadyHandled, Detail: err.Error()})
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ActionResponse{Result: ResultOK, Task: t})
	}
}

func (s *Server) approve(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.Approve(c.Request().Context(), id, req.Actor)
}

func (s *Server) reject(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.Reject(c.Request().Context(), id, req.Actor, req.Reason)
}

func (s *Server) complete(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.ReportCompletion(c.Request().Context(), id, req.Actor)
}

func (s *Server) confirm(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.ConfirmCompletion(c.Request().Context(), id, req.Actor, lifecycle.ConfirmRequest{
		Approve:         req.Approve,
		RejectionReason: req.Reason,
		NewDueDate:      req.DueDate,
	})
}

func (s *Server) requestExtension(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.RequestExtension(c.Request().Context(), id, req.Actor, req.DueDate, req.Reason)
}

func (s *Server) resolveExtension(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.ResolveExtension(c.Request().Context(), id, req.Actor, req.Approve)
}

func (s *Server) markRead(c echo.Context, id string, req ActionRequest) (*task.Task, error) {
	return s.svc.MarkReminderRead(c.Request().Context(), id, req.Actor)
}

// handleSubmit creates a task request.
func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := logging.WithActor(c.Request().Context(), req.RequesterEmail)
	t, err := s.svc.Submit(ctx, lifecycle.SubmitRequest{
		Title:          req.Title,
		Description:    req.Description,
		TaskType:       req.TaskType,
		Urgency:        req.Urgency,
		RequesterEmail: req.RequesterEmail,
		AssigneeEmail:  req.AssigneeEmail,
		DueDate:        req.DueDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ActionResponse{Result: ResultOK, Task: t})
}

// handleGet returns the stored task.
func (s *Server) handleGet(c echo.Context) error {
	id := c.Param("id")
	if err := sanitize.ValidateID(id, "task id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := s.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// handleAudit returns the task's audit trail.
func (s *Server) handleAudit(c echo.Context) error {
	id := c.Param("id")
	if err := sanitize.ValidateID(id, "task id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	events, err := s.svc.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if events == nil {
		events = []task.AuditEvent{}
	}
	return c.JSON(http.StatusOK, AuditResponse{TaskID: id, Events: events})
}

// handleRunSweep runs one reminder sweep and returns its summary.
func (s *Server) handleRunSweep(c echo.Context) error {
	if s.sweeper == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "reminder sweeps are disabled")
	}
	result, err := s.sweeper.RunSweep(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSweepResponse(result))
}
