package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrAlreadyExists),
		errors.Is(err, reminder.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, task.ErrReasonRequired),
		errors.Is(err, task.ErrDueDateRequired),
		errors.Is(err, task.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrConcurrencyTimeout),
		errors.Is(err, task.ErrCollaboratorUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		// Client went away; nginx's convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler writes every handler error as an ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		code = statusFor(err)
		if code < http.StatusInternalServerError {
			msg = err.Error()
		} else if code == http.StatusServiceUnavailable {
			msg = "temporarily unavailable, retry later"
		}
	}

	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed",
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to write error response", zap.Error(err))
	}
}
