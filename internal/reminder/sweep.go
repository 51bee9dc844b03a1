package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotDelivered marks a reminder that could not be sent. The stage is
// left unchanged so the next sweep tries again.
var ErrNotDelivered = errors.New("reminder not delivered")

// ErrTaskPanicked marks a task whose processing panicked. The panic is
// contained to that task.
var ErrTaskPanicked = errors.New("task processing panicked")

// TaskError is one task's failure within a sweep.
type TaskError struct {
	TaskID string `json:"task_id"`
	Err    error  `json:"-"`
}

func (e TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	SweepID  string `json:"sweep_id"`
	Checked  int    `json:"checked"`
	Notified int    `json:"notified"`
	Accrued  int    `json:"accrued"`
	// Unprocessed counts tasks that needed work but were left for the next
	// sweep because the sweep timeout expired before they were handled.
	Unprocessed int                    `json:"unprocessed"`
	Errors      []TaskError            `json:"-"`
	Summaries   []task.AssigneeSummary `json:"summaries,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// outcome is what processing one task achieved.
type outcome struct {
	task     *task.Task
	notified bool
	accrued  bool
}

// RunSweep runs one sweep over every active task. Per-task failures are
// collected in the result; the returned error is reserved for failures
// that prevent the sweep itself, such as the bulk fetch.
func (s *Scheduler) RunSweep(ctx context.Context) (*SweepResult, error) {
	if !s.sweeping.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	start := time.Now()
	sweepID := task.NewID()
	ctx = logging.WithSweepID(ctx, sweepID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "reminder.sweep", trace.WithAttributes(
		attribute.String("sweep.id", sweepID),
	))
	defer span.End()

	now := s.clock.Now()
	tasks, err := task.FetchAllActive(ctx, s.store)
	if err != nil {
		err = fmt.Errorf("sweep: fetch active tasks: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Sweep(time.Since(start), 0, 0, 0, 0, err)
		s.logger.Error(ctx, "sweep aborted", zap.Error(err))
		return nil, err
	}

	res := &SweepResult{SweepID: sweepID, Checked: len(tasks)}
	final := make([]*task.Task, len(tasks))
	copy(final, tasks)
	session := s.resolver.NewSession()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.coord.MaxConcurrency())

	for i, t := range tasks {
		if decide(t, now, s.cfg.Windows).none() {
			continue
		}
		if ctx.Err() != nil {
			mu.Lock()
			res.Unprocessed++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			out, err := s.processTaskIsolated(ctx, session, t.ID, now)

			mu.Lock()
			defer mu.Unlock()
			if out.task != nil {
				final[i] = out.task
			}
			if out.notified {
				res.Notified++
			}
			if out.accrued {
				res.Accrued++
			}
			switch {
			case err == nil:
			case leftForNextSweep(ctx, out, err):
				res.Unprocessed++
			default:
				res.Errors = append(res.Errors, TaskError{TaskID: t.ID, Err: err})
				s.logger.Warn(logging.WithTaskID(ctx, t.ID), "sweep task failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Summaries = Summarize(final, now)
	if w, ok := task.SummaryWriterOf(s.store); ok && len(res.Summaries) > 0 {
		if err := w.WriteSummaries(ctx, res.Summaries); err != nil {
			s.logger.Warn(ctx, "assignee summaries not written", zap.Error(err))
		}
	}

	res.Duration = time.Since(start)
	if ctx.Err() != nil {
		s.logger.Warn(ctx, "sweep timeout reached", zap.Int("unprocessed", res.Unprocessed))
	}

	span.SetAttributes(
		attribute.Int("sweep.checked", res.Checked),
		attribute.Int("sweep.notified", res.Notified),
		attribute.Int("sweep.accrued", res.Accrued),
		attribute.Int("sweep.errors", len(res.Errors)),
	)
	span.SetStatus(codes.Ok, "")
	s.metrics.Sweep(res.Duration, res.Checked, res.Notified, res.Accrued, len(res.Errors), nil)
	s.logger.Info(ctx, "sweep completed",
		zap.Int("checked", res.Checked),
		zap.Int("notified", res.Notified),
		zap.Int("accrued", res.Accrued),
		zap.Int("failed", len(res.Errors)),
		zap.Int("unprocessed", res.Unprocessed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// leftForNextSweep reports a task that sent nothing because the sweep
// deadline expired while it waited or ran.
func leftForNextSweep(ctx context.Context, out outcome, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && !out.notified && !out.accrued && errors.Is(err, ctxErr)
}

// processTaskIsolated runs processTask and turns a panic into that task's
// error. The coordinator releases the task lock while the panic unwinds.
func (s *Scheduler) processTaskIsolated(ctx context.Context, session *identity.Session, id string, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(logging.WithTaskID(ctx, id), "sweep task panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out = outcome{}
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return s.processTask(ctx, session, id, now)
}

// processTask applies the sweep decision for one task under its lock.
// The task is re-read first; a task that turned terminal or changed track
// since the bulk fetch is decided again from its current state.
func (s *Scheduler) processTask(ctx context.Context, session *identity.Session, id string, now time.Time) (outcome, error) {
	ctx = logging.WithTaskID(ctx, id)
	var out outcome

	err := s.coord.Do(ctx, id, func(ctx context.Context) error {
		t, err := s.store.FetchByID(ctx, id)
		if err != nil {
			return fmt.Errorf("re-read task: %w", err)
		}
		out.task = t
		if !t.Active() {
			s.logger.Debug(ctx, "task left the sweep before its turn", zap.String("status", string(t.Status)))
			return nil
		}

		a := decide(t, now, s.cfg.Windows)
		if a.none() {
			return nil
		}

		deps := lifecycle.DeliverDeps{
			Session:   session,
			Threshold: s.resolver.Threshold(),
			Notifier:  s.notifier,
			Logger:    s.logger,
			Metrics:   s.metrics,
		}

		var (
			u           task.Update
			audits      []task.AuditEvent
			deliveryErr error
		)

		switch {
		case a.remind != "" || a.resend:
			stage := a.remind
			if stage == "" {
				stage = t.ReminderStage
			}
			kind := task.ReminderKind(stage)
			if lifecycle.Deliver(ctx, deps, t.Assignee, kind, task.PayloadFor(t, "")) {
				out.notified = true
				if a.remind != "" {
					u.ReminderStage = task.Ptr(stage)
				}
				u.LastReminderAt = task.Ptr(now)
				audits = append(audits, task.NewAuditEvent(id, task.AuditReminderSent, "", string(stage), now))
			} else {
				deliveryErr = fmt.Errorf("%w: %s to %s", ErrNotDelivered, kind, t.Assignee.Email)
			}

		case a.approval != "":
			kind := approvalKind(a.approval)
			if lifecycle.Deliver(ctx, deps, t.Requester, kind, task.PayloadFor(t, "")) {
				out.notified = true
				u.ApprovalStage = task.Ptr(a.approval)
				u.LastApprovalReminderAt = task.Ptr(now)
				audits = append(audits, task.NewAuditEvent(id, task.AuditApprovalReminderSent, "", string(a.approval), now))
			} else {
				deliveryErr = fmt.Errorf("%w: %s to %s", ErrNotDelivered, kind, t.Requester.Email)
			}
		}

		if a.accrue {
			score := t.OverdueScore + 1
			u.OverdueScore = &score
			u.LastOverdueAccrualAt = task.Ptr(now)
			audits = append(audits, task.NewAuditEvent(id, task.AuditOverdueAccrued, "",
				fmt.Sprintf("overdue score %d", score), now))
		}

		if u.IsEmpty() {
			return deliveryErr
		}
		u.UpdatedAt = now
		if err := s.store.WriteFields(ctx, id, u); err != nil {
			return fmt.Errorf("write reminder state: %w", err)
		}
		u.Apply(t)
		out.accrued = a.accrue

		for _, e := range audits {
			if err := s.store.AppendAuditEvent(ctx, e); err != nil {
				s.logger.Error(ctx, "audit append failed after write",
					zap.String("audit.type", string(e.Type)), zap.Error(err))
			}
		}
		return deliveryErr
	})
	return out, err
}
