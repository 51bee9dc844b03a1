package lifecycle

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SubmitRequest is a new task request.
type SubmitRequest struct {
	Title          string
	Description    string
	TaskType       string
	Urgency        string
	RequesterEmail string
	AssigneeEmail  string
	DueDate        time.Time
}

func (r SubmitRequest) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", task.ErrInvalidTask)
	}
	for _, e := range []string{r.RequesterEmail, r.AssigneeEmail} {
		if _, err := mail.ParseAddress(e); err != nil {
			return fmt.Errorf("%w: invalid email %q", task.ErrInvalidTask, e)
		}
	}
	if r.DueDate.IsZero() {
		return task.ErrDueDateRequired
	}
	return nil
}

// Submit creates a task in pending approval and asks the assignee to
// approve it. Messaging handles resolved with enough confidence are
// cached on the record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := &task.Task{
		ID:            task.NewID(),
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		TaskType:      req.TaskType,
		Urgency:       req.Urgency,
		Requester:     task.Party{Email: identity.NormalizeEmail(req.RequesterEmail)},
		Assignee:      task.Party{Email: identity.NormalizeEmail(req.AssigneeEmail)},
		DueDate:       req.DueDate.UTC(),
		Status:        task.StatusPendingApproval,
		ReminderStage: task.StageUnsent,
		ApprovalStage: task.ApprovalNone,
		Extension:     task.Extension{Status: task.ExtensionNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx = logging.WithActor(logging.WithTaskID(ctx, t.ID), t.Requester.Email)
	ctx, span := s.tracer.Start(ctx, "lifecycle.submit", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("lifecycle.op", "submit"),
	))
	defer span.End()

	session := s.resolver.NewSession()
	for _, p := range []*task.Party{&t.Requester, &t.Assignee} {
		if id, ok := session.Usable(ctx, p.Email); ok {
			p.MessagingHandle = id.MessagingHandle
		}
	}

	err := s.coord.Do(ctx, t.ID, func(ctx context.Context) error {
		if err := s.store.CreateRecord(ctx, t); err != nil {
			return fmt.Errorf("submit: create task: %w", err)
		}
		s.appendAudit(ctx, task.NewAuditEvent(t.ID, task.AuditSubmitted, t.Requester.Email, t.Title, now))
		s.sendAll(ctx, []notice{{
			to:      t.Assignee,
			kind:    task.NotifyApprovalRequest,
			payload: task.PayloadFor(t, t.Requester.Email),
		}})
		return nil
	})
	s.finish(ctx, span, "submit", err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Approve accepts a pending request. Watchers are told as well, and the
// assignee's calendar gets an event.
func (s *Service) Approve(ctx context.Context, id, actor string) (*task.Task, error) {
	return s.apply(ctx, "approve", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if t.Status != task.StatusPendingApproval {
			return nil, wrongStatus(t, "approve", task.StatusPendingApproval)
		}
		payload := task.PayloadFor(t, actor)
		notices := []notice{
			{to: t.Requester, kind: task.NotifyTaskApproved, payload: payload},
			{to: t.Assignee, kind: task.NotifyTaskApproved, payload: payload},
		}
		return &plan{
			update:   task.Update{Status: task.Ptr(task.StatusApproved)},
			audit:    task.NewAuditEvent(t.ID, task.AuditApproved, actor, "", now),
			notify:   s.watching(notices, task.NotifyTaskApproved, payload),
			calendar: true,
		}, nil
	})
}

// Reject declines a pending request. reason is required, but a repeated
// reject reports the transition error first.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (*task.Task, error) {
	reason = strings.TrimSpace(reason)
	return s.apply(ctx, "reject", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if t.Status != task.StatusPendingApproval {
			return nil, wrongStatus(t, "reject", task.StatusPendingApproval)
		}
		if reason == "" {
			return nil, task.ErrReasonRequired
		}
		payload := task.PayloadFor(t, actor)
		payload.Reason = reason
		return &plan{
			update: task.Update{
				Status:          task.Ptr(task.StatusRejected),
				RejectionReason: task.Ptr(reason),
			},
			audit:  task.NewAuditEvent(t.ID, task.AuditRejected, actor, reason, now),
			notify: []notice{{to: t.Requester, kind: task.NotifyTaskRejected, payload: payload}},
		}, nil
	})
}

// ReportCompletion marks an approved task as done pending confirmation.
func (s *Service) ReportCompletion(ctx context.Context, id, actor string) (*task.Task, error) {
	return s.apply(ctx, "report_completion", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if t.Status != task.StatusApproved {
			return nil, wrongStatus(t, "report_completion", task.StatusApproved)
		}
		completion := t.Completion
		completion.ReportedAt = now
		return &plan{
			update: task.Update{
				Status:                 task.Ptr(task.StatusCompletionReported),
				Completion:             &completion,
				ApprovalStage:          task.Ptr(task.ApprovalNone),
				LastApprovalReminderAt: task.Ptr(time.Time{}),
			},
			audit:  task.NewAuditEvent(t.ID, task.AuditCompletionReported, actor, "", now),
			notify: []notice{{to: t.Requester, kind: task.NotifyCompletionReported, payload: task.PayloadFor(t, actor)}},
		}, nil
	})
}

// ConfirmRequest is the requester's review of a reported completion.
type ConfirmRequest struct {
	Approve         bool
	RejectionReason string
	// NewDueDate is required when rejecting.
	NewDueDate time.Time
}

// ConfirmCompletion approves or rejects a reported completion. Approval
// completes the task, stops overdue accrual for good and tells watchers.
// Rejection moves it back to approved with the new due date and a reset
// reminder stage. Either way the calendar event follows.
func (s *Service) ConfirmCompletion(ctx context.Context, id, actor string, req ConfirmRequest) (*task.Task, error) {
	reason := strings.TrimSpace(req.RejectionReason)

	return s.apply(ctx, "confirm_completion", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if t.Status != task.StatusCompletionReported {
			return nil, wrongStatus(t, "confirm_completion", task.StatusCompletionReported)
		}
		if !req.Approve {
			if reason == "" {
				return nil, task.ErrReasonRequired
			}
			if req.NewDueDate.IsZero() {
				return nil, task.ErrDueDateRequired
			}
		}
		completion := t.Completion

		if req.Approve {
			completion.ApprovedAt = now
			payload := task.PayloadFor(t, actor)
			notices := []notice{{to: t.Assignee, kind: task.NotifyCompletionApproved, payload: payload}}
			return &plan{
				update: task.Update{
					Status:     task.Ptr(task.StatusCompleted),
					Completion: &completion,
				},
				audit:    task.NewAuditEvent(t.ID, task.AuditCompletionApproved, actor, "", now),
				notify:   s.watching(notices, task.NotifyCompletionApproved, payload),
				calendar: true,
			}, nil
		}

		// completion_rejected is transient; the stored status goes straight
		// back to approved.
		newDue := req.NewDueDate.UTC()
		completion.RejectionReason = reason
		completion.ReportedAt = time.Time{}
		payload := task.PayloadFor(t, actor)
		payload.Reason = reason
		payload.DueDate = newDue
		return &plan{
			update: task.Update{
				Status:        task.Ptr(task.StatusApproved),
				DueDate:       &newDue,
				ReminderStage: task.Ptr(task.StageUnsent),
				ApprovalStage: task.Ptr(task.ApprovalNone),
				Completion:    &completion,
			},
			audit: task.NewAuditEvent(t.ID, task.AuditCompletionRejected, actor,
				fmt.Sprintf("%s (new due %s)", reason, newDue.Format(time.RFC3339)), now),
			notify:   []notice{{to: t.Assignee, kind: task.NotifyCompletionRejected, payload: payload}},
			calendar: true,
		}, nil
	})
}

// RequestExtension asks the requester to move the due date. Only one
// request may be pending at a time.
func (s *Service) RequestExtension(ctx context.Context, id, actor string, requestedDueDate time.Time, reason string) (*task.Task, error) {
	reason = strings.TrimSpace(reason)

	return s.apply(ctx, "request_extension", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if t.Status.IsTerminal() {
			return nil, &task.TransitionError{TaskID: t.ID, Op: "request_extension",
				Current: string(t.Status), Expected: "a non-terminal status"}
		}
		if t.Extension.Pending() {
			return nil, &task.TransitionError{TaskID: t.ID, Op: "request_extension",
				Current: "extension " + string(task.ExtensionRequested), Expected: "extension " + string(task.ExtensionNone)}
		}
		if requestedDueDate.IsZero() {
			return nil, task.ErrDueDateRequired
		}
		if reason == "" {
			return nil, task.ErrReasonRequired
		}
		due := requestedDueDate.UTC()
		payload := task.PayloadFor(t, actor)
		payload.Reason = reason
		payload.DueDate = due
		return &plan{
			update: task.Update{Extension: &task.Extension{
				Status:           task.ExtensionRequested,
				RequestedDueDate: due,
				Reason:           reason,
			}},
			audit: task.NewAuditEvent(t.ID, task.AuditExtensionRequested, actor,
				fmt.Sprintf("%s (requested due %s)", reason, due.Format(time.RFC3339)), now),
			notify: []notice{{to: t.Requester, kind: task.NotifyExtensionRequested, payload: payload}},
		}, nil
	})
}

// ResolveExtension approves or rejects the pending extension. Approval
// sets the due date in the same write and resets the reminder stage when
// the date moves later.
func (s *Service) ResolveExtension(ctx context.Context, id, actor string, approve bool) (*task.Task, error) {
	return s.apply(ctx, "resolve_extension", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		if !t.Extension.Pending() || t.Status.IsTerminal() {
			current := "extension " + string(t.Extension.Status)
			if t.Status.IsTerminal() {
				current = string(t.Status)
			}
			return nil, &task.TransitionError{TaskID: t.ID, Op: "resolve_extension",
				Current: current, Expected: "extension " + string(task.ExtensionRequested)}
		}

		cleared := &task.Extension{Status: task.ExtensionNone}
		payload := task.PayloadFor(t, actor)

		if !approve {
			return &plan{
				update: task.Update{Extension: cleared},
				audit:  task.NewAuditEvent(t.ID, task.AuditExtensionRejected, actor, "extension rejected", now),
				notify: []notice{{to: t.Assignee, kind: task.NotifyExtensionRejected, payload: payload}},
			}, nil
		}

		newDue := t.Extension.RequestedDueDate
		u := task.Update{Extension: cleared, DueDate: &newDue}
		if newDue.After(t.DueDate) {
			u.ReminderStage = task.Ptr(task.StageUnsent)
		}
		payload.DueDate = newDue
		return &plan{
			update: u,
			audit: task.NewAuditEvent(t.ID, task.AuditExtensionApproved, actor,
				fmt.Sprintf("due %s -> %s", t.DueDate.Format(time.RFC3339), newDue.Format(time.RFC3339)), now),
			notify:   []notice{{to: t.Assignee, kind: task.NotifyExtensionApproved, payload: payload}},
			calendar: true,
		}, nil
	})
}

// MarkReminderRead records that the assignee has seen the latest
// reminder. It is valid in any state and changes no stage.
func (s *Service) MarkReminderRead(ctx context.Context, id, actor string) (*task.Task, error) {
	return s.apply(ctx, "mark_reminder_read", id, actor, func(t *task.Task, now time.Time) (*plan, error) {
		return &plan{
			update: task.Update{LastReadAt: task.Ptr(now)},
			audit:  task.NewAuditEvent(t.ID, task.AuditReminderRead, actor, string(t.ReminderStage), now),
		}, nil
	})
}

func wrongStatus(t *task.Task, op string, expected task.Status) error {
	return &task.TransitionError{
		TaskID:   t.ID,
		Op:       op,
		Current:  string(t.Status),
		Expected: string(expected),
	}
}
