// Package lifecycle applies guarded transitions to task requests.
//
// Every operation runs inside the coordinator lock for the task id and
// follows the same order: read the current record, validate the source
// state, write all changed fields in one store call, append the audit
// event, then notify. A wrong source state fails with a
// *task.TransitionError before anything is written. Once the write has
// succeeded, audit and notification failures are logged and do not fail
// the operation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/coordinator"
	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/metrics"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName is the tracer name for lifecycle spans.
const InstrumentationName = "github.com/fyrsmithlabs/taskrelay/internal/lifecycle"

// Service runs task lifecycle operations.
type Service struct {
	store    task.Store
	notifier task.Notifier
	coord    *coordinator.Coordinator
	resolver *identity.Resolver
	watchers []task.Party
	calendar CalendarSync

	clock   task.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// CalendarSync mirrors a task onto its assignee's calendar.
type CalendarSync interface {
	SyncTask(ctx context.Context, t *task.Task) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("lifecycle")
		}
	}
}

// WithMetrics sets Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the wall clock.
func WithClock(c task.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithWatchers sets emails that are told about task approvals and
// completion approvals in addition to the parties.
func WithWatchers(emails []string) Option {
	return func(s *Service) {
		seen := make(map[string]bool, len(emails))
		for _, e := range emails {
			e = identity.NormalizeEmail(e)
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			s.watchers = append(s.watchers, task.Party{Email: e})
		}
	}
}

// WithCalendar keeps calendar events for approved tasks. Sync failures
// are logged and never fail the transition.
func WithCalendar(c CalendarSync) Option {
	return func(s *Service) {
		s.calendar = c
	}
}

// NewService creates a lifecycle service.
func NewService(
	store task.Store,
	notifier task.Notifier,
	coord *coordinator.Coordinator,
	resolver *identity.Resolver,
	opts ...Option,
) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		coord:    coord,
		resolver: resolver,
		clock:    task.SystemClock{},
		logger:   logging.Nop(),
		tracer:   otel.Tracer(InstrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notice is one notification a transition wants sent.
type notice struct {
	to      task.Party
	kind    task.NotificationKind
	payload task.Payload
}

// plan is what a validated transition writes, records and sends.
type plan struct {
	update task.Update
	audit  task.AuditEvent
	notify []notice
	// calendar syncs the updated task to the assignee's calendar.
	calendar bool
}

// planFunc validates t and returns the plan, or a *task.TransitionError.
type planFunc func(t *task.Task, now time.Time) (*plan, error)

// apply runs one guarded transition on task id.
func (s *Service) apply(ctx context.Context, op, id, actor string, fn planFunc) (*task.Task, error) {
	ctx = logging.WithActor(logging.WithTaskID(ctx, id), actor)
	ctx, span := s.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("lifecycle.op", op),
	))
	defer span.End()

	var result *task.Task
	err := s.coord.Do(ctx, id, func(ctx context.Context) error {
		current, err := s.store.FetchByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: fetch task %s: %w", op, id, err)
		}

		now := s.clock.Now()
		p, err := fn(current, now)
		if err != nil {
			return err
		}

		p.update.UpdatedAt = now
		if err := s.store.WriteFields(ctx, id, p.update); err != nil {
			return fmt.Errorf("%s: write task %s: %w", op, id, err)
		}
		p.update.Apply(current)
		result = current

		s.appendAudit(ctx, p.audit)
		s.sendAll(ctx, p.notify)
		if p.calendar {
			s.syncCalendar(ctx, current)
		}
		return nil
	})

	s.finish(ctx, span, op, err)
	return result, err
}

func (s *Service) appendAudit(ctx context.Context, e task.AuditEvent) {
	if err := s.store.AppendAuditEvent(ctx, e); err != nil {
		s.logger.Error(ctx, "audit append failed after write",
			zap.String("audit.type", string(e.Type)), zap.Error(err))
	}
}

func (s *Service) sendAll(ctx context.Context, notices []notice) {
	if len(notices) == 0 {
		return
	}
	session := s.resolver.NewSession()
	for _, n := range notices {
		Deliver(ctx, DeliverDeps{
			Session:   session,
			Threshold: s.resolver.Threshold(),
			Notifier:  s.notifier,
			Logger:    s.logger,
			Metrics:   s.metrics,
		}, n.to, n.kind, n.payload)
	}
}

// watching adds a notice for every watcher who is not already a recipient.
func (s *Service) watching(notices []notice, kind task.NotificationKind, payload task.Payload) []notice {
	for _, w := range s.watchers {
		dup := false
		for _, n := range notices {
			if identity.NormalizeEmail(n.to.Email) == w.Email {
				dup = true
				break
			}
		}
		if !dup {
			notices = append(notices, notice{to: w, kind: kind, payload: payload})
		}
	}
	return notices
}

func (s *Service) syncCalendar(ctx context.Context, t *task.Task) {
	if s.calendar == nil {
		return
	}
	if err := s.calendar.SyncTask(ctx, t); err != nil {
		s.logger.Warn(ctx, "calendar sync failed", zap.Error(err))
		return
	}
	s.logger.Debug(ctx, "calendar event synced")
}

// finish records the outcome on the span, in metrics and in the log.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	result := "ok"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		s.logger.Info(ctx, "transition applied", zap.String("op", op))
	case errors.Is(err, task.ErrInvalidTransition):
		result = "already_handled"
		span.SetAttributes(attribute.Bool("lifecycle.already_handled", true))
		s.logger.Info(ctx, "transition not applicable", zap.String("op", op), zap.Error(err))
	case errors.Is(err, task.ErrReasonRequired), errors.Is(err, task.ErrDueDateRequired):
		result = "invalid"
		s.logger.Info(ctx, "transition rejected by validation", zap.String("op", op), zap.Error(err))
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "transition failed", zap.String("op", op), zap.Error(err))
	}
	s.metrics.Transition(op, result)
}

// Get returns the stored task.
func (s *Service) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.FetchByID(ctx, id)
}

// AuditTrail returns the task's audit events when the store can list them.
func (s *Service) AuditTrail(ctx context.Context, id string) ([]task.AuditEvent, error) {
	r, ok := task.AuditReaderOf(s.store)
	if !ok {
		return nil, fmt.Errorf("audit trail: %w", errors.ErrUnsupported)
	}
	if _, err := s.store.FetchByID(ctx, id); err != nil {
		return nil, err
	}
	return r.AuditEvents(ctx, id)
}
