package task

import (
	"context"
	"errors"
	"time"
)

// WithTimeouts bounds every Store call by d and reports failures other
// than ErrNotFound and ErrAlreadyExists as *CollaboratorError.
func WithTimeouts(s Store, d time.Duration) Store {
	return &timeoutStore{inner: s, timeout: d}
}

// NotifierWithTimeout bounds every notification by d and reports failures
// as *CollaboratorError.
func NotifierWithTimeout(n Notifier, d time.Duration) Notifier {
	return &timeoutNotifier{inner: n, timeout: d}
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

func (s *timeoutStore) Unwrap() Store { return s.inner }

func (s *timeoutStore) FetchActive(ctx context.Context, pageToken string) (*Page, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	p, err := s.inner.FetchActive(ctx, pageToken)
	return p, collaboratorErr(ctx, "store.fetch_active", err)
}

func (s *timeoutStore) FetchByID(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	t, err := s.inner.FetchByID(ctx, id)
	return t, collaboratorErr(ctx, "store.fetch_by_id", err)
}

func (s *timeoutStore) CreateRecord(ctx context.Context, t *Task) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	return collaboratorErr(ctx, "store.create_record", s.inner.CreateRecord(ctx, t))
}

func (s *timeoutStore) WriteFields(ctx context.Context, id string, u Update) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	return collaboratorErr(ctx, "store.write_fields", s.inner.WriteFields(ctx, id, u))
}

func (s *timeoutStore) AppendAuditEvent(ctx context.Context, e AuditEvent) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	return collaboratorErr(ctx, "store.append_audit_event", s.inner.AppendAuditEvent(ctx, e))
}

type timeoutNotifier struct {
	inner   Notifier
	timeout time.Duration
}

func (n *timeoutNotifier) SendNotification(ctx context.Context, handle string, kind NotificationKind, p Payload) error {
	ctx, cancel := bound(ctx, n.timeout)
	defer cancel()
	return collaboratorErr(ctx, "notifier.send", n.inner.SendNotification(ctx, handle, kind, p))
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// collaboratorErr leaves domain errors and caller cancellation alone and
// wraps everything else. callCtx is the bounded context of the call.
func collaboratorErr(callCtx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists):
		return err
	case errors.Is(err, ErrCollaboratorUnavailable):
		return err
	case errors.Is(err, context.Canceled) && !errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}
