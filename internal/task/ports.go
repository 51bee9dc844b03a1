package task

import (
	"context"
	"fmt"
	"time"
)

// Page is one page of active tasks. An empty NextToken ends the listing.
type Page struct {
	Tasks     []*Task
	NextToken string
}

// Store is the document store holding task records and their audit trail.
type Store interface {
	// FetchActive returns one page of non-terminal tasks.
	FetchActive(ctx context.Context, pageToken string) (*Page, error)
	// FetchByID returns ErrNotFound for unknown ids.
	FetchByID(ctx context.Context, id string) (*Task, error)
	CreateRecord(ctx context.Context, t *Task) error
	// WriteFields applies all fields of u in one write.
	WriteFields(ctx context.Context, id string, u Update) error
	AppendAuditEvent(ctx context.Context, e AuditEvent) error
}

// SummaryWriter is implemented by stores that persist assignee summaries.
type SummaryWriter interface {
	WriteSummaries(ctx context.Context, summaries []AssigneeSummary) error
}

// AuditReader is implemented by stores that can return a task's audit trail.
type AuditReader interface {
	AuditEvents(ctx context.Context, taskID string) ([]AuditEvent, error)
}

// Notifier delivers a notification to a messaging handle.
type Notifier interface {
	SendNotification(ctx context.Context, handle string, kind NotificationKind, payload Payload) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Wrapper is implemented by store decorators.
type Wrapper interface {
	Unwrap() Store
}

// SummaryWriterOf finds a SummaryWriter in s or the stores it decorates.
func SummaryWriterOf(s Store) (SummaryWriter, bool) {
	for s != nil {
		if w, ok := s.(SummaryWriter); ok {
			return w, true
		}
		u, ok := s.(Wrapper)
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}

// AuditReaderOf finds an AuditReader in s or the stores it decorates.
func AuditReaderOf(s Store) (AuditReader, bool) {
	for s != nil {
		if r, ok := s.(AuditReader); ok {
			return r, true
		}
		u, ok := s.(Wrapper)
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}

// maxPages guards against a store that never ends its token chain.
const maxPages = 10000

// FetchAllActive consumes every page of FetchActive.
func FetchAllActive(ctx context.Context, s Store) ([]*Task, error) {
	var (
		all   []*Task
		token string
		seen  = make(map[string]bool)
	)
	for i := 0; i < maxPages; i++ {
		page, err := s.FetchActive(ctx, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Tasks...)
		if page.NextToken == "" {
			return all, nil
		}
		if seen[page.NextToken] {
			return nil, fmt.Errorf("fetch active: page token %q repeated", page.NextToken)
		}
		seen[page.NextToken] = true
		token = page.NextToken
	}
	return nil, fmt.Errorf("fetch active: more than %d pages", maxPages)
}
