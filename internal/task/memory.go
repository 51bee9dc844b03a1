package task

import (
	"context"
	"sort"
	"sync"
)

// DefaultPageSize is used when a MemoryStore is created with size <= 0.
const DefaultPageSize = 100

// MemoryStore is an in-memory Store. It is thread-safe and copies tasks
// in and out so callers never share state with it.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	audit     map[string][]AuditEvent
	summaries map[string]AssigneeSummary
	pageSize  int
	writes    int
}

// NewMemoryStore creates an empty store returning pageSize tasks per page.
func NewMemoryStore(pageSize int) *MemoryStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MemoryStore{
		tasks:     make(map[string]*Task),
		audit:     make(map[string][]AuditEvent),
		summaries: make(map[string]AssigneeSummary),
		pageSize:  pageSize,
	}
}

// FetchActive pages through non-terminal tasks in id order. The page token
// is the last id of the previous page.
func (s *MemoryStore) FetchActive(ctx context.Context, pageToken string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tasks))
	for id, t := range s.tasks {
		if t.Active() && id > pageToken {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := &Page{}
	for _, id := range ids {
		if len(page.Tasks) == s.pageSize {
			page.NextToken = page.Tasks[len(page.Tasks)-1].ID
			break
		}
		page.Tasks = append(page.Tasks, s.tasks[id].Clone())
	}
	return page, nil
}

// FetchByID returns a copy of the task.
func (s *MemoryStore) FetchByID(ctx context.Context, id string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// CreateRecord stores a copy of t.
func (s *MemoryStore) CreateRecord(ctx context.Context, t *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// WriteFields applies u to the stored task.
func (s *MemoryStore) WriteFields(ctx context.Context, id string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	u.Apply(t)
	s.writes++
	return nil
}

// AppendAuditEvent records e.
func (s *MemoryStore) AppendAuditEvent(ctx context.Context, e AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[e.TaskID] = append(s.audit[e.TaskID], e)
	return nil
}

// AuditEvents returns a copy of the audit trail for taskID.
func (s *MemoryStore) AuditEvents(_ context.Context, taskID string) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEvent(nil), s.audit[taskID]...), nil
}

// WriteSummaries replaces the stored summary for each assignee.
func (s *MemoryStore) WriteSummaries(ctx context.Context, summaries []AssigneeSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sum := range summaries {
		s.summaries[sum.Email] = sum
	}
	return nil
}

// Summary returns the stored summary for an assignee.
func (s *MemoryStore) Summary(email string) (AssigneeSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[email]
	return sum, ok
}

// Writes returns how many WriteFields calls succeeded.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
