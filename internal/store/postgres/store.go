// Package postgres stores task documents in PostgreSQL.
//
// Each task is one JSONB document keyed by id, with its status mirrored
// in a column so active tasks can be paged without reading documents.
// Partial writes merge a JSON patch into the stored document in a single
// UPDATE.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPageSize is used when the page size is not positive.
const DefaultPageSize = 100

var terminalStatuses = []string{string(task.StatusRejected), string(task.StatusCompleted)}

// Store is a PostgreSQL-backed task.Store. It also implements
// task.SummaryWriter, task.AuditReader and identity.MemberDirectory.
type Store struct {
	pool     *pgxpool.Pool
	pageSize int
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{pool: pool, pageSize: pageSize}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, pageSize int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, pageSize), nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_documents (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_documents_status ON task_documents(status)`,
		`CREATE TABLE IF NOT EXISTS task_audit_events (
			id      TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			type    TEXT NOT NULL,
			actor   TEXT NOT NULL DEFAULT '',
			detail  TEXT NOT NULL DEFAULT '',
			ts      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_audit_events_task ON task_audit_events(task_id, ts)`,
		`CREATE TABLE IF NOT EXISTS task_members (
			email           TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			document_handle TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS assignee_summaries (
			email      TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FetchActive returns up to the page size of non-terminal tasks with ids
// after pageToken, in id order.
func (s *Store) FetchActive(ctx context.Context, pageToken string) (*task.Page, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM task_documents
		WHERE status <> ALL($1) AND id > $2
		ORDER BY id
		LIMIT $3`,
		terminalStatuses, pageToken, s.pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("fetch active tasks: %w", err)
	}
	defer rows.Close()

	page := &task.Page{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		page.Tasks = append(page.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch active tasks: %w", err)
	}

	if len(page.Tasks) > s.pageSize {
		page.Tasks = page.Tasks[:s.pageSize]
		page.NextToken = page.Tasks[len(page.Tasks)-1].ID
	}
	return page, nil
}

// FetchByID returns task.ErrNotFound for unknown ids.
func (s *Store) FetchByID(ctx context.Context, id string) (*task.Task, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM task_documents WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask(doc)
}

// CreateRecord inserts t. An existing id returns task.ErrAlreadyExists.
func (s *Store) CreateRecord(ctx context.Context, t *task.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO task_documents (id, status, doc, updated_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, string(t.Status), string(doc), updatedAt(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrAlreadyExists
	}
	return nil
}

// WriteFields merges the set fields of u into the stored document and
// mirrors the status column, in one statement.
func (s *Store) WriteFields(ctx context.Context, id string, u task.Update) error {
	patch, err := encodePatch(u)
	if err != nil {
		return err
	}
	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE task_documents
		SET doc = doc || $2::jsonb,
		    status = COALESCE($3, status),
		    updated_at = $4
		WHERE id = $1`,
		id, patch, status, updatedAt(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrNotFound
	}
	return nil
}

// AppendAuditEvent inserts e. Re-appending the same event id is a no-op.
func (s *Store) AppendAuditEvent(ctx context.Context, e task.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_audit_events (id, task_id, type, actor, detail, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.TaskID, string(e.Type), e.Actor, e.Detail, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event for %s: %w", e.TaskID, err)
	}
	return nil
}

// AuditEvents returns the task's audit trail, oldest first.
func (s *Store) AuditEvents(ctx context.Context, taskID string) ([]task.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, type, actor, detail, ts
		FROM task_audit_events WHERE task_id = $1
		ORDER BY ts, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit events for %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []task.AuditEvent
	for rows.Next() {
		var (
			e   task.AuditEvent
			typ string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &typ, &e.Actor, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = task.AuditType(typ)
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// WriteSummaries upserts one row per assignee in a single batch.
func (s *Store) WriteSummaries(ctx context.Context, summaries []task.AssigneeSummary) error {
	batch := &pgx.Batch{}
	for _, sum := range summaries {
		doc, err := json.Marshal(sum)
		if err != nil {
			return fmt.Errorf("marshal summary for %s: %w", sum.Email, err)
		}
		batch.Queue(`
			INSERT INTO assignee_summaries (email, doc, updated_at)
			VALUES ($1, $2::jsonb, $3)
			ON CONFLICT (email) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
			sum.Email, string(doc), updatedAt(sum.UpdatedAt))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write assignee summaries: %w", err)
	}
	return nil
}

// Members lists the member directory.
func (s *Store) Members(ctx context.Context) ([]identity.Member, error) {
	rows, err := s.pool.Query(ctx, `SELECT email, name, document_handle FROM task_members ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []identity.Member
	for rows.Next() {
		var m identity.Member
		if err := rows.Scan(&m.Email, &m.Name, &m.DocumentHandle); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// PutMember inserts or replaces a directory member.
func (s *Store) PutMember(ctx context.Context, m identity.Member) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_members (email, name, document_handle)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, document_handle = EXCLUDED.document_handle`,
		identity.NormalizeEmail(m.Email), m.Name, m.DocumentHandle)
	if err != nil {
		return fmt.Errorf("put member %s: %w", m.Email, err)
	}
	return nil
}

func decodeTask(doc []byte) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode task document: %w", err)
	}
	return &t, nil
}

// encodePatch renders the set fields of u as a JSON object.
func encodePatch(u task.Update) (string, error) {
	b, err := json.Marshal(u.Fields())
	if err != nil {
		return "", fmt.Errorf("marshal task patch: %w", err)
	}
	return string(b), nil
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
