package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mergeTopLevel mimics the jsonb || operator.
func mergeTopLevel(t *testing.T, doc []byte, patch string) []byte {
	t.Helper()
	var base, p map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &base))
	require.NoError(t, json.Unmarshal([]byte(patch), &p))
	for k, v := range p {
		base[k] = v
	}
	out, err := json.Marshal(base)
	require.NoError(t, err)
	return out
}

func TestEncodePatch_MatchesApply(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	original := &task.Task{
		ID:            "t1",
		Title:         "Budget",
		Requester:     task.Party{Email: "rita@example.com"},
		Assignee:      task.Party{Email: "alex@example.com", MessagingHandle: "U1"},
		DueDate:       now,
		Status:        task.StatusCompletionReported,
		ReminderStage: task.StageOverdue,
		Extension:     task.Extension{Status: task.ExtensionRequested, RequestedDueDate: now.Add(time.Hour), Reason: "r"},
		Completion:    task.Completion{ReportedAt: now},
	}
	newDue := now.Add(48 * time.Hour)
	u := task.Update{
		Status:        task.Ptr(task.StatusApproved),
		DueDate:       &newDue,
		ReminderStage: task.Ptr(task.StageUnsent),
		Extension:     &task.Extension{Status: task.ExtensionNone},
		Completion:    &task.Completion{RejectionReason: "incomplete"},
		UpdatedAt:     now,
	}

	doc, err := json.Marshal(original)
	require.NoError(t, err)
	patch, err := encodePatch(u)
	require.NoError(t, err)

	merged, err := decodeTask(mergeTopLevel(t, doc, patch))
	require.NoError(t, err)

	want := original.Clone()
	u.Apply(want)
	assert.Equal(t, want, merged)
}

func TestEncodePatch_OnlySetFields(t *testing.T) {
	patch, err := encodePatch(task.Update{LastReadAt: task.Ptr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(patch), &fields))
	assert.Len(t, fields, 1)
	assert.Contains(t, fields, "last_read_at")
}

// openTestStore connects to TASKRELAY_TEST_POSTGRES_DSN or skips.
func openTestStore(t *testing.T, pageSize int) *Store {
	t.Helper()
	dsn := os.Getenv("TASKRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKRELAY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, pageSize)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.EnsureSchema(ctx))
	for _, table := range []string{"task_documents", "task_audit_events", "task_members", "assignee_summaries"} {
		_, err := s.pool.Exec(ctx, "TRUNCATE "+table)
		require.NoError(t, err)
	}
	return s
}

func TestStore_Integration(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, status := range []task.Status{task.StatusApproved, task.StatusCompleted, task.StatusPendingApproval, task.StatusApproved, task.StatusRejected} {
		require.NoError(t, s.CreateRecord(ctx, &task.Task{
			ID:        string(rune('a' + i)),
			Title:     "task",
			Status:    status,
			DueDate:   now,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
	assert.ErrorIs(t, s.CreateRecord(ctx, &task.Task{ID: "a"}), task.ErrAlreadyExists)

	all, err := task.FetchAllActive(ctx, s)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, tk := range all {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)

	require.NoError(t, s.WriteFields(ctx, "a", task.Update{
		Status:       task.Ptr(task.StatusCompleted),
		OverdueScore: task.Ptr(3),
		UpdatedAt:    now,
	}))
	got, err := s.FetchByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.OverdueScore)
	assert.Equal(t, "task", got.Title)

	all, err = task.FetchAllActive(ctx, s)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.FetchByID(ctx, "zzz")
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.ErrorIs(t, s.WriteFields(ctx, "zzz", task.Update{OverdueScore: task.Ptr(1)}), task.ErrNotFound)

	e := task.NewAuditEvent("a", task.AuditCompletionApproved, "rita@example.com", "", now)
	require.NoError(t, s.AppendAuditEvent(ctx, e))
	require.NoError(t, s.AppendAuditEvent(ctx, e))
	events, err := s.AuditEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e, events[0])

	require.NoError(t, s.PutMember(ctx, identity.Member{Email: "Ana@Example.com", Name: "Ana"}))
	members, err := s.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "ana@example.com", members[0].Email)

	require.NoError(t, s.WriteSummaries(ctx, []task.AssigneeSummary{{Email: "alex@example.com", TotalTasks: 2, UpdatedAt: now}}))
	require.NoError(t, s.WriteSummaries(ctx, []task.AssigneeSummary{{Email: "alex@example.com", TotalTasks: 1, UpdatedAt: now}}))
	var total int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT (doc->>'total_tasks')::int FROM assignee_summaries WHERE email = $1`, "alex@example.com").Scan(&total))
	assert.Equal(t, 1, total)
}
