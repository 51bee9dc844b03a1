package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRender(t *testing.T) {
	p := task.Payload{
		TaskID:  "t1",
		Title:   "Budget",
		DueDate: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Actor:   "alex@example.com",
	}

	assert.Equal(t, `Task "Budget" is overdue since Fri Mar 6, 2026.`, Render(task.NotifyReminderOverdue, p))
	assert.Contains(t, Render(task.NotifyApprovalRequest, p), "alex@example.com")

	p.Reason = "missing totals"
	assert.Equal(t,
		`Completion of task "Budget" was not accepted. New due date: Fri Mar 6, 2026. Reason: missing totals`,
		Render(task.NotifyCompletionRejected, p))
	assert.Contains(t, Render("something_new", p), "something_new")
}

func TestLogNotifier(t *testing.T) {
	logger := logging.NewTestLogger()
	n := NewLogNotifier(logger.Logger)

	require.NoError(t, n.SendNotification(context.Background(), "U1", task.NotifyTaskApproved, task.Payload{TaskID: "t1", Title: "x"}))
	logger.AssertLogged(t, zapcore.InfoLevel, "notification")
	logger.AssertField(t, "notification", "handle", "U1")
	logger.AssertField(t, "notification", "kind", "task_approved")
}
