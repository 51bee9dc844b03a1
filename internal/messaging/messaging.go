// Package messaging renders and delivers task notifications.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.uber.org/zap"
)

const dateLayout = "Mon Jan 2, 2006"

// Render returns the plain-text message for a notification.
func Render(kind task.NotificationKind, p task.Payload) string {
	title := fmt.Sprintf("%q", p.Title)
	due := p.DueDate.Format(dateLayout)

	var b strings.Builder
	switch kind {
	case task.NotifyApprovalRequest:
		fmt.Fprintf(&b, "New task request %s from %s, due %s. Please approve or reject it.", title, p.Actor, due)
	case task.NotifyTaskApproved:
		fmt.Fprintf(&b, "Task %s was approved. Due %s.", title, due)
	case task.NotifyTaskRejected:
		fmt.Fprintf(&b, "Task %s was rejected.", title)
	case task.NotifyCompletionReported:
		fmt.Fprintf(&b, "%s reported task %s as complete. Please confirm.", p.Actor, title)
	case task.NotifyCompletionApproved:
		fmt.Fprintf(&b, "Completion of task %s was confirmed.", title)
	case task.NotifyCompletionRejected:
		fmt.Fprintf(&b, "Completion of task %s was not accepted. New due date: %s.", title, due)
	case task.NotifyExtensionRequested:
		fmt.Fprintf(&b, "%s asked to move the due date of task %s to %s.", p.Actor, title, due)
	case task.NotifyExtensionApproved:
		fmt.Fprintf(&b, "Extension approved: task %s is now due %s.", title, due)
	case task.NotifyExtensionRejected:
		fmt.Fprintf(&b, "Extension for task %s was rejected. It is still due %s.", title, due)
	case task.NotifyReminderBeforeDue:
		fmt.Fprintf(&b, "Reminder: task %s is due %s.", title, due)
	case task.NotifyReminderDueToday:
		fmt.Fprintf(&b, "Task %s is due soon (%s).", title, due)
	case task.NotifyReminderOverdue:
		fmt.Fprintf(&b, "Task %s is overdue since %s.", title, due)
	case task.NotifyApprovalReminder:
		fmt.Fprintf(&b, "Task %s is waiting for your completion review.", title)
	case task.NotifyApprovalOverdue:
		fmt.Fprintf(&b, "Task %s has waited too long for your completion review.", title)
	default:
		fmt.Fprintf(&b, "Update on task %s (%s).", title, kind)
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, " Reason: %s", p.Reason)
	}
	return b.String()
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger discards output.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

// SendNotification implements task.Notifier.
func (n *LogNotifier) SendNotification(ctx context.Context, handle string, kind task.NotificationKind, p task.Payload) error {
	n.logger.Info(ctx, "notification",
		zap.String("handle", handle),
		zap.String("kind", string(kind)),
		zap.String("task.id", p.TaskID),
		zap.String("text", Render(kind, p)),
	)
	return nil
}
