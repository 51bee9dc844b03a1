package reminder

import (
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/task"
)

// Windows are the time windows that classify a task.
type Windows struct {
	// LeadWindow is how long before the due date the due-today stage starts.
	LeadWindow time.Duration
	// ApprovalWindow is how long a reported completion may wait for
	// confirmation before the approval reminder escalates.
	ApprovalWindow time.Duration
	// OverdueRepeatInterval re-sends the overdue reminder this long after
	// the last one. Zero sends it once.
	OverdueRepeatInterval time.Duration
}

// TargetStage classifies a due date at now.
func TargetStage(now, due time.Time, lead time.Duration) task.ReminderStage {
	switch {
	case !now.Before(due):
		return task.StageOverdue
	case !now.Before(due.Add(-lead)):
		return task.StageDueToday
	default:
		return task.StageBeforeDue
	}
}

// TargetApprovalStage classifies a reported completion at now.
func TargetApprovalStage(now, reportedAt time.Time, window time.Duration) task.ApprovalStage {
	if now.Before(reportedAt.Add(window)) {
		return task.ApprovalPending
	}
	return task.ApprovalOverdue
}

// action is what one sweep should do to one task. The zero value does
// nothing.
type action struct {
	// remind is the due-track stage to notify and record.
	remind task.ReminderStage
	// resend repeats the overdue reminder without a stage change.
	resend bool
	// approval is the approval-track stage to notify and record.
	approval task.ApprovalStage
	accrue   bool
}

func (a action) none() bool {
	return a.remind == "" && !a.resend && a.approval == "" && !a.accrue
}

// decide computes the sweep action for t at now. It is pure; the sweep
// calls it once on the bulk-fetched copy and again on the copy re-read
// under the task lock.
func decide(t *task.Task, now time.Time, w Windows) action {
	var a action

	switch t.Status {
	case task.StatusPendingApproval, task.StatusApproved:
		current := t.ReminderStage
		if current == "" {
			current = task.StageUnsent
		}
		target := TargetStage(now, t.DueDate, w.LeadWindow)
		effective := task.MaxStage(target, current)

		// A pending extension withholds reminders but not accrual.
		if !t.Extension.Pending() {
			if effective != current {
				a.remind = effective
			} else if effective == task.StageOverdue && w.OverdueRepeatInterval > 0 &&
				!now.Before(t.LastReminderAt.Add(w.OverdueRepeatInterval)) {
				a.resend = true
			}
		}

		// Only an approved task has unresolved completion that can accrue.
		if t.Status == task.StatusApproved && target == task.StageOverdue &&
			now.After(t.LastOverdueAccrualAt) {
			a.accrue = true
		}

	case task.StatusCompletionReported:
		current := t.ApprovalStage
		if current == "" {
			current = task.ApprovalNone
		}
		target := TargetApprovalStage(now, t.Completion.ReportedAt, w.ApprovalWindow)
		if target.Rank() > current.Rank() {
			a.approval = target
		}
	}

	return a
}

// approvalKind maps an approval stage to its notification kind.
func approvalKind(s task.ApprovalStage) task.NotificationKind {
	if s == task.ApprovalOverdue {
		return task.NotifyApprovalOverdue
	}
	return task.NotifyApprovalReminder
}
