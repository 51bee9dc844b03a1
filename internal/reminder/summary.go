package reminder

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/task"
)

// dueSoonWindow is the horizon for AssigneeSummary.DueWithinThreeDays.
const dueSoonWindow = 72 * time.Hour

// Summarize aggregates active tasks per assignee, sorted by email.
// Terminal and nil tasks are ignored. A task counts as overdue when its
// due date has passed and its completion has not been reported.
func Summarize(tasks []*task.Task, now time.Time) []task.AssigneeSummary {
	by := make(map[string]*task.AssigneeSummary)
	for _, t := range tasks {
		if t == nil || !t.Active() {
			continue
		}
		email := t.Assignee.Email
		sum, ok := by[email]
		if !ok {
			sum = &task.AssigneeSummary{Email: email, UpdatedAt: now}
			by[email] = sum
		}

		sum.TotalTasks++
		sum.TotalOverdueScore += t.OverdueScore

		switch {
		case !now.Before(t.DueDate):
			if t.Status != task.StatusCompletionReported {
				sum.OverdueTasks++
			}
		default:
			if t.DueDate.Sub(now) <= dueSoonWindow {
				sum.DueWithinThreeDays++
			}
			if sum.NextDueDate.IsZero() || t.DueDate.Before(sum.NextDueDate) {
				sum.NextDueDate = t.DueDate
			}
		}
	}

	out := make([]task.AssigneeSummary, 0, len(by))
	for _, sum := range by {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
