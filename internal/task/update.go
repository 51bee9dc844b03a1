package task

import "time"

// Update is a partial write. Nil fields are left untouched. Every field a
// transition changes goes into one Update so the store applies them in a
// single write.
type Update struct {
	Status                 *Status
	RejectionReason        *string
	DueDate                *time.Time
	ReminderStage          *ReminderStage
	LastReminderAt         *time.Time
	LastReadAt             *time.Time
	ApprovalStage          *ApprovalStage
	LastApprovalReminderAt *time.Time
	OverdueScore           *int
	LastOverdueAccrualAt   *time.Time
	Extension              *Extension
	Completion             *Completion
	UpdatedAt              time.Time
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Apply copies the set fields onto t.
func (u Update) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.RejectionReason != nil {
		t.RejectionReason = *u.RejectionReason
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.ReminderStage != nil {
		t.ReminderStage = *u.ReminderStage
	}
	if u.LastReminderAt != nil {
		t.LastReminderAt = *u.LastReminderAt
	}
	if u.LastReadAt != nil {
		t.LastReadAt = *u.LastReadAt
	}
	if u.ApprovalStage != nil {
		t.ApprovalStage = *u.ApprovalStage
	}
	if u.LastApprovalReminderAt != nil {
		t.LastApprovalReminderAt = *u.LastApprovalReminderAt
	}
	if u.OverdueScore != nil {
		t.OverdueScore = *u.OverdueScore
	}
	if u.LastOverdueAccrualAt != nil {
		t.LastOverdueAccrualAt = *u.LastOverdueAccrualAt
	}
	if u.Extension != nil {
		t.Extension = *u.Extension
	}
	if u.Completion != nil {
		t.Completion = *u.Completion
	}
	if !u.UpdatedAt.IsZero() {
		t.UpdatedAt = u.UpdatedAt
	}
}

// Fields returns the set fields keyed by their JSON document names, for
// stores that merge a patch into a stored document.
func (u Update) Fields() map[string]any {
	f := make(map[string]any)
	put := func(key string, set bool, v any) {
		if set {
			f[key] = v
		}
	}
	put("status", u.Status != nil, deref(u.Status))
	put("rejection_reason", u.RejectionReason != nil, deref(u.RejectionReason))
	put("due_date", u.DueDate != nil, deref(u.DueDate))
	put("reminder_stage", u.ReminderStage != nil, deref(u.ReminderStage))
	put("last_reminder_at", u.LastReminderAt != nil, deref(u.LastReminderAt))
	put("last_read_at", u.LastReadAt != nil, deref(u.LastReadAt))
	put("approval_stage", u.ApprovalStage != nil, deref(u.ApprovalStage))
	put("last_approval_reminder_at", u.LastApprovalReminderAt != nil, deref(u.LastApprovalReminderAt))
	put("overdue_score", u.OverdueScore != nil, deref(u.OverdueScore))
	put("last_overdue_accrual_at", u.LastOverdueAccrualAt != nil, deref(u.LastOverdueAccrualAt))
	put("extension", u.Extension != nil, deref(u.Extension))
	put("completion", u.Completion != nil, deref(u.Completion))
	put("updated_at", !u.UpdatedAt.IsZero(), u.UpdatedAt)
	return f
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.Fields()) == 0
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
