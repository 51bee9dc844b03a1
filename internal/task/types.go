package task

import (
	"time"
)

// Status is the lifecycle status of a task request.
type Status string

const (
	StatusPendingApproval    Status = "pending_approval"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusCompletionReported Status = "completion_reported"
	StatusCompleted          Status = "completed"
	// StatusCompletionRejected is transient: a rejected completion moves the
	// task straight back to approved in the same write.
	StatusCompletionRejected Status = "completion_rejected"
)

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[Status][]Status{
	StatusPendingApproval:    {StatusApproved, StatusRejected},
	StatusApproved:           {StatusCompletionReported},
	StatusCompletionReported: {StatusCompleted, StatusCompletionRejected},
	StatusCompletionRejected: {StatusApproved},
	StatusRejected:           {}, // terminal
	StatusCompleted:          {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for rejected and completed.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// ReminderStage tracks due-date reminders. Stages only move forward,
// except that a later due date resets the stage to unsent.
type ReminderStage string

const (
	StageUnsent    ReminderStage = "unsent"
	StageBeforeDue ReminderStage = "before_due"
	StageDueToday  ReminderStage = "due_today"
	StageOverdue   ReminderStage = "overdue"
)

var stageRank = map[ReminderStage]int{
	StageUnsent:    0,
	StageBeforeDue: 1,
	StageDueToday:  2,
	StageOverdue:   3,
}

// Rank orders stages. Unknown and empty stages rank as unsent.
func (s ReminderStage) Rank() int {
	return stageRank[s]
}

// MaxStage returns the later of two stages.
func MaxStage(a, b ReminderStage) ReminderStage {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return StageUnsent
	}
	return a
}

// ApprovalStage tracks reminders to the requester while a reported
// completion awaits confirmation.
type ApprovalStage string

const (
	ApprovalNone    ApprovalStage = "none"
	ApprovalPending ApprovalStage = "pending"
	ApprovalOverdue ApprovalStage = "overdue_approval"
)

var approvalRank = map[ApprovalStage]int{
	ApprovalNone:    0,
	ApprovalPending: 1,
	ApprovalOverdue: 2,
}

// Rank orders approval stages. Empty ranks as none.
func (s ApprovalStage) Rank() int {
	return approvalRank[s]
}

// ExtensionStatus is the state of the due-date extension sub-workflow.
// Approved and rejected are recorded in the audit trail only; the stored
// status returns to none in the same write.
type ExtensionStatus string

const (
	ExtensionNone      ExtensionStatus = "none"
	ExtensionRequested ExtensionStatus = "requested"
	ExtensionApproved  ExtensionStatus = "approved"
	ExtensionRejected  ExtensionStatus = "rejected"
)

// Party is one side of a task request.
type Party struct {
	Email string `json:"email"`
	// MessagingHandle caches the resolved messaging-service user id.
	MessagingHandle string `json:"messaging_handle,omitempty"`
}

// Extension holds a pending due-date extension request.
type Extension struct {
	Status           ExtensionStatus `json:"status"`
	RequestedDueDate time.Time       `json:"requested_due_date,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// Pending reports whether an extension request awaits resolution.
func (e Extension) Pending() bool {
	return e.Status == ExtensionRequested
}

// Completion holds completion reporting and review data.
type Completion struct {
	ReportedAt      time.Time `json:"reported_at,omitempty"`
	ApprovedAt      time.Time `json:"approved_at,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// Task is a task request as stored in the document store.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TaskType    string `json:"task_type,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
	Requester   Party  `json:"requester"`
	Assignee    Party  `json:"assignee"`

	DueDate         time.Time `json:"due_date"`
	Status          Status    `json:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`

	ReminderStage          ReminderStage `json:"reminder_stage"`
	LastReminderAt         time.Time     `json:"last_reminder_at,omitempty"`
	LastReadAt             time.Time     `json:"last_read_at,omitempty"`
	ApprovalStage          ApprovalStage `json:"approval_stage"`
	LastApprovalReminderAt time.Time     `json:"last_approval_reminder_at,omitempty"`

	// OverdueScore never decreases.
	OverdueScore         int       `json:"overdue_score"`
	LastOverdueAccrualAt time.Time `json:"last_overdue_accrual_at,omitempty"`

	Extension  Extension  `json:"extension"`
	Completion Completion `json:"completion"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// Active reports whether the task still participates in sweeps.
func (t *Task) Active() bool {
	return !t.Status.IsTerminal()
}

// AuditType identifies an audit event.
type AuditType string

const (
	AuditSubmitted            AuditType = "submitted"
	AuditApproved             AuditType = "approved"
	AuditRejected             AuditType = "rejected"
	AuditCompletionReported   AuditType = "completion_reported"
	AuditCompletionApproved   AuditType = "completion_approved"
	AuditCompletionRejected   AuditType = "completion_rejected"
	AuditExtensionRequested   AuditType = "extension_requested"
	AuditExtensionApproved    AuditType = "extension_approved"
	AuditExtensionRejected    AuditType = "extension_rejected"
	AuditReminderSent         AuditType = "reminder_sent"
	AuditApprovalReminderSent AuditType = "approval_reminder_sent"
	AuditOverdueAccrued       AuditType = "overdue_accrued"
	AuditReminderRead         AuditType = "reminder_read"
)

// AuditEvent is an append-only record of something that happened to a task.
type AuditEvent struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Type      AuditType `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationKind identifies a notification template.
type NotificationKind string

const (
	NotifyApprovalRequest    NotificationKind = "approval_request"
	NotifyTaskApproved       NotificationKind = "task_approved"
	NotifyTaskRejected       NotificationKind = "task_rejected"
	NotifyCompletionReported NotificationKind = "completion_reported"
	NotifyCompletionApproved NotificationKind = "completion_approved"
	NotifyCompletionRejected NotificationKind = "completion_rejected"
	NotifyExtensionRequested NotificationKind = "extension_requested"
	NotifyExtensionApproved  NotificationKind = "extension_approved"
	NotifyExtensionRejected  NotificationKind = "extension_rejected"
	NotifyReminderBeforeDue  NotificationKind = "reminder_before_due"
	NotifyReminderDueToday   NotificationKind = "reminder_due_today"
	NotifyReminderOverdue    NotificationKind = "reminder_overdue"
	NotifyApprovalReminder   NotificationKind = "approval_reminder"
	NotifyApprovalOverdue    NotificationKind = "approval_overdue"
)

// ReminderKind maps a reminder stage to its notification kind.
func ReminderKind(stage ReminderStage) NotificationKind {
	switch stage {
	case StageBeforeDue:
		return NotifyReminderBeforeDue
	case StageDueToday:
		return NotifyReminderDueToday
	default:
		return NotifyReminderOverdue
	}
}

// Payload carries the data a notification template needs. Wording is the
// notifier's concern.
type Payload struct {
	TaskID       string    `json:"task_id"`
	Title        string    `json:"title"`
	DueDate      time.Time `json:"due_date"`
	Actor        string    `json:"actor,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OverdueScore int       `json:"overdue_score,omitempty"`
}

// PayloadFor builds the common payload for t.
func PayloadFor(t *Task, actor string) Payload {
	return Payload{
		TaskID:       t.ID,
		Title:        t.Title,
		DueDate:      t.DueDate,
		Actor:        actor,
		OverdueScore: t.OverdueScore,
	}
}

// AssigneeSummary aggregates an assignee's active tasks after a sweep.
type AssigneeSummary struct {
	Email              string    `json:"email"`
	TotalTasks         int       `json:"total_tasks"`
	OverdueTasks       int       `json:"overdue_tasks"`
	DueWithinThreeDays int       `json:"due_within_three_days"`
	NextDueDate        time.Time `json:"next_due_date,omitempty"`
	TotalOverdueScore  int       `json:"total_overdue_score"`
	UpdatedAt          time.Time `json:"updated_at"`
}
