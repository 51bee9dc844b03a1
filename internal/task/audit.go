package task

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered identifier for tasks, so id order matches
// creation order in paged listings.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewAuditEvent builds an audit event with a fresh id.
func NewAuditEvent(taskID string, typ AuditType, actor, detail string, at time.Time) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      typ,
		Detail:    detail,
		Actor:     actor,
		Timestamp: at,
	}
}
