// Package events publishes task audit events to NATS.
//
// Every audit event appended through a PublishingStore is published as
// JSON on:
//
//	{prefix}.audit.{task_id}
//
// Publication happens after the store accepted the event and is best
// effort: a publish failure is logged and never fails the append.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/sanitize"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "taskrelay"

// Subject returns the subject for a task's audit events. The task id is
// reduced to a single subject token so it can never add levels or
// wildcards.
func Subject(prefix, taskID string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.audit.%s", prefix, sanitize.SubjectToken(taskID))
}

// Connect dials NATS with reconnects enabled and connection state logged.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx := context.Background()
	nc, err := nats.Connect(url,
		nats.Name("taskrelay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// PublishingStore decorates a task.Store and publishes appended audit
// events.
type PublishingStore struct {
	task.Store

	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewPublishingStore wraps s. A nil logger disables logging.
func NewPublishingStore(s task.Store, nc *nats.Conn, prefix string, logger *logging.Logger) *PublishingStore {
	if logger == nil {
		logger = logging.Nop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &PublishingStore{Store: s, nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// AppendAuditEvent appends e to the wrapped store, then publishes it.
func (p *PublishingStore) AppendAuditEvent(ctx context.Context, e task.AuditEvent) error {
	if err := p.Store.AppendAuditEvent(ctx, e); err != nil {
		return err
	}

	subject := Subject(p.prefix, e.TaskID)
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn(ctx, "audit event not published", zap.String("subject", subject), zap.Error(err))
		return nil
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "audit event not published", zap.String("subject", subject), zap.Error(err))
		return nil
	}
	p.logger.Trace(ctx, "audit event published", zap.String("subject", subject))
	return nil
}

// Unwrap returns the decorated store.
func (p *PublishingStore) Unwrap() task.Store {
	return p.Store
}
