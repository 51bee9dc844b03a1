package lifecycle

import (
	"context"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/metrics"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.uber.org/zap"
)

// DeliverDeps carries what Deliver needs. The reminder sweep shares it so
// both paths resolve and report recipients the same way.
type DeliverDeps struct {
	Session   *identity.Session
	Threshold float64
	Notifier  task.Notifier
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Deliver sends one notification to a party. A cached messaging handle on
// the party is used as is; otherwise the party's email is resolved and
// must reach the confidence threshold. It reports whether the
// notification was accepted by the notifier. Failures are logged.
func Deliver(ctx context.Context, d DeliverDeps, to task.Party, kind task.NotificationKind, payload task.Payload) bool {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	handle := to.MessagingHandle
	if handle == "" && d.Session != nil {
		id, err := d.Session.Resolve(ctx, to.Email)
		if err != nil {
			logger.Warn(ctx, "recipient resolution interrupted", zap.String("recipient", to.Email), zap.Error(err))
			return false
		}
		if !id.Notifiable(d.Threshold) {
			fields := []zap.Field{zap.String("recipient", to.Email), zap.String("kind", string(kind))}
			if id != nil {
				fields = append(fields, zap.Float64("confidence", id.Confidence), zap.String("source", string(id.Source)))
			}
			logger.Warn(ctx, "recipient not confidently resolved, notification skipped", fields...)
			return false
		}
		handle = id.MessagingHandle
	}
	if handle == "" {
		logger.Warn(ctx, "recipient has no messaging handle", zap.String("recipient", to.Email))
		return false
	}

	err := d.Notifier.SendNotification(ctx, handle, kind, payload)
	d.Metrics.Notification(string(kind), err)
	if err != nil {
		logger.Warn(ctx, "notification failed",
			zap.String("recipient", to.Email), zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	logger.Debug(ctx, "notification sent", zap.String("recipient", to.Email), zap.String("kind", string(kind)))
	return true
}
