package messaging

import (
	"context"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.uber.org/zap"
)

// RedactingNotifier scrubs secrets from the free-text payload fields
// before handing a notification to the wrapped notifier.
type RedactingNotifier struct {
	next     task.Notifier
	scrubber *secrets.Scrubber
	logger   *logging.Logger
}

// NewRedactingNotifier wraps next. A nil scrubber uses the default rules.
func NewRedactingNotifier(next task.Notifier, scrubber *secrets.Scrubber, logger *logging.Logger) *RedactingNotifier {
	if scrubber == nil {
		scrubber = secrets.MustDefault()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RedactingNotifier{next: next, scrubber: scrubber, logger: logger.Named("redact")}
}

// SendNotification implements task.Notifier.
func (n *RedactingNotifier) SendNotification(ctx context.Context, handle string, kind task.NotificationKind, p task.Payload) error {
	var rules []string
	for _, field := range []*string{&p.Title, &p.Reason} {
		res := n.scrubber.Scrub(*field)
		if res.HasFindings() {
			*field = res.Scrubbed
			rules = append(rules, res.RuleIDs()...)
		}
	}
	if len(rules) > 0 {
		n.logger.Warn(ctx, "secrets redacted from notification",
			zap.String("task.id", p.TaskID),
			zap.String("kind", string(kind)),
			zap.Strings("rules", rules),
		)
	}
	return n.next.SendNotification(ctx, handle, kind, p)
}
