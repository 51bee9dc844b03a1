// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Dual output (stdout plus the OpenTelemetry log bridge)
//   - Automatic context fields (trace_id, request.id, task.id, actor, sweep.id)
//   - Redaction of sensitive keys, and credential scrubbing of values using
//     the same rules as outbound notifications
//   - Level-aware sampling (errors never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTaskID(ctx, taskID)
//	logger.Info(ctx, "task approved", zap.String("approver", email))
//
// Components that receive a nil *Logger should fall back to Nop().
package logging
