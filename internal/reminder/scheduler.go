// Package reminder runs the periodic reminder sweep.
//
// A sweep reads every active task once, decides per task whether a
// reminder is due or overdue score must accrue, and applies that decision
// under the task's coordinator lock after re-reading the task. Tasks are
// processed in parallel up to the coordinator budget and one task's
// failure never stops the others.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/coordinator"
	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/metrics"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName is the tracer name for sweep spans.
const InstrumentationName = "github.com/fyrsmithlabs/taskrelay/internal/reminder"

// ErrSweepInProgress is returned when a sweep is requested while another
// one is still running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Config configures a Scheduler.
type Config struct {
	Windows

	// Interval between scheduled sweeps.
	Interval time.Duration
	// Timeout bounds one whole sweep. Tasks not reached in time wait for
	// the next sweep.
	Timeout time.Duration
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() Config {
	return Config{
		Windows: Windows{
			LeadWindow:     24 * time.Hour,
			ApprovalWindow: 48 * time.Hour,
		},
		Interval: time.Hour,
		Timeout:  5 * time.Minute,
	}
}

// Scheduler runs reminder sweeps on demand and on an interval.
//
// Thread Safety: all methods are safe for concurrent use. At most one
// sweep runs at a time.
type Scheduler struct {
	cfg      Config
	store    task.Store
	notifier task.Notifier
	coord    *coordinator.Coordinator
	resolver *identity.Resolver

	clock   task.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	sweeping sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.Named("reminder")
		}
	}
}

// WithMetrics sets Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the wall clock.
func WithClock(c task.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewScheduler creates a scheduler. Zero durations in cfg take their
// DefaultConfig values, except OverdueRepeatInterval where zero disables
// repeats.
func NewScheduler(
	store task.Store,
	notifier task.Notifier,
	coord *coordinator.Coordinator,
	resolver *identity.Resolver,
	cfg Config,
	opts ...Option,
) (*Scheduler, error) {
	if store == nil || notifier == nil || coord == nil || resolver == nil {
		return nil, fmt.Errorf("reminder: store, notifier, coordinator and resolver are required")
	}

	def := DefaultConfig()
	if cfg.LeadWindow <= 0 {
		cfg.LeadWindow = def.LeadWindow
	}
	if cfg.ApprovalWindow <= 0 {
		cfg.ApprovalWindow = def.ApprovalWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		coord:    coord,
		resolver: resolver,
		clock:    task.SystemClock{},
		logger:   logging.Nop(),
		tracer:   otel.Tracer(InstrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs sweeps every Interval until Stop is called. It returns an
// error if the scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("reminder scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info(context.Background(), "reminder scheduler started", zap.Duration("interval", s.cfg.Interval))
	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for an in-progress sweep to
// return. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info(context.Background(), "reminder scheduler stopped")
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep(stop)
		case <-stop:
			return
		}
	}
}

// safeSweep runs one scheduled sweep, cancelled by stop, and recovers a
// panic so the loop keeps ticking.
func (s *Scheduler) safeSweep(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "reminder sweep panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if _, err := s.RunSweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		s.logger.Error(ctx, "scheduled sweep failed", zap.Error(err))
	}
}
