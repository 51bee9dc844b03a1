package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/taskrelay/internal/calendar"
	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/coordinator"
	"github.com/fyrsmithlabs/taskrelay/internal/events"
	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/messaging"
	"github.com/fyrsmithlabs/taskrelay/internal/messaging/slack"
	"github.com/fyrsmithlabs/taskrelay/internal/metrics"
	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"github.com/fyrsmithlabs/taskrelay/internal/store/postgres"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/fyrsmithlabs/taskrelay/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

// app holds the wired components shared by serve and sweep.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	store     task.Store
	coord     *coordinator.Coordinator
	resolver  *identity.Resolver
	notifier  task.Notifier
	service   *lifecycle.Service
	scheduler *reminder.Scheduler

	pg       *postgres.Store
	natsConn *nats.Conn
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromConfig(cfg.Logging, cfg.Observability)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, global.GetLoggerProvider())
}

// newApp wires every component.
//
// Store decorators are layered innermost first: the backend, the audit
// event publisher, the read cache, then call timeouts. Summary writes and
// audit reads reach the backend through Unwrap.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	a.telemetry = tel
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", h.Problems))
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.initStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	profiles, err := a.initMessaging()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	members, err := a.memberDirectory()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.coord = coordinator.New(coordinator.Config{
		MaxConcurrency: cfg.Coordinator.MaxConcurrency,
		LockTimeout:    cfg.Coordinator.LockTimeout,
	}, coordinator.WithObserver(a.metrics))

	a.resolver = identity.NewResolver(profiles, members,
		identity.WithLogger(logger),
		identity.WithThreshold(cfg.Identity.ConfidenceThreshold),
		identity.WithOutcomeObserver(a.metrics.IdentityOutcome),
	)

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithTracer(tel.Tracer(lifecycle.InstrumentationName)),
		lifecycle.WithWatchers(cfg.Messaging.Watchers),
	}
	if cfg.Calendar.Enabled {
		cal, err := newCalendar(cfg.Calendar)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithCalendar(cal))
	}
	a.service = lifecycle.NewService(a.store, a.notifier, a.coord, a.resolver, lifecycleOpts...)

	a.scheduler, err = reminder.NewScheduler(a.store, a.notifier, a.coord, a.resolver,
		reminderConfig(cfg.Reminder),
		reminder.WithLogger(logger),
		reminder.WithMetrics(a.metrics),
		reminder.WithTracer(tel.Tracer(reminder.InstrumentationName)),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) initStore(ctx context.Context) error {
	var backend task.Store
	switch a.cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, a.cfg.Store.PostgresDSN.Value(), a.cfg.Store.PageSize)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.pg = pg
		backend = pg
	default:
		a.logger.Warn(ctx, "using in-memory store; tasks are lost on restart")
		backend = task.NewMemoryStore(a.cfg.Store.PageSize)
	}

	if a.cfg.Events.Enabled {
		nc, err := events.Connect(a.cfg.Events.NATSURL, a.logger)
		if err != nil {
			return err
		}
		a.natsConn = nc
		backend = events.NewPublishingStore(backend, nc, a.cfg.Events.SubjectPrefix, a.logger)
	}

	cached := task.NewCachedStore(backend, a.cfg.Store.CacheSize, a.cfg.Store.CacheTTL)
	a.store = task.WithTimeouts(cached, a.cfg.Store.CallTimeout)
	return nil
}

// initMessaging selects the notifier and returns the matching profile
// lookup, which is nil for the log driver.
func (a *app) initMessaging() (identity.ProfileLookup, error) {
	mc := a.cfg.Messaging
	switch mc.Driver {
	case "slack":
		client, err := slack.New(slack.Config{
			Token:     mc.SlackToken.Value(),
			BaseURL:   mc.SlackURL,
			Timeout:   mc.CallTimeout,
			RateLimit: mc.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create slack client: %w", err)
		}
		a.notifier = a.notifierFor(client)
		return client, nil
	default:
		a.notifier = a.notifierFor(messaging.NewLogNotifier(a.logger))
		return nil, nil
	}
}

func (a *app) notifierFor(n task.Notifier) task.Notifier {
	if a.cfg.Messaging.RedactSecrets {
		n = messaging.NewRedactingNotifier(n, secrets.MustDefault(), a.logger)
	}
	return task.NotifierWithTimeout(n, a.cfg.Messaging.CallTimeout)
}

// newCalendar reads the service account key and builds the syncer.
func newCalendar(cc config.CalendarConfig) (*calendar.Syncer, error) {
	key, err := os.ReadFile(cc.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	cal, err := calendar.New(key, calendar.Config{
		CalendarID:    cc.CalendarID,
		EventDuration: cc.EventDuration,
		Timeout:       cc.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create calendar syncer: %w", err)
	}
	return cal, nil
}

// memberDirectory prefers a configured directory file, then the postgres
// member table.
func (a *app) memberDirectory() (identity.MemberDirectory, error) {
	if path := a.cfg.Identity.DirectoryFile; path != "" {
		dir, err := identity.LoadDirectoryFile(path)
		if err != nil {
			return nil, fmt.Errorf("load member directory: %w", err)
		}
		return dir, nil
	}
	if a.pg != nil {
		return a.pg, nil
	}
	return identity.NewStaticDirectory(nil), nil
}

// health reports whether the backing store is reachable.
func (a *app) health(ctx context.Context) error {
	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.natsConn != nil && !a.natsConn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Close releases external resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn(ctx, "nats drain failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
}

func reminderConfig(rc config.ReminderConfig) reminder.Config {
	return reminder.Config{
		Windows: reminder.Windows{
			LeadWindow:            rc.LeadWindow,
			ApprovalWindow:        rc.ApprovalWindow,
			OverdueRepeatInterval: rc.OverdueRepeatInterval,
		},
		Interval: rc.SweepInterval,
		Timeout:  rc.SweepTimeout,
	}
}
