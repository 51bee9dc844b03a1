// Package config provides configuration loading for taskrelay.
//
// Configuration is read from an optional YAML file and overridden by
// TASKRELAY_* environment variables. See LoadWithFile for precedence.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"time"
)

// Config holds the complete taskrelay configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Coordinator   CoordinatorConfig   `koanf:"coordinator"`
	Identity      IdentityConfig      `koanf:"identity"`
	Reminder      ReminderConfig      `koanf:"reminder"`
	Store         StoreConfig         `koanf:"store"`
	Messaging     MessagingConfig     `koanf:"messaging"`
	Events        EventsConfig        `koanf:"events"`
	Calendar      CalendarConfig      `koanf:"calendar"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CoordinatorConfig bounds concurrent guarded work.
type CoordinatorConfig struct {
	// MaxConcurrency is the global number of guarded sections allowed at once.
	MaxConcurrency int `koanf:"max_concurrency"`
	// LockTimeout bounds how long a caller waits for a task lock. Zero waits forever.
	LockTimeout time.Duration `koanf:"lock_timeout"`
}

// IdentityConfig controls identity resolution.
type IdentityConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	// DirectoryFile is an optional TOML member directory used instead of the store's.
	DirectoryFile string `koanf:"directory_file"`
}

// ReminderConfig controls the reminder sweep.
type ReminderConfig struct {
	Enabled               bool          `koanf:"enabled"`
	LeadWindow            time.Duration `koanf:"lead_window"`
	ApprovalWindow        time.Duration `koanf:"approval_window"`
	OverdueRepeatInterval time.Duration `koanf:"overdue_repeat_interval"`
	SweepInterval         time.Duration `koanf:"sweep_interval"`
	SweepTimeout          time.Duration `koanf:"sweep_timeout"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Driver      string        `koanf:"driver"` // memory or postgres
	PostgresDSN Secret        `koanf:"postgres_dsn"`
	CallTimeout time.Duration `koanf:"call_timeout"`
	PageSize    int           `koanf:"page_size"`
	CacheSize   int           `koanf:"cache_size"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
}

// MessagingConfig selects the notification backend.
type MessagingConfig struct {
	Driver      string        `koanf:"driver"` // log or slack
	SlackToken  Secret        `koanf:"slack_token"`
	SlackURL    string        `koanf:"slack_url"`
	CallTimeout time.Duration `koanf:"call_timeout"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second

	// RedactSecrets scrubs credentials from titles and reasons before sending.
	RedactSecrets bool `koanf:"redact_secrets"`

	// Watchers are emails told about every task approval and completion
	// approval. Entries may hold comma-separated lists.
	Watchers []string `koanf:"watchers"`
}

// EventsConfig controls publication of audit events to NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// CalendarConfig controls Google Calendar entries for approved tasks.
// The service account acts as each assignee through domain-wide
// delegation.
type CalendarConfig struct {
	Enabled         bool          `koanf:"enabled"`
	CredentialsFile string        `koanf:"credentials_file"`
	CalendarID      string        `koanf:"calendar_id"`
	EventDuration   time.Duration `koanf:"event_duration"`
	CallTimeout     time.Duration `koanf:"call_timeout"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{
		Reminder:  ReminderConfig{Enabled: true},
		Messaging: MessagingConfig{RedactSecrets: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - A timeout or interval is not positive
//   - The coordinator budget is below 1
//   - The confidence threshold is outside (0, 1]
//   - A driver name is unknown or missing its credentials
//   - A watcher is not an email address
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if p := c.Observability.Protocol; p != "grpc" && p != "http/protobuf" {
		return fmt.Errorf("unknown observability protocol %q (want grpc or http/protobuf)", p)
	}

	if c.Coordinator.MaxConcurrency < 1 {
		return fmt.Errorf("coordinator max_concurrency must be >= 1, got %d", c.Coordinator.MaxConcurrency)
	}
	if c.Coordinator.LockTimeout < 0 {
		return errors.New("coordinator lock_timeout cannot be negative")
	}

	if c.Identity.ConfidenceThreshold <= 0 || c.Identity.ConfidenceThreshold > 1 {
		return fmt.Errorf("identity confidence_threshold must be in (0, 1], got %v", c.Identity.ConfidenceThreshold)
	}

	if c.Reminder.LeadWindow <= 0 {
		return errors.New("reminder lead_window must be positive")
	}
	if c.Reminder.ApprovalWindow <= 0 {
		return errors.New("reminder approval_window must be positive")
	}
	if c.Reminder.OverdueRepeatInterval < 0 {
		return errors.New("reminder overdue_repeat_interval cannot be negative")
	}
	if c.Reminder.Enabled && c.Reminder.SweepInterval <= 0 {
		return errors.New("reminder sweep_interval must be positive when reminders are enabled")
	}
	if c.Reminder.SweepTimeout <= 0 {
		return errors.New("reminder sweep_timeout must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if !c.Store.PostgresDSN.IsSet() {
			return errors.New("store postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory or postgres)", c.Store.Driver)
	}
	if c.Store.CallTimeout <= 0 {
		return errors.New("store call_timeout must be positive")
	}

	switch c.Messaging.Driver {
	case "log":
	case "slack":
		if !c.Messaging.SlackToken.IsSet() {
			return errors.New("messaging slack_token is required for the slack driver")
		}
	default:
		return fmt.Errorf("unknown messaging driver %q (want log or slack)", c.Messaging.Driver)
	}
	if c.Messaging.CallTimeout <= 0 {
		return errors.New("messaging call_timeout must be positive")
	}

	for _, w := range c.Messaging.Watchers {
		if _, err := mail.ParseAddress(w); err != nil {
			return fmt.Errorf("messaging watcher %q is not an email address", w)
		}
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events nats_url is required when events are enabled")
	}

	if c.Calendar.Enabled && c.Calendar.CredentialsFile == "" {
		return errors.New("calendar credentials_file is required when the calendar is enabled")
	}
	if c.Calendar.EventDuration <= 0 {
		return errors.New("calendar event_duration must be positive")
	}
	if c.Calendar.CallTimeout <= 0 {
		return errors.New("calendar call_timeout must be positive")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "taskrelay"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Coordinator.MaxConcurrency == 0 {
		cfg.Coordinator.MaxConcurrency = 8
	}
	if cfg.Coordinator.LockTimeout == 0 {
		cfg.Coordinator.LockTimeout = 30 * time.Second
	}

	if cfg.Identity.ConfidenceThreshold == 0 {
		cfg.Identity.ConfidenceThreshold = 0.9
	}

	if cfg.Reminder.LeadWindow == 0 {
		cfg.Reminder.LeadWindow = 24 * time.Hour
	}
	if cfg.Reminder.ApprovalWindow == 0 {
		cfg.Reminder.ApprovalWindow = 48 * time.Hour
	}
	if cfg.Reminder.SweepInterval == 0 {
		cfg.Reminder.SweepInterval = time.Hour
	}
	if cfg.Reminder.SweepTimeout == 0 {
		cfg.Reminder.SweepTimeout = 5 * time.Minute
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.CallTimeout == 0 {
		cfg.Store.CallTimeout = 10 * time.Second
	}
	if cfg.Store.PageSize == 0 {
		cfg.Store.PageSize = 100
	}
	if cfg.Store.CacheSize == 0 {
		cfg.Store.CacheSize = 1024
	}
	if cfg.Store.CacheTTL == 0 {
		cfg.Store.CacheTTL = time.Minute
	}

	if cfg.Messaging.Driver == "" {
		cfg.Messaging.Driver = "log"
	}
	if cfg.Messaging.SlackURL == "" {
		cfg.Messaging.SlackURL = "https://slack.com/api"
	}
	if cfg.Messaging.CallTimeout == 0 {
		cfg.Messaging.CallTimeout = 10 * time.Second
	}
	if cfg.Messaging.RateLimit == 0 {
		cfg.Messaging.RateLimit = 1
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "taskrelay"
	}

	if cfg.Calendar.CalendarID == "" {
		cfg.Calendar.CalendarID = "primary"
	}
	if cfg.Calendar.EventDuration == 0 {
		cfg.Calendar.EventDuration = time.Hour
	}
	if cfg.Calendar.CallTimeout == 0 {
		cfg.Calendar.CallTimeout = 10 * time.Second
	}
}
