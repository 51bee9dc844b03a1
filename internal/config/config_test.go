package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no concurrency", func(c *Config) { c.Coordinator.MaxConcurrency = 0 }, "max_concurrency"},
		{"negative lock timeout", func(c *Config) { c.Coordinator.LockTimeout = -1 }, "lock_timeout"},
		{"threshold above one", func(c *Config) { c.Identity.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"zero lead window", func(c *Config) { c.Reminder.LeadWindow = 0 }, "lead_window"},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }, "unknown store driver"},
		{"slack without token", func(c *Config) { c.Messaging.Driver = "slack" }, "slack_token"},
		{"events without url", func(c *Config) { c.Events.Enabled = true }, "nats_url"},
		{"bad watcher", func(c *Config) { c.Messaging.Watchers = []string{"ops@example.com", "ops"} }, "watcher"},
		{"calendar without credentials", func(c *Config) { c.Calendar.Enabled = true }, "credentials_file"},
		{"zero event duration", func(c *Config) { c.Calendar.EventDuration = 0 }, "event_duration"},
		{"watchers and calendar", func(c *Config) {
			c.Messaging.Watchers = []string{"ops@example.com"}
			c.Calendar.Enabled = true
			c.Calendar.CredentialsFile = "/etc/taskrelay/calendar.json"
		}, ""},
		{"sweep interval disabled is fine", func(c *Config) {
			c.Reminder.Enabled = false
			c.Reminder.SweepInterval = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("xoxb-123")

	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "xoxb") {
		t.Errorf("formatted secret leaked value: %q", got)
	}
	data, err := json.Marshal(struct{ Token Secret }{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "xoxb") {
		t.Errorf("json leaked secret: %s", data)
	}
	if s.Value() != "xoxb-123" || !s.IsSet() {
		t.Error("Value/IsSet do not expose the raw secret")
	}
	if Secret("").String() != "" {
		t.Error("empty secret should print empty")
	}
}
