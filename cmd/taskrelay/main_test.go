package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
	assert.Contains(t, out.String(), "Commit:")
}

func TestReminderConfig(t *testing.T) {
	rc := config.ReminderConfig{
		LeadWindow:            12 * time.Hour,
		ApprovalWindow:        36 * time.Hour,
		OverdueRepeatInterval: 6 * time.Hour,
		SweepInterval:         15 * time.Minute,
		SweepTimeout:          time.Minute,
	}
	got := reminderConfig(rc)
	assert.Equal(t, 12*time.Hour, got.LeadWindow)
	assert.Equal(t, 36*time.Hour, got.ApprovalWindow)
	assert.Equal(t, 6*time.Hour, got.OverdueRepeatInterval)
	assert.Equal(t, 15*time.Minute, got.Interval)
	assert.Equal(t, time.Minute, got.Timeout)
}

func TestNewApp_MemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, config.Default(), logging.Nop())
	require.NoError(t, err)
	defer a.Close(ctx)

	_, ok := task.SummaryWriterOf(a.store)
	assert.True(t, ok, "summary writes should reach the memory store through the decorators")
	assert.NoError(t, a.health(ctx))

	created, err := a.service.Submit(ctx, lifecycle.SubmitRequest{
		Title:          "Quarterly report",
		RequesterEmail: "rita@example.com",
		AssigneeEmail:  "alex@example.com",
		DueDate:        time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = a.service.Approve(ctx, created.ID, "alex@example.com")
	require.NoError(t, err)

	result, err := a.scheduler.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Accrued)
	// No messaging handles without a profile lookup, so nothing is delivered.
	assert.Equal(t, 0, result.Notified)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], reminder.ErrNotDelivered)
}

func TestNewApp_BadDirectoryFile(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.DirectoryFile = t.TempDir() + "/missing.toml"

	_, err := newApp(context.Background(), cfg, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load member directory")
}

func TestNewApp_CalendarNeedsServiceAccountKey(t *testing.T) {
	cfg := config.Default()
	cfg.Calendar.Enabled = true
	cfg.Calendar.CredentialsFile = filepath.Join(t.TempDir(), "calendar.json")
	require.NoError(t, os.WriteFile(cfg.Calendar.CredentialsFile, []byte(`{"type":"authorized_user"}`), 0600))

	_, err := newApp(context.Background(), cfg, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create calendar syncer")
}

func TestPrintSweep(t *testing.T) {
	var out bytes.Buffer
	err := printSweep(&out, &reminder.SweepResult{
		SweepID:  "sw-1",
		Checked:  2,
		Notified: 1,
		Errors:   []reminder.TaskError{{TaskID: "t-9", Err: errors.New("boom")}},
		Summaries: []task.AssigneeSummary{
			{Email: "alex@example.com", TotalTasks: 2, OverdueTasks: 1, TotalOverdueScore: 3},
		},
	})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "sw-1")
	assert.Contains(t, s, "t-9")
	assert.Contains(t, s, "boom")
	assert.Contains(t, s, "alex@example.com")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
