package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type failingAppendStore struct {
	*task.MemoryStore
}

func (failingAppendStore) AppendAuditEvent(context.Context, task.AuditEvent) error {
	return errors.New("append failed")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "taskrelay.audit.abc", Subject("", "abc"))
	assert.Equal(t, "acme.tasks.audit.abc", Subject("acme.tasks", "abc"))
	assert.Equal(t, "taskrelay.audit.a_b_c", Subject("", "a.b>c"))
}

func TestPublishingStore_PublishesAfterAppend(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), nil)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("acme.audit.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	mem := task.NewMemoryStore(10)
	store := NewPublishingStore(mem, nc, "acme", nil)

	e := task.NewAuditEvent("task-1", task.AuditApproved, "alex@example.com", "", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, store.AppendAuditEvent(context.Background(), e))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "acme.audit.task-1", msg.Subject)

	var got task.AuditEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, task.AuditApproved, got.Type)

	stored, err := mem.AuditEvents(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestPublishingStore_AppendFailureIsNotPublished(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("taskrelay.audit.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	store := NewPublishingStore(failingAppendStore{task.NewMemoryStore(10)}, nc, "", nil)
	err = store.AppendAuditEvent(context.Background(), task.NewAuditEvent("task-1", task.AuditRejected, "", "", time.Now()))
	require.Error(t, err)

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestPublishingStore_PublishFailureIsLogged(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	logger := logging.NewTestLogger()
	store := NewPublishingStore(task.NewMemoryStore(10), nc, "", logger.Logger)

	err = store.AppendAuditEvent(context.Background(), task.NewAuditEvent("task-1", task.AuditSubmitted, "", "", time.Now()))
	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.WarnLevel, "audit event not published")
}

func TestPublishingStore_ExposesWrappedCapabilities(t *testing.T) {
	mem := task.NewMemoryStore(10)
	store := NewPublishingStore(task.NewCachedStore(mem, 10, time.Minute), nil, "", nil)

	_, ok := task.AuditReaderOf(store)
	assert.True(t, ok)
	_, ok = task.SummaryWriterOf(store)
	assert.True(t, ok)
}
