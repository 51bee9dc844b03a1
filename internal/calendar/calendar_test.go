package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
)

// fakeCalendar serves the events list, insert and patch calls on the
// primary calendar.
type fakeCalendar struct {
	t *testing.T

	mu       sync.Mutex
	events   map[string]*gcal.Event
	inserts  int
	patches  int
	failWith int
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"delegation denied"}}`))
		return
	}

	const collection = "/calendars/primary/events"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == collection:
		want := r.URL.Query().Get("privateExtendedProperty")
		items := []*gcal.Event{}
		for _, ev := range f.events {
			if ev.ExtendedProperties != nil && PropertyTaskID+"="+ev.ExtendedProperties.Private[PropertyTaskID] == want {
				items = append(items, ev)
			}
		}
		f.write(w, &gcal.Events{Items: items})

	case r.Method == http.MethodPost && r.URL.Path == collection:
		var ev gcal.Event
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&ev))
		f.inserts++
		ev.Id = fmt.Sprintf("ev%d", f.inserts)
		f.events[ev.Id] = &ev
		f.write(w, &ev)

	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, collection+"/"):
		id := strings.TrimPrefix(r.URL.Path, collection+"/")
		ev, ok := f.events[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var patch gcal.Event
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&patch))
		f.patches++
		ev.Summary = patch.Summary
		ev.Description = patch.Description
		ev.Start = patch.Start
		ev.End = patch.End
		f.write(w, ev)

	default:
		f.t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeCalendar) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeCalendar) only(t *testing.T) *gcal.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 1)
	for _, ev := range f.events {
		return ev
	}
	return nil
}

type subjects struct {
	mu   sync.Mutex
	seen []string
}

func (s *subjects) add(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, subject)
}

func newTestSyncer(t *testing.T) (*Syncer, *fakeCalendar, *subjects) {
	t.Helper()
	fake := &fakeCalendar{t: t, events: map[string]*gcal.Event{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	subs := &subjects{}
	s, err := NewWithClients(func(subject string) *http.Client {
		subs.add(subject)
		return srv.Client()
	}, Config{Endpoint: srv.URL + "/", EventDuration: 30 * time.Minute})
	require.NoError(t, err)
	return s, fake, subs
}

func approvedTask() *task.Task {
	return &task.Task{
		ID:          "task-1",
		Title:       "Quarterly budget",
		Description: "Numbers for Q2",
		Requester:   task.Party{Email: "rita@example.com"},
		Assignee:    task.Party{Email: "Alex@Example.com"},
		DueDate:     time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC),
		Status:      task.StatusApproved,
	}
}

func TestSyncTask_CreatesEventOnAssigneeCalendar(t *testing.T) {
	s, fake, subs := newTestSyncer(t)

	require.NoError(t, s.SyncTask(context.Background(), approvedTask()))

	ev := fake.only(t)
	assert.Equal(t, "Quarterly budget", ev.Summary)
	assert.Contains(t, ev.Description, "Numbers for Q2")
	assert.Contains(t, ev.Description, "rita@example.com")
	assert.Equal(t, "2026-03-06T16:30:00Z", ev.Start.DateTime)
	assert.Equal(t, "2026-03-06T17:00:00Z", ev.End.DateTime)
	assert.Equal(t, "task-1", ev.ExtendedProperties.Private[PropertyTaskID])
	assert.Equal(t, []string{"alex@example.com"}, subs.seen)
}

func TestSyncTask_UpdatesExistingEvent(t *testing.T) {
	s, fake, subs := newTestSyncer(t)
	tk := approvedTask()
	require.NoError(t, s.SyncTask(context.Background(), tk))

	// Unchanged task: no write.
	require.NoError(t, s.SyncTask(context.Background(), tk))
	assert.Equal(t, 0, fake.patches)

	tk.DueDate = tk.DueDate.Add(48 * time.Hour)
	require.NoError(t, s.SyncTask(context.Background(), tk))

	tk.Status = task.StatusCompleted
	require.NoError(t, s.SyncTask(context.Background(), tk))

	ev := fake.only(t)
	assert.Equal(t, 1, fake.inserts)
	assert.Equal(t, 2, fake.patches)
	assert.Equal(t, "2026-03-08T17:00:00Z", ev.End.DateTime)
	assert.Equal(t, "Done: Quarterly budget", ev.Summary)
	assert.Len(t, subs.seen, 1, "the per-assignee service is reused")
}

func TestSyncTask_APIError(t *testing.T) {
	s, fake, _ := newTestSyncer(t)
	fake.failWith = http.StatusForbidden

	err := s.SyncTask(context.Background(), approvedTask())
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrCollaboratorUnavailable)
	assert.Contains(t, err.Error(), "calendar_list")
}

func TestSyncTask_RequiresAssignee(t *testing.T) {
	s, _, _ := newTestSyncer(t)
	tk := approvedTask()
	tk.Assignee = task.Party{}

	assert.ErrorIs(t, s.SyncTask(context.Background(), tk), ErrNoAssignee)
}

func TestNew_RejectsInvalidKey(t *testing.T) {
	_, err := New([]byte(`{"type":"authorized_user"}`), Config{})
	assert.Error(t, err)
}

func TestEventFor_EndsAtDueDate(t *testing.T) {
	tk := approvedTask()
	tk.DueDate = time.Date(2026, 3, 6, 18, 0, 0, 0, time.FixedZone("JST", 9*3600))

	ev := EventFor(tk, time.Hour)
	assert.Equal(t, "2026-03-06T08:00:00Z", ev.Start.DateTime)
	assert.Equal(t, "2026-03-06T09:00:00Z", ev.End.DateTime)
	assert.Equal(t, "UTC", ev.Start.TimeZone)
}
