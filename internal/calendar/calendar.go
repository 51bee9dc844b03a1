// Package calendar keeps a Google Calendar event in step with each
// approved task. Events live on the assignee's own calendar; a service
// account with domain-wide delegation acts as the assignee.
//
// The event for a task is found through a private extended property
// holding the task id, so repeated syncs patch one event instead of
// creating duplicates.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/task"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// PropertyTaskID is the private extended property that links an event
// to its task.
const PropertyTaskID = "taskrelay_id"

const (
	defaultCalendarID = "primary"
	defaultDuration   = time.Hour
	defaultTimeout    = 10 * time.Second

	// maxServices bounds the per-assignee API clients kept around.
	maxServices = 256
)

// ErrNoAssignee is returned for a task without an assignee email.
var ErrNoAssignee = errors.New("task has no assignee email")

// Config configures a Syncer.
type Config struct {
	CalendarID string
	// EventDuration is how long before the due date the event starts.
	EventDuration time.Duration
	// Timeout bounds one SyncTask call.
	Timeout time.Duration
	// Endpoint overrides the Calendar API root.
	Endpoint string
}

// ClientFunc returns an HTTP client that calls the API as subject.
type ClientFunc func(subject string) *http.Client

// Syncer writes task events through the Calendar API.
type Syncer struct {
	cfg      Config
	clients  ClientFunc
	services *lru.Cache[string, *gcal.Service]
}

// New creates a Syncer from a service account key. Each call acts as the
// task's assignee, which requires domain-wide delegation for the
// calendar.events scope.
func New(credentialsJSON []byte, cfg Config) (*Syncer, error) {
	jwt, err := google.JWTConfigFromJSON(credentialsJSON, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return NewWithClients(func(subject string) *http.Client {
		delegated := *jwt
		delegated.Subject = subject
		// The client outlives any one request, so its token source gets
		// a background context.
		return delegated.Client(context.Background())
	}, cfg)
}

// NewWithClients creates a Syncer that authenticates through clients.
func NewWithClients(clients ClientFunc, cfg Config) (*Syncer, error) {
	if clients == nil {
		return nil, errors.New("calendar client func required")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	if cfg.EventDuration <= 0 {
		cfg.EventDuration = defaultDuration
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	services, err := lru.New[string, *gcal.Service](maxServices)
	if err != nil {
		return nil, err
	}
	return &Syncer{cfg: cfg, clients: clients, services: services}, nil
}

// SyncTask creates or updates the event for t on the assignee's calendar.
func (s *Syncer) SyncTask(ctx context.Context, t *task.Task) error {
	if t == nil || t.Assignee.Email == "" {
		return ErrNoAssignee
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	svc, err := s.service(ctx, t.Assignee.Email)
	if err != nil {
		return err
	}

	want := EventFor(t, s.cfg.EventDuration)
	existing, err := s.find(ctx, svc, t.ID)
	if err != nil {
		return &task.CollaboratorError{Op: "calendar_list", Err: err}
	}
	if existing == nil {
		if _, err := svc.Events.Insert(s.cfg.CalendarID, want).Context(ctx).Do(); err != nil {
			return &task.CollaboratorError{Op: "calendar_insert", Err: err}
		}
		return nil
	}
	if !needsUpdate(existing, want) {
		return nil
	}
	if _, err := svc.Events.Patch(s.cfg.CalendarID, existing.Id, want).Context(ctx).Do(); err != nil {
		return &task.CollaboratorError{Op: "calendar_patch", Err: err}
	}
	return nil
}

func (s *Syncer) service(ctx context.Context, subject string) (*gcal.Service, error) {
	subject = strings.ToLower(subject)
	if svc, ok := s.services.Get(subject); ok {
		return svc, nil
	}
	opts := []option.ClientOption{option.WithHTTPClient(s.clients(subject))}
	if s.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.cfg.Endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service for %s: %w", subject, err)
	}
	s.services.Add(subject, svc)
	return svc, nil
}

// find returns the event carrying taskID, or nil.
func (s *Syncer) find(ctx context.Context, svc *gcal.Service, taskID string) (*gcal.Event, error) {
	events, err := svc.Events.List(s.cfg.CalendarID).
		PrivateExtendedProperty(PropertyTaskID + "=" + taskID).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) == 0 {
		return nil, nil
	}
	return events.Items[0], nil
}

// EventFor builds the event for t. It ends at the due date.
func EventFor(t *task.Task, duration time.Duration) *gcal.Event {
	due := t.DueDate.UTC()
	summary := t.Title
	if t.Status == task.StatusCompleted {
		summary = "Done: " + t.Title
	}

	var desc strings.Builder
	if t.Description != "" {
		desc.WriteString(t.Description)
		desc.WriteString("\n\n")
	}
	fmt.Fprintf(&desc, "Requested by %s.", t.Requester.Email)

	return &gcal.Event{
		Summary:     summary,
		Description: desc.String(),
		Start:       &gcal.EventDateTime{DateTime: due.Add(-duration).Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: due.Format(time.RFC3339), TimeZone: "UTC"},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{PropertyTaskID: t.ID},
		},
	}
}

func needsUpdate(existing, want *gcal.Event) bool {
	if existing.Summary != want.Summary || existing.Description != want.Description {
		return true
	}
	return !sameTime(existing.Start, want.Start) || !sameTime(existing.End, want.End)
}

func sameTime(a, b *gcal.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, errA := time.Parse(time.RFC3339, a.DateTime)
	tb, errB := time.Parse(time.RFC3339, b.DateTime)
	return errA == nil && errB == nil && ta.Equal(tb)
}
