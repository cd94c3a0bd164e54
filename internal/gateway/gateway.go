// Package gateway abstracts the remote calendar service behind a small
// capability interface so the write orchestrator and its tests never touch
// the wire directly. Implementations translate transport failures into the
// package's error taxonomy and never retry; retry policy lives with the
// caller so batch-level backoff stays visible in one place.
package gateway

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Handle identifies a remote event. It is always taken from a gateway
// response; remote ids are never predicted locally.
type Handle struct {
	CalendarID string
	EventID    string
}

// FindQuery narrows a FindEvents call. DedupeKey searches the private
// extended property stamped on app-created events; Title and the time range
// support the looser search surface.
type FindQuery struct {
	DedupeKey string
	Title     string
	TimeMin   time.Time
	TimeMax   time.Time
}

// Gateway is the operation set this core needs from a calendar service.
type Gateway interface {
	// GetEvent fetches one event. A missing event is a NotFound error.
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)

	// InsertEvent creates an event and returns its remote handle.
	InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (Handle, error)

	// UpdateEvent replaces an event's fields and returns its handle.
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (Handle, error)

	// DeleteEvent removes an event. A missing event is a NotFound error;
	// callers that want idempotent deletes treat that as success.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error

	// FindEvents searches a calendar.
	FindEvents(ctx context.Context, calendarID string, q FindQuery) ([]*calendar.Event, error)

	// EnsureCalendar resolves a calendar name or id to an id, creating the
	// calendar when a name matches nothing.
	EnsureCalendar(ctx context.Context, nameOrID string) (string, error)

	// DefaultTimeZone reports the authenticated user's calendar timezone.
	DefaultTimeZone(ctx context.Context) (string, error)
}
