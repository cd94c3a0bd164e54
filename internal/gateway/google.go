package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calscribe/calscribe/internal/event"
)

// GoogleGateway implements Gateway against the Google Calendar API.
type GoogleGateway struct {
	service *calendar.Service
}

var _ Gateway = (*GoogleGateway)(nil)

// NewGoogleGateway builds a gateway from an already-authenticated HTTP
// client; authentication is the caller's concern.
func NewGoogleGateway(ctx context.Context, httpClient *http.Client) (*GoogleGateway, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleGateway{service: service}, nil
}

// GetEvent retrieves a single event by id.
func (g *GoogleGateway) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	ev, err := g.service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, translate("get event", err)
	}
	// The API reports a cancelled event rather than a 404 when it was
	// deleted through certain clients. Treat it as gone.
	if ev.Status == "cancelled" {
		return nil, &Error{Kind: KindNotFound, Op: "get event", Err: fmt.Errorf("event %s is cancelled", eventID)}
	}
	return ev, nil
}

// InsertEvent creates an event and returns the remote handle. Notifications
// are suppressed; this tool writes batches, not invitations.
func (g *GoogleGateway) InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (Handle, error) {
	created, err := g.service.Events.Insert(calendarID, ev).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return Handle{}, translate("insert event", err)
	}
	return Handle{CalendarID: calendarID, EventID: created.Id}, nil
}

// UpdateEvent applies new field values to an existing event.
func (g *GoogleGateway) UpdateEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (Handle, error) {
	updated, err := g.service.Events.Patch(calendarID, eventID, ev).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return Handle{}, translate("update event", err)
	}
	return Handle{CalendarID: calendarID, EventID: updated.Id}, nil
}

// DeleteEvent removes an event. Missing events surface as NotFound.
func (g *GoogleGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := g.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return translate("delete event", err)
	}
	return nil
}

// FindEvents searches a calendar. A dedupe key query uses the private
// extended property and keeps recurring masters collapsed, so a previously
// created recurring event matches as one item.
func (g *GoogleGateway) FindEvents(ctx context.Context, calendarID string, q FindQuery) ([]*calendar.Event, error) {
	call := g.service.Events.List(calendarID).Context(ctx)

	if q.DedupeKey != "" {
		call = call.
			PrivateExtendedProperty(fmt.Sprintf("%s=%s", event.DedupeKeyProperty, q.DedupeKey)).
			SingleEvents(false).
			MaxResults(1)
	} else {
		call = call.SingleEvents(true).OrderBy("startTime")
		if q.Title != "" {
			call = call.Q(q.Title)
		}
		if !q.TimeMin.IsZero() {
			call = call.TimeMin(q.TimeMin.Format(time.RFC3339))
		}
		if !q.TimeMax.IsZero() {
			call = call.TimeMax(q.TimeMax.Format(time.RFC3339))
		}
	}

	list, err := call.Do()
	if err != nil {
		return nil, translate("find events", err)
	}
	return list.Items, nil
}

// EnsureCalendar resolves a calendar name or id to an id. "primary" and
// anything matching an existing id pass through; an unmatched name creates a
// secondary calendar in the user's default timezone.
func (g *GoogleGateway) EnsureCalendar(ctx context.Context, nameOrID string) (string, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" || nameOrID == "primary" {
		return "primary", nil
	}

	list, err := g.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", translate("list calendars", err)
	}
	for _, entry := range list.Items {
		if entry.Id == nameOrID || entry.Summary == nameOrID {
			return entry.Id, nil
		}
	}

	tz, err := g.DefaultTimeZone(ctx)
	if err != nil {
		tz = "UTC"
	}
	created, err := g.service.Calendars.Insert(&calendar.Calendar{
		Summary:  nameOrID,
		TimeZone: tz,
	}).Context(ctx).Do()
	if err != nil {
		return "", translate("create calendar", err)
	}
	return created.Id, nil
}

// ListCalendars returns the calendars visible to the authenticated user.
func (g *GoogleGateway) ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	var entries []*calendar.CalendarListEntry
	call := g.service.CalendarList.List().Context(ctx)
	err := call.Pages(ctx, func(page *calendar.CalendarList) error {
		entries = append(entries, page.Items...)
		return nil
	})
	if err != nil {
		return nil, translate("list calendars", err)
	}
	return entries, nil
}

// DefaultTimeZone reads the user's timezone setting, falling back to the
// primary calendar's zone and finally to UTC. The fallback is deliberate,
// so the error is always nil.
func (g *GoogleGateway) DefaultTimeZone(ctx context.Context) (string, error) {
	setting, err := g.service.Settings.Get("timezone").Context(ctx).Do()
	if err == nil && setting.Value != "" {
		return setting.Value, nil
	}

	cal, calErr := g.service.Calendars.Get("primary").Context(ctx).Do()
	if calErr == nil && cal.TimeZone != "" {
		return cal.TimeZone, nil
	}

	return "UTC", nil
}
