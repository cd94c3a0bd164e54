package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Candidate is a parsed calendar event as handed over by the chat UI or the
// structured-data importer. It is the input to fingerprinting and to the
// write orchestrator, and is never mutated after submission.
type Candidate struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Start       When     `json:"start"`
	End         When     `json:"end,omitempty"`
	Recurrence  []string `json:"recurrence,omitempty"`
}

// When is a point in time in the shape the calendar service uses: either an
// all-day date or a timed date-time with an optional IANA timezone.
type When struct {
	Date     string `json:"date,omitempty"`     // "2006-01-02" for all-day events
	DateTime string `json:"dateTime,omitempty"` // RFC3339 or local "2006-01-02T15:04[:05]"
	TimeZone string `json:"timeZone,omitempty"` // IANA name, e.g. "America/Toronto"
}

// IsZero reports whether no date or date-time is set.
func (w When) IsZero() bool {
	return w.Date == "" && w.DateTime == ""
}

// UnmarshalJSON accepts either the object form or a bare string. A string
// that parses as "2006-01-02" becomes an all-day date; anything else is
// taken as a date-time.
func (w *When) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if _, perr := time.Parse("2006-01-02", s); perr == nil {
			w.Date = s
		} else {
			w.DateTime = s
		}
		return nil
	}

	type plain When
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = When(p)
	return nil
}

// Local date-time layouts accepted on input, tried in order.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Resolve converts the When to an absolute instant. Date-times without an
// offset are interpreted in the When's timezone, falling back to defaultTZ.
// All-day dates resolve to midnight in the same location.
func (w When) Resolve(defaultTZ *time.Location) (time.Time, error) {
	loc := defaultTZ
	if loc == nil {
		loc = time.UTC
	}
	if w.TimeZone != "" {
		l, err := time.LoadLocation(w.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", w.TimeZone, err)
		}
		loc = l
	}

	if w.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", w.Date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", w.Date, err)
		}
		return t, nil
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, w.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", w.DateTime)
}

// Validate checks the fields a Candidate must carry before it may be
// fingerprinted or written. Violations are per-event failures, never
// batch-level ones.
func (c Candidate) Validate(defaultTZ *time.Location) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("event has no title")
	}
	if c.Start.IsZero() {
		return fmt.Errorf("event %q has no start", c.Title)
	}
	if c.Start.Date != "" && c.Start.DateTime != "" {
		return fmt.Errorf("event %q: start has both date and dateTime", c.Title)
	}
	if _, err := c.Start.Resolve(defaultTZ); err != nil {
		return fmt.Errorf("event %q: %w", c.Title, err)
	}
	if !c.End.IsZero() {
		if c.End.Date != "" && c.End.DateTime != "" {
			return fmt.Errorf("event %q: end has both date and dateTime", c.Title)
		}
		if _, err := c.End.Resolve(defaultTZ); err != nil {
			return fmt.Errorf("event %q: %w", c.Title, err)
		}
	}
	return nil
}

// effectiveEnd returns the End, defaulting from Start when absent.
func (c Candidate) effectiveEnd() When {
	if !c.End.IsZero() {
		return c.End
	}
	return c.Start
}

// ToGoogleEvent builds the calendar.Event wire representation. The dedupe
// key is stamped into the private extended properties so the remote store
// itself can be searched for previously created copies. Reminder overrides
// differ between timed and all-day events.
func (c Candidate) ToGoogleEvent(defaultTZ *time.Location, dedupeKey string) *calendar.Event {
	ev := &calendar.Event{
		Summary:     strings.TrimSpace(c.Title),
		Description: c.Description,
		Location:    strings.TrimSpace(c.Location),
		Recurrence:  c.Recurrence,
		Start:       c.Start.toGoogle(defaultTZ),
		End:         c.effectiveEnd().toGoogle(defaultTZ),
		Reminders:   c.reminders(),
	}
	if dedupeKey != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{DedupeKeyProperty: dedupeKey},
		}
	}
	return ev
}

func (w When) toGoogle(defaultTZ *time.Location) *calendar.EventDateTime {
	if w.Date != "" {
		return &calendar.EventDateTime{Date: w.Date}
	}
	tz := w.TimeZone
	if tz == "" && defaultTZ != nil {
		tz = defaultTZ.String()
	}
	edt := &calendar.EventDateTime{TimeZone: tz}
	if t, err := w.Resolve(defaultTZ); err == nil {
		edt.DateTime = t.Format(time.RFC3339)
	} else {
		edt.DateTime = w.DateTime
	}
	return edt
}

func (c Candidate) reminders() *calendar.EventReminders {
	var overrides []*calendar.EventReminder
	if c.Start.DateTime != "" {
		overrides = []*calendar.EventReminder{
			{Method: "email", Minutes: 24 * 60},
			{Method: "popup", Minutes: 7 * 24 * 60},
			{Method: "popup", Minutes: 2 * 60},
			{Method: "popup", Minutes: 24 * 60},
			{Method: "popup", Minutes: 2 * 24 * 60},
		}
	} else {
		overrides = []*calendar.EventReminder{
			{Method: "popup", Minutes: 7 * 24 * 60},
			{Method: "email", Minutes: 24 * 60},
			{Method: "popup", Minutes: 24 * 60},
			{Method: "popup", Minutes: 2 * 24 * 60},
			{Method: "popup", Minutes: 3 * 24 * 60},
		}
	}
	return &calendar.EventReminders{
		UseDefault:      false,
		Overrides:       overrides,
		ForceSendFields: []string{"UseDefault"},
	}
}
