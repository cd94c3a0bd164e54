package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/calscribe/calscribe/internal/event"
)

// FromICS decodes candidate events from iCalendar data. Every VEVENT across
// all VCALENDAR objects in the stream becomes one candidate. Components
// without the fields a candidate needs still come back; validation happens
// at write time so the user sees a per-event reason, not a parse abort.
func FromICS(r io.Reader) ([]event.Candidate, error) {
	var events []event.Candidate

	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse iCalendar data: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			events = append(events, eventFromComponent(comp))
		}
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("no events found in iCalendar data")
	}
	return events, nil
}

func eventFromComponent(comp *ical.Component) event.Candidate {
	var c event.Candidate

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		c.Title = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		c.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		c.Location = p.Value
	}
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		c.Start = decodeWhen(p)
	}
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		c.End = decodeWhen(p)
	}
	for _, p := range comp.Props[ical.PropRecurrenceRule] {
		c.Recurrence = append(c.Recurrence, "RRULE:"+p.Value)
	}

	return c
}

// decodeWhen maps an iCalendar DTSTART/DTEND property onto the When shape:
// VALUE=DATE becomes an all-day date, a trailing Z a UTC instant, and a
// floating time keeps its TZID so the default-timezone rules apply later.
func decodeWhen(p *ical.Prop) event.When {
	value := strings.TrimSpace(p.Value)

	if p.Params.Get("VALUE") == "DATE" {
		if t, err := time.Parse("20060102", value); err == nil {
			return event.When{Date: t.Format("2006-01-02")}
		}
		return event.When{Date: value}
	}

	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return event.When{DateTime: t.UTC().Format(time.RFC3339)}
	}
	if t, err := time.Parse("20060102T150405", value); err == nil {
		return event.When{
			DateTime: t.Format("2006-01-02T15:04:05"),
			TimeZone: p.Params.Get("TZID"),
		}
	}
	return event.When{DateTime: value}
}
