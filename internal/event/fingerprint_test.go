package event

import (
	"testing"
	"time"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load location %s: %v", name, err)
	}
	return loc
}

func TestNewFingerprint_Deterministic(t *testing.T) {
	c := Candidate{
		Title:    "Midterm",
		Start:    When{DateTime: "2025-06-06T00:00"},
		End:      When{DateTime: "2025-06-06T23:59"},
		Location: "Room 101",
	}

	fp1 := NewFingerprint(c, time.UTC)
	fp2 := NewFingerprint(c, time.UTC)

	if fp1 != fp2 {
		t.Errorf("Expected identical fingerprints for identical input, got %s and %s", fp1, fp2)
	}
	if len(fp1) != 40 {
		t.Errorf("Expected a 40-char hex digest, got %q", fp1)
	}
}

func TestNewFingerprint_IgnoresDescription(t *testing.T) {
	base := Candidate{
		Title: "Team Standup",
		Start: When{DateTime: "2025-03-10T09:00", TimeZone: "America/Toronto"},
	}
	other := base
	other.Description = "Completely different wording of the agenda."

	if NewFingerprint(base, time.UTC) != NewFingerprint(other, time.UTC) {
		t.Error("Expected description changes to leave the fingerprint unchanged")
	}
}

func TestNewFingerprint_SensitiveToIdentityFields(t *testing.T) {
	base := Candidate{
		Title:    "Review",
		Start:    When{DateTime: "2025-03-10T09:00"},
		End:      When{DateTime: "2025-03-10T10:00"},
		Location: "HQ",
	}
	baseFP := NewFingerprint(base, time.UTC)

	cases := map[string]Candidate{}

	changed := base
	changed.Title = "Retro"
	cases["title"] = changed

	changed = base
	changed.Start = When{DateTime: "2025-03-10T09:30"}
	cases["start"] = changed

	changed = base
	changed.End = When{DateTime: "2025-03-10T11:00"}
	cases["end"] = changed

	changed = base
	changed.Location = "Offsite"
	cases["location"] = changed

	changed = base
	changed.Recurrence = []string{"RRULE:FREQ=WEEKLY"}
	cases["recurrence"] = changed

	for field, c := range cases {
		if NewFingerprint(c, time.UTC) == baseFP {
			t.Errorf("Expected changing %s to change the fingerprint", field)
		}
	}
}

func TestNewFingerprint_TitleNormalization(t *testing.T) {
	a := Candidate{Title: "  Weekly Sync  ", Start: When{Date: "2025-05-01"}}
	b := Candidate{Title: "weekly sync", Start: When{Date: "2025-05-01"}}

	if NewFingerprint(a, time.UTC) != NewFingerprint(b, time.UTC) {
		t.Error("Expected trimmed, case-folded titles to hash identically")
	}
}

func TestNewFingerprint_TimezoneEquivalence(t *testing.T) {
	// The same instant written with an explicit offset and as a local time
	// in the matching zone must produce the same fingerprint.
	toronto := mustLoadLocation(t, "America/Toronto")

	a := Candidate{Title: "Call", Start: When{DateTime: "2025-06-06T10:00:00-04:00"}}
	b := Candidate{Title: "Call", Start: When{DateTime: "2025-06-06T10:00", TimeZone: "America/Toronto"}}
	c := Candidate{Title: "Call", Start: When{DateTime: "2025-06-06T10:00"}}

	if NewFingerprint(a, time.UTC) != NewFingerprint(b, time.UTC) {
		t.Error("Expected offset and zone spellings of the same instant to hash identically")
	}
	if NewFingerprint(c, toronto) != NewFingerprint(a, time.UTC) {
		t.Error("Expected the default timezone to resolve naive date-times")
	}
}

func TestNewFingerprint_EndDefaultsFromStart(t *testing.T) {
	a := Candidate{Title: "All Day", Start: When{Date: "2025-05-01"}}
	b := Candidate{Title: "All Day", Start: When{Date: "2025-05-01"}, End: When{Date: "2025-05-01"}}

	if NewFingerprint(a, time.UTC) != NewFingerprint(b, time.UTC) {
		t.Error("Expected a missing end to default from the start")
	}
}

func TestNewFingerprint_RecurrenceCanonicalization(t *testing.T) {
	a := Candidate{
		Title:      "Lecture",
		Start:      When{DateTime: "2025-09-01T10:00"},
		Recurrence: []string{"rrule:freq=weekly;byday=mo"},
	}
	b := Candidate{
		Title:      "Lecture",
		Start:      When{DateTime: "2025-09-01T10:00"},
		Recurrence: []string{"RRULE:BYDAY=MO;FREQ=WEEKLY"},
	}

	if NewFingerprint(a, time.UTC) != NewFingerprint(b, time.UTC) {
		t.Error("Expected equivalent RRULE spellings to hash identically")
	}
}

func TestNewFingerprint_TotalOnMalformedInput(t *testing.T) {
	// Fingerprinting must never fail, even for events that would not pass
	// validation. Malformed fields degrade to their raw text.
	c := Candidate{
		Title:      "Broken",
		Start:      When{DateTime: "not-a-time"},
		Recurrence: []string{"RRULE:FREQ=NONSENSE"},
	}

	fp1 := NewFingerprint(c, time.UTC)
	fp2 := NewFingerprint(c, time.UTC)
	if fp1 != fp2 || fp1 == "" {
		t.Errorf("Expected a stable non-empty fingerprint for malformed input, got %q and %q", fp1, fp2)
	}
}
