package event

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DedupeKeyProperty is the private extended property under which the
// fingerprint of an app-created event is stored on the remote copy.
const DedupeKeyProperty = "appCreatedKey"

// Fingerprint is a deterministic digest of an event's identifying fields.
type Fingerprint string

// fieldSep keeps field boundaries unambiguous in the digest input.
const fieldSep = "\x1f"

// NewFingerprint derives the identity digest for a candidate event. It is a
// pure function of {title, start, end, location, recurrence} after
// normalization; the description never participates, so rewording free text
// cannot change an event's identity. It is total: malformed fields fall back
// to their trimmed raw form rather than failing.
func NewFingerprint(c Candidate, defaultTZ *time.Location) Fingerprint {
	parts := []string{
		strings.ToLower(strings.TrimSpace(c.Title)),
		canonicalInstant(c.Start, defaultTZ),
		canonicalInstant(c.effectiveEnd(), defaultTZ),
		strings.ToLower(strings.TrimSpace(c.Location)),
		canonicalRecurrence(c.Recurrence),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, fieldSep)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// canonicalInstant renders a When in a timezone-independent form: all-day
// dates stay as the calendar date, timed values become UTC instants. Two
// spellings of the same moment normalize identically.
func canonicalInstant(w When, defaultTZ *time.Location) string {
	if w.IsZero() {
		return ""
	}
	if w.Date != "" {
		return strings.TrimSpace(w.Date)
	}
	t, err := w.Resolve(defaultTZ)
	if err != nil {
		return strings.TrimSpace(w.DateTime)
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// canonicalRecurrence normalizes RRULE lines through rrule-go so equivalent
// spellings compare equal, then sorts for order independence. Lines that do
// not parse are kept as upper-cased text.
func canonicalRecurrence(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	canon := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		canon = append(canon, canonicalRule(line))
	}
	sort.Strings(canon)
	return strings.Join(canon, ",")
}

func canonicalRule(line string) string {
	upper := strings.ToUpper(line)
	body, isRule := strings.CutPrefix(upper, "RRULE:")
	if !isRule {
		return upper
	}
	r, err := rrule.StrToRRule(body)
	if err != nil {
		return upper
	}
	return "RRULE:" + r.String()
}
