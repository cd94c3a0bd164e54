// Package ingest turns pasted structured data into candidate events. It
// accepts the JSON batch shape produced by the parsing front-end and raw
// iCalendar data, and hands back the normalized candidates the orchestrator
// consumes. Parsing quality of free text is the front-end's problem, not
// this package's.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calscribe/calscribe/internal/event"
)

// FromJSON decodes a JSON array of candidate events. Field shapes follow
// event.Candidate; start and end also accept bare date or date-time strings.
func FromJSON(r io.Reader) ([]event.Candidate, error) {
	var events []event.Candidate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to parse events JSON: %w", err)
	}
	return events, nil
}

// FromFile reads candidate events from a file, choosing the decoder by
// extension: .ics for iCalendar, anything else for JSON.
func FromFile(path string) ([]event.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".ics") {
		return FromICS(f)
	}
	return FromJSON(f)
}
