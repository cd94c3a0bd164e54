// Package cache holds the local reconciliation state: which logical events
// have already been created remotely, keyed by fingerprint, plus the
// transient batch records that back undo tokens. It is the single source of
// truth for "have we created this event before"; the remote calendar remains
// the source of truth for whether the event still exists.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/calscribe/calscribe/internal/event"
)

// Record is the last-known remote state for one fingerprint. Records are
// created on first confirmed insert, refreshed on confirmed updates, and
// removed only by undo.
type Record struct {
	Fingerprint event.Fingerprint `json:"fingerprint"`
	CalendarID  string            `json:"calendar_id"`
	EventID     string            `json:"event_id"`
	State       string            `json:"state"` // "created" or "updated"
	WrittenAt   time.Time         `json:"written_at"`
}

// Store is the keyed reconciliation store, scoped to one identity. The
// backing technology is swappable; the orchestrator only sees this surface.
type Store interface {
	Lookup(fp event.Fingerprint) (Record, bool)
	Put(rec Record) error
	Remove(fp event.Fingerprint) error
}

// FileStore is a JSON-file-backed Store. The whole map is loaded on open and
// rewritten on every mutation, so a record is durable before the caller
// learns about the write it describes. One store may be shared by batches
// running against different calendars, so access is mutex-guarded.
type FileStore struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	records map[event.Fingerprint]Record
}

// OpenFileStore loads the reconciliation file for the given identity from
// dir, creating dir if needed. A missing file starts empty; an unreadable or
// corrupt file also starts empty (fail-open) but is logged as a degraded-mode
// condition, since duplicate remote events are preferred over refusing to
// work at all.
func OpenFileStore(dir, identity string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &FileStore{
		path:    filepath.Join(dir, "dedupe-"+sanitizeIdentity(identity)+".json"),
		logger:  logger,
		records: make(map[event.Fingerprint]Record),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Reconciliation cache unreadable, starting empty; duplicate events are possible",
				"path", s.path, "error", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		logger.Warn("Reconciliation cache corrupt, starting empty; duplicate events are possible",
			"path", s.path, "error", err)
		s.records = make(map[event.Fingerprint]Record)
	}
	return s, nil
}

// Lookup returns the record for a fingerprint, if one exists.
func (s *FileStore) Lookup(fp event.Fingerprint) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	return rec, ok
}

// Put stores a record and flushes it to disk before returning.
func (s *FileStore) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Fingerprint] = rec
	return s.flush()
}

// Remove deletes the record for a fingerprint, if present, and flushes.
func (s *FileStore) Remove(fp event.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[fp]; !ok {
		return nil
	}
	delete(s.records, fp)
	return s.flush()
}

// Len reports the number of records held.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// flush writes the whole map; callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation cache: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write reconciliation cache: %w", err)
	}
	return nil
}

// sanitizeIdentity maps an identity (typically an email address) to a string
// safe for use in a file name.
func sanitizeIdentity(identity string) string {
	identity = strings.TrimSpace(strings.ToLower(identity))
	if identity == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, identity)
}
