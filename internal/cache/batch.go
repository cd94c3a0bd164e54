package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calscribe/calscribe/internal/event"
)

// CreatedPair correlates a fingerprint with the remote event id it produced,
// so undo can both delete the remote copy and clear the cache record.
type CreatedPair struct {
	Fingerprint event.Fingerprint `json:"fingerprint"`
	EventID     string            `json:"event_id"`
}

// BatchStore resolves undo tokens to the set of events a batch created.
// Records are transient: one is written when a batch finishes and deleted
// once it has been undone.
type BatchStore interface {
	SaveBatch(token string, pairs []CreatedPair) error
	ResolveBatch(token string) ([]CreatedPair, bool)
	DeleteBatch(token string) error
}

type batchRecord struct {
	Pairs     []CreatedPair `json:"pairs"`
	CreatedAt time.Time     `json:"created_at"`
}

// FileBatchStore keeps batch records in a single JSON file per identity,
// alongside the reconciliation cache. Same fail-open posture: an unreadable
// file means old undo tokens are lost, not that new batches are blocked.
// Mutex-guarded for the same reason as FileStore.
type FileBatchStore struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	batches map[string]batchRecord
}

// OpenFileBatchStore loads the batch file for the given identity from dir.
func OpenFileBatchStore(dir, identity string, logger *slog.Logger) (*FileBatchStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &FileBatchStore{
		path:    filepath.Join(dir, "batches-"+sanitizeIdentity(identity)+".json"),
		logger:  logger,
		batches: make(map[string]batchRecord),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Batch store unreadable, starting empty; existing undo tokens are lost",
				"path", s.path, "error", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.batches); err != nil {
		logger.Warn("Batch store corrupt, starting empty; existing undo tokens are lost",
			"path", s.path, "error", err)
		s.batches = make(map[string]batchRecord)
	}
	return s, nil
}

// SaveBatch records the created events behind a token and flushes to disk.
func (s *FileBatchStore) SaveBatch(token string, pairs []CreatedPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[token] = batchRecord{Pairs: pairs, CreatedAt: time.Now().UTC()}
	return s.flush()
}

// ResolveBatch returns the created events behind a token.
func (s *FileBatchStore) ResolveBatch(token string) ([]CreatedPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[token]
	return rec.Pairs, ok
}

// DeleteBatch drops a token after its batch has been undone.
func (s *FileBatchStore) DeleteBatch(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[token]; !ok {
		return nil
	}
	delete(s.batches, token)
	return s.flush()
}

// flush writes the whole map; callers hold s.mu.
func (s *FileBatchStore) flush() error {
	data, err := json.MarshalIndent(s.batches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write batch store: %w", err)
	}
	return nil
}
