package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/calscribe/calscribe/internal/event"
)

func TestFileStore_PutLookupRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() returned an error: %v", err)
	}

	rec := Record{
		Fingerprint: "abc",
		CalendarID:  "cal-1",
		EventID:     "ev-1",
		State:       "created",
		WrittenAt:   time.Now().UTC(),
	}
	if err := store.Put(rec); err != nil {
		t.Fatalf("Put() returned an error: %v", err)
	}

	got, ok := store.Lookup("abc")
	if !ok {
		t.Fatal("Lookup() did not find the stored record")
	}
	if got.EventID != "ev-1" || got.State != "created" {
		t.Errorf("Lookup() returned unexpected record: %+v", got)
	}

	if err := store.Remove("abc"); err != nil {
		t.Fatalf("Remove() returned an error: %v", err)
	}
	if _, ok := store.Lookup("abc"); ok {
		t.Error("Lookup() found a record after Remove()")
	}

	// Removing an absent fingerprint is a no-op.
	if err := store.Remove("missing"); err != nil {
		t.Errorf("Remove() of absent fingerprint returned an error: %v", err)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() returned an error: %v", err)
	}
	if err := store.Put(Record{Fingerprint: "abc", CalendarID: "cal-1", EventID: "ev-1", State: "created"}); err != nil {
		t.Fatalf("Put() returned an error: %v", err)
	}

	reopened, err := OpenFileStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() after restart returned an error: %v", err)
	}
	got, ok := reopened.Lookup("abc")
	if !ok || got.EventID != "ev-1" {
		t.Errorf("Expected record to survive a reopen, got %+v (found=%v)", got, ok)
	}
}

func TestFileStore_ScopedPerIdentity(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenFileStore(dir, "alice@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() returned an error: %v", err)
	}
	if err := a.Put(Record{Fingerprint: "abc", EventID: "ev-1", State: "created"}); err != nil {
		t.Fatalf("Put() returned an error: %v", err)
	}

	b, err := OpenFileStore(dir, "bob@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() returned an error: %v", err)
	}
	if _, ok := b.Lookup("abc"); ok {
		t.Error("Expected another identity's store to start empty")
	}
}

func TestFileStore_CorruptFileFailsOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dedupe-user_example.com.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	store, err := OpenFileStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() should fail open on corruption, got error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected an empty store after corruption, got %d records", store.Len())
	}

	// The store must be writable again after degrading.
	if err := store.Put(Record{Fingerprint: "abc", EventID: "ev-1", State: "created"}); err != nil {
		t.Errorf("Put() after degraded open returned an error: %v", err)
	}
}

func TestFileBatchStore_SaveResolveDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileBatchStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileBatchStore() returned an error: %v", err)
	}

	pairs := []CreatedPair{{Fingerprint: "abc", EventID: "ev-1"}, {Fingerprint: "def", EventID: "ev-2"}}
	if err := store.SaveBatch("token-1", pairs); err != nil {
		t.Fatalf("SaveBatch() returned an error: %v", err)
	}

	got, ok := store.ResolveBatch("token-1")
	if !ok || len(got) != 2 {
		t.Fatalf("ResolveBatch() = %v, %v; want the 2 saved pairs", got, ok)
	}

	// Tokens survive a restart so undo works in a later session.
	reopened, err := OpenFileBatchStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileBatchStore() after restart returned an error: %v", err)
	}
	if _, ok := reopened.ResolveBatch("token-1"); !ok {
		t.Error("Expected the token to survive a reopen")
	}

	if err := reopened.DeleteBatch("token-1"); err != nil {
		t.Fatalf("DeleteBatch() returned an error: %v", err)
	}
	if _, ok := reopened.ResolveBatch("token-1"); ok {
		t.Error("ResolveBatch() found a deleted token")
	}
}

func TestSanitizeIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.com", "user_example.com"},
		{"", "default"},
		{"  spaced out  ", "spaced_out"},
	}
	for _, tt := range tests {
		if got := sanitizeIdentity(tt.in); got != tt.want {
			t.Errorf("sanitizeIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStore_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileStore() returned an error: %v", err)
	}
	batches, err := OpenFileBatchStore(dir, "user@example.com", nil)
	if err != nil {
		t.Fatalf("OpenFileBatchStore() returned an error: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				fp := event.Fingerprint(fmt.Sprintf("fp-%d-%d", g, i))
				if err := store.Put(Record{Fingerprint: fp, CalendarID: "cal", EventID: "ev", State: "created", WrittenAt: time.Now()}); err != nil {
					t.Errorf("Put() returned an error: %v", err)
				}
				store.Lookup(fp)
				store.Len()
				token := fmt.Sprintf("tok-%d-%d", g, i)
				if err := batches.SaveBatch(token, []CreatedPair{{Fingerprint: fp, EventID: "ev"}}); err != nil {
					t.Errorf("SaveBatch() returned an error: %v", err)
				}
				batches.ResolveBatch(token)
				if i%2 == 0 {
					if err := store.Remove(fp); err != nil {
						t.Errorf("Remove() returned an error: %v", err)
					}
					if err := batches.DeleteBatch(token); err != nil {
						t.Errorf("DeleteBatch() returned an error: %v", err)
					}
				}
			}
		}(g)
	}
	wg.Wait()

	if store.Len() != 40 {
		t.Errorf("Len() = %d after concurrent writes, want 40", store.Len())
	}
}
