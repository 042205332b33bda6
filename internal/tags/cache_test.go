package tags

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestCacheStore(t *testing.T, clock func() time.Time) *CacheStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "cache.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&TagCacheEntry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewCacheStore(CacheStoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build cache store: %v", err)
	}
	return store
}

func TestCacheStoreGetMissingEntry(t *testing.T) {
	store := newTestCacheStore(t, nil)

	entry, err := store.Get(context.Background(), mustTagID(t, "AABBCCDDEE0011"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil for a missing entry, got %+v", entry)
	}
}

func TestCacheStoreUpsertStampsTimestamps(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := newTestCacheStore(t, func() time.Time { return now })
	id := mustTagID(t, "AABBCCDDEE0011")

	if err := store.Upsert(context.Background(), TagCacheEntry{ID: id, TargetURL: "https://example.com/a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CreatedAtSeconds != now.Unix() || entry.UpdatedAtSeconds != now.Unix() {
		t.Fatalf("expected creation stamps, got %+v", entry)
	}

	// A later upsert refreshes updated_at but keeps created_at.
	now = now.Add(time.Hour)
	entry.TargetURL = "https://example.com/b"
	if err := store.Upsert(context.Background(), *entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.CreatedAtSeconds != now.Add(-time.Hour).Unix() {
		t.Fatalf("created_at must survive updates, got %d", reloaded.CreatedAtSeconds)
	}
	if reloaded.UpdatedAtSeconds != now.Unix() {
		t.Fatalf("updated_at must be refreshed, got %d", reloaded.UpdatedAtSeconds)
	}
	if reloaded.TargetURL != "https://example.com/b" {
		t.Fatalf("unexpected target url %q", reloaded.TargetURL)
	}
}

func TestCacheStoreRecordAccess(t *testing.T) {
	testCases := []struct {
		name         string
		observed     *TapCounter
		verdict      ReplayVerdict
		initial      *int64
		wantLastSeen *int64
	}{
		{name: "fresh-advances", observed: counterOf(8), verdict: ReplayFresh, initial: int64Of(5), wantLastSeen: int64Of(8)},
		{name: "stale-keeps", observed: counterOf(3), verdict: ReplayStale, initial: int64Of(5), wantLastSeen: int64Of(5)},
		{name: "no-counter-keeps", observed: nil, verdict: ReplayNoCounter, initial: int64Of(5), wantLastSeen: int64Of(5)},
		{name: "fresh-first-counter", observed: counterOf(1), verdict: ReplayFresh, initial: nil, wantLastSeen: int64Of(1)},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			now := time.Unix(1700000000, 0).UTC()
			store := newTestCacheStore(t, func() time.Time { return now })
			id := mustTagID(t, "AABBCCDDEE0011")

			if err := store.Upsert(context.Background(), TagCacheEntry{
				ID:               id,
				TargetURL:        "https://example.com/a",
				LastSeenTapCount: testCase.initial,
			}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if err := store.RecordAccess(context.Background(), id, testCase.observed, testCase.verdict); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			entry, err := store.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if entry.AccessCount != 1 {
				t.Fatalf("expected access count 1, got %d", entry.AccessCount)
			}
			if entry.LastAccessedSeconds == nil || *entry.LastAccessedSeconds != now.Unix() {
				t.Fatalf("expected last accessed stamp, got %v", entry.LastAccessedSeconds)
			}
			switch {
			case testCase.wantLastSeen == nil:
				if entry.LastSeenTapCount != nil {
					t.Fatalf("expected no last seen counter, got %v", *entry.LastSeenTapCount)
				}
			case entry.LastSeenTapCount == nil || *entry.LastSeenTapCount != *testCase.wantLastSeen:
				t.Fatalf("expected last seen %d, got %v", *testCase.wantLastSeen, entry.LastSeenTapCount)
			}
		})
	}
}

func TestCacheStoreMarkMutated(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := newTestCacheStore(t, func() time.Time { return now })
	id := mustTagID(t, "AABBCCDDEE0011")

	if err := store.Upsert(context.Background(), TagCacheEntry{ID: id, TargetURL: "https://example.com/a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(time.Minute)
	if err := store.MarkMutated(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.UpdatedAtSeconds != now.Unix() {
		t.Fatalf("expected mutation stamp %d, got %d", now.Unix(), entry.UpdatedAtSeconds)
	}
}

func TestTagCacheEntryLastSeen(t *testing.T) {
	var missing *TagCacheEntry
	if missing.LastSeen() != nil {
		t.Fatalf("nil entry must report no counter")
	}

	entry := &TagCacheEntry{}
	if entry.LastSeen() != nil {
		t.Fatalf("entry without counter must report nil")
	}

	entry.LastSeenTapCount = int64Of(12)
	if got := entry.LastSeen(); got == nil || *got != 12 {
		t.Fatalf("expected counter 12, got %v", got)
	}
}
