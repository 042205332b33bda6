package tags

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TagCacheEntry is the derived, disposable cache row mapping a tag to its
// last-known redirect target. It is never authoritative for containment; the
// engine creates rows lazily and never deletes them.
type TagCacheEntry struct {
	ID                  TagID  `gorm:"column:id;primaryKey;size:14;not null"`
	TargetURL           string `gorm:"column:target_url;size:2048;not null"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds    int64  `gorm:"column:updated_at_s;not null"`
	LastAccessedSeconds *int64 `gorm:"column:last_accessed_s"`
	AccessCount         int64  `gorm:"column:access_count;not null;default:0"`
	LastSeenTapCount    *int64 `gorm:"column:last_seen_tap_count"`
}

// TableName provides the explicit table binding for GORM.
func (TagCacheEntry) TableName() string {
	return "tag_cache"
}

// LastSeen exposes the stored tap counter, when any counter has been seen.
func (e *TagCacheEntry) LastSeen() *TapCounter {
	if e == nil || e.LastSeenTapCount == nil {
		return nil
	}
	counter := TapCounter(*e.LastSeenTapCount)
	return &counter
}

// CacheStoreConfig describes the dependencies of the tag cache store.
type CacheStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// CacheStore reads and writes tag cache rows. All operations are single-key;
// no cross-key transactions are required.
type CacheStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewCacheStore constructs the cache store.
func NewCacheStore(cfg CacheStoreConfig) (*CacheStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the cache entry for the tag, or nil when none exists.
func (s *CacheStore) Get(ctx context.Context, id TagID) (*TagCacheEntry, error) {
	var entry TagCacheEntry
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert stores the entry, stamping created/updated times when unset.
func (s *CacheStore) Upsert(ctx context.Context, entry TagCacheEntry) error {
	now := s.clock().UTC().Unix()
	if entry.CreatedAtSeconds == 0 {
		entry.CreatedAtSeconds = now
	}
	entry.UpdatedAtSeconds = now
	return s.db.WithContext(ctx).Save(&entry).Error
}

// RecordAccess bumps the access bookkeeping for one resolution and advances
// last_seen_tap_count when the replay verdict was fresh and a counter was
// observed. Single-row read-modify-write; failures are the caller's to log,
// never to block the redirect on.
func (s *CacheStore) RecordAccess(ctx context.Context, id TagID, observed *TapCounter, verdict ReplayVerdict) error {
	now := s.clock().UTC().Unix()
	updates := map[string]interface{}{
		"last_accessed_s": now,
		"access_count":    gorm.Expr("access_count + 1"),
	}
	if verdict == ReplayFresh && observed != nil {
		updates["last_seen_tap_count"] = int64(*observed)
	}
	return s.db.WithContext(ctx).
		Model(&TagCacheEntry{}).
		Where("id = ?", id.String()).
		Updates(updates).Error
}

// MarkMutated stamps the entry after a containment mutation touched the tag.
func (s *CacheStore) MarkMutated(ctx context.Context, id TagID) error {
	return s.db.WithContext(ctx).
		Model(&TagCacheEntry{}).
		Where("id = ?", id.String()).
		Update("updated_at_s", s.clock().UTC().Unix()).Error
}
