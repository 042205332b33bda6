package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/twag/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillCacheTimestamps = "2026-07-18_backfill_cache_timestamps"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillCacheTimestamps, apply: backfillCacheTimestamps},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported from the pre-cache schema carried zero timestamps; stamp them
// so updated_at ordering stays meaningful.
func backfillCacheTimestamps(db *gorm.DB) error {
	now := time.Now().UTC().Unix()
	return db.Model(&tags.TagCacheEntry{}).
		Where("updated_at_s = 0").
		Updates(map[string]interface{}{"created_at_s": now, "updated_at_s": now}).Error
}
