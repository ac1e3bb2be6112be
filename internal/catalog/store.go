package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tubestitch/tubestitch/internal/model"
)

// File permissions for the database directory
const (
	DefaultDirPermissions = 0755
)

// Store persists items, compilations, and usage records in SQLite.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open creates the database file (and parent directory) if needed,
// migrates the schema, and returns a ready Store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	return NewStore(db, logger)
}

// NewStore wraps an existing gorm handle. Used by Open and by tests
// running against an in-memory database.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(&model.Item{}, &model.Compilation{}, &model.UsageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// FindEligible returns items matching the topic (or all items for the
// wildcard topic) whose external ID is not excluded and whose most recent
// usage is absent or strictly older than cutoff. Never-used items come
// first, then items by oldest last use, so selection rotates through the
// catalog instead of replaying recent picks.
func (s *Store) FindEligible(ctx context.Context, topic string, excludeIDs []string, cutoff time.Time) ([]model.Item, error) {
	lastUse := s.db.Model(&model.UsageRecord{}).
		Select("item_id, MAX(used_at) AS last_used").
		Group("item_id")

	query := s.db.WithContext(ctx).Model(&model.Item{}).
		Select("items.*").
		Joins("LEFT JOIN (?) u ON u.item_id = items.id", lastUse).
		Where("u.last_used IS NULL OR u.last_used < ?", cutoff).
		Order("CASE WHEN u.last_used IS NULL THEN 0 ELSE 1 END").
		Order("u.last_used ASC").
		Order("items.id ASC")

	if topic != model.TopicWildcard {
		query = query.Where("items.topic = ?", topic)
	}
	if len(excludeIDs) > 0 {
		query = query.Where("items.external_id NOT IN ?", excludeIDs)
	}

	var items []model.Item
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("query eligible items: %w", err)
	}

	return items, nil
}

// CreateCompilation records a produced artifact. Called only after the
// concat succeeded, so a row existing implies the file was written.
func (s *Store) CreateCompilation(ctx context.Context, topic, filename string, itemCount int) (*model.Compilation, error) {
	comp := &model.Compilation{
		Topic:     topic,
		Filename:  filename,
		ItemCount: itemCount,
	}

	if err := s.db.WithContext(ctx).Create(comp).Error; err != nil {
		return nil, fmt.Errorf("create compilation: %w", err)
	}

	return comp, nil
}

// RecordUsage appends one usage record. Records are never updated or
// deleted; cooldown queries look only at the latest one per item.
func (s *Store) RecordUsage(ctx context.Context, itemID, compilationID uint, usedAt time.Time) error {
	record := &model.UsageRecord{
		CompilationID: compilationID,
		ItemID:        itemID,
		UsedAt:        usedAt,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("record usage for item %d: %w", itemID, err)
	}

	return nil
}

// UpsertItem inserts a new item or refreshes the metadata of an existing
// one. The topic column is deliberately left alone on conflict: once the
// classifier assigned a topic it stays assigned.
func (s *Store) UpsertItem(ctx context.Context, item *model.Item) error {
	var existing model.Item
	err := s.db.WithContext(ctx).Where("external_id = ?", item.ExternalID).First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if createErr := s.db.WithContext(ctx).Create(item).Error; createErr != nil {
			return fmt.Errorf("create item %s: %w", item.ExternalID, createErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup item %s: %w", item.ExternalID, err)
	}

	updates := map[string]interface{}{
		"title":       item.Title,
		"url":         item.URL,
		"duration":    item.Duration,
		"upload_date": item.UploadDate,
		"channel":     item.Channel,
	}
	if updateErr := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; updateErr != nil {
		return fmt.Errorf("update item %s: %w", item.ExternalID, updateErr)
	}

	item.ID = existing.ID
	return nil
}

// CountByTopic returns how many items carry the given topic. Used by the
// run surface to reject topics that exist in config but have no catalog
// entries yet.
func (s *Store) CountByTopic(ctx context.Context, topic string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Item{})
	if topic != model.TopicWildcard {
		query = query.Where("topic = ?", topic)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count items for topic %s: %w", topic, err)
	}

	return count, nil
}
