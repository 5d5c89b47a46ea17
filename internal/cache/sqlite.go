package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// cacheItem is one row of the on-device cache table.
type cacheItem struct {
	Key       string `gorm:"column:cache_key;primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (cacheItem) TableName() string { return "cache_items" }

// SQLiteStorage persists cache items in a local SQLite database so cached
// lists survive restarts.
type SQLiteStorage struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStorage{db: db}, nil
}

// Init creates the cache table.
func (s *SQLiteStorage) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&cacheItem{})
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var item cacheItem
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return item.Value, true, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key, value string) error {
	item := cacheItem{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&item).Error
}

func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&cacheItem{}).Error
}

// Keys lists every stored key.
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&cacheItem{}).Order("cache_key").Pluck("cache_key", &keys).Error
	return keys, err
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
