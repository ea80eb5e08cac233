// Package persist is the document store behind the state containers.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Document is one persisted domain snapshot.
type Document struct {
	Collection string `gorm:"primaryKey;size:64"`
	Key        string `gorm:"primaryKey;size:128"`
	Body       string `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

// Gateway upserts and reads JSON documents keyed by (collection, key).
type Gateway struct {
	db *gorm.DB
}

// Open connects with the given driver ("sqlite" or "postgres") and migrates.
func Open(driver, dsn string) (*Gateway, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an open connection and migrates the documents table.
func New(db *gorm.DB) (*Gateway, error) {
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Gateway{db: db}, nil
}

// Upsert shallow-merges partial into the stored document, creating it when
// absent. Repeating the same upsert leaves the same document. Callers are
// expected to serialize writes per key (see Writer).
func (g *Gateway) Upsert(ctx context.Context, collection, key string, partial map[string]any) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		doc := map[string]any{}

		err := tx.Where(&Document{Collection: collection, Key: key}).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("read %s/%s: %w", collection, key, err)
		default:
			if err := json.Unmarshal([]byte(existing.Body), &doc); err != nil {
				return fmt.Errorf("decode %s/%s: %w", collection, key, err)
			}
		}

		for k, v := range partial {
			doc[k] = v
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, key, err)
		}

		return tx.Save(&Document{
			Collection: collection,
			Key:        key,
			Body:       string(body),
			UpdatedAt:  time.Now(),
		}).Error
	})
}

// GetByID returns the stored document or nil when it does not exist.
func (g *Gateway) GetByID(ctx context.Context, collection, key string) (map[string]any, error) {
	var d Document
	err := g.db.WithContext(ctx).Where(&Document{Collection: collection, Key: key}).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", collection, key, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(d.Body), &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
