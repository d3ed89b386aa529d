package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres backs the store with a postgres database via gorm.
type Postgres struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&MapRecord{}, &ChatMessage{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) GetMap(ctx context.Context, id string) (*MapRecord, error) {
	var rec MapRecord
	err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get map %s: %w", id, err)
	}
	return &rec, nil
}

func (p *Postgres) PutMap(ctx context.Context, rec *MapRecord) error {
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "owner_id", "state", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("put map %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteMap(ctx context.Context, id string) error {
	if err := p.db.WithContext(ctx).Delete(&MapRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete map %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) AppendChat(ctx context.Context, msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true, // retried batches must not duplicate lines
	}).Create(&msgs).Error
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

func (p *Postgres) ListChat(ctx context.Context, mapID string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := p.db.WithContext(ctx).
		Where("map_id = ?", mapID).
		Order("created_at asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list chat for %s: %w", mapID, err)
	}
	return msgs, nil
}

func (p *Postgres) ClearChat(ctx context.Context, mapID string) error {
	if err := p.db.WithContext(ctx).Delete(&ChatMessage{}, "map_id = ?", mapID).Error; err != nil {
		return fmt.Errorf("clear chat for %s: %w", mapID, err)
	}
	return nil
}
