// Package store is the durable side of the system: map documents and
// batched chat logs. The real-time layer never writes here directly;
// everything arrives through the REST handlers out of band.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// MapRecord persists one map as a name plus an opaque JSON state blob.
// The blob is the serialized engine.Map; the store does not interpret
// it. OwnerID is the DM, set by the surrounding application at creation.
type MapRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId,omitempty"`
	State     []byte    `gorm:"type:jsonb" json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMessage is one line of a map's chat log. Appends are idempotent by
// ID, so a retried batch flush cannot duplicate lines.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	MapID     string    `gorm:"index" json:"mapId,omitempty"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence contract the HTTP layer depends on.
type Store interface {
	GetMap(ctx context.Context, id string) (*MapRecord, error)
	PutMap(ctx context.Context, rec *MapRecord) error
	DeleteMap(ctx context.Context, id string) error
	AppendChat(ctx context.Context, msgs []ChatMessage) error
	ListChat(ctx context.Context, mapID string) ([]ChatMessage, error)
	ClearChat(ctx context.Context, mapID string) error
}
