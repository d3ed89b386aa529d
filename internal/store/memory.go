package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process store used when no database is configured and
// in handler tests. Semantics match Postgres, including idempotent chat
// appends.
type Memory struct {
	mu   sync.RWMutex
	maps map[string]MapRecord
	chat map[string][]ChatMessage // mapID -> log
}

func NewMemory() *Memory {
	return &Memory{
		maps: make(map[string]MapRecord),
		chat: make(map[string][]ChatMessage),
	}
}

func (m *Memory) GetMap(_ context.Context, id string) (*MapRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.maps[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	out.State = append([]byte(nil), rec.State...)
	return &out, nil
}

func (m *Memory) PutMap(_ context.Context, rec *MapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *rec
	stored.State = append([]byte(nil), rec.State...)
	m.maps[rec.ID] = stored
	return nil
}

func (m *Memory) DeleteMap(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.maps, id)
	return nil
}

func (m *Memory) AppendChat(_ context.Context, msgs []ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if m.hasChat(msg.MapID, msg.ID) {
			continue
		}
		m.chat[msg.MapID] = append(m.chat[msg.MapID], msg)
	}
	return nil
}

func (m *Memory) ListChat(_ context.Context, mapID string) ([]ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]ChatMessage(nil), m.chat[mapID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClearChat(_ context.Context, mapID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chat, mapID)
	return nil
}

func (m *Memory) hasChat(mapID, id string) bool {
	for _, msg := range m.chat[mapID] {
		if msg.ID == id {
			return true
		}
	}
	return false
}
