package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
)

// PutFunc persists one full map document.
type PutFunc func(ctx context.Context, m *engine.Map) error

// Syncer coalesces rapid edits into one durable write: each Schedule
// call re-arms a delay timer, and only when edits pause does the latest
// snapshot get written. The write is fire-and-continue: a failure is
// logged, never rolled back into the store, and the next edit schedules
// a fresh attempt.
type Syncer struct {
	mu    sync.Mutex
	timer *time.Timer

	delay    time.Duration
	snapshot func() *engine.Map
	put      PutFunc
	log      *zap.Logger
}

// NewSyncer builds a syncer around a snapshot source and a writer. The
// timer fires off the session loop, so snapshot must be safe to call
// concurrently with mutations; wire Adapter.Snapshot, not the raw store.
func NewSyncer(snapshot func() *engine.Map, put PutFunc, delay time.Duration, log *zap.Logger) *Syncer {
	if delay <= 0 {
		delay = time.Second
	}
	return &Syncer{delay: delay, snapshot: snapshot, put: put, log: log}
}

// Schedule arms (or re-arms) the debounced write.
func (s *Syncer) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *Syncer) fire() {
	m := s.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.put(ctx, m); err != nil {
		s.log.Warn("map sync failed", zap.String("map", m.ID), zap.Error(err))
	}
}

// Stop cancels any pending write, e.g. on teardown after an explicit
// final sync.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
