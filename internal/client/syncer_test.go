package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/perm"
)

type recordingPutter struct {
	mu   sync.Mutex
	puts []*engine.Map
}

func (p *recordingPutter) put(_ context.Context, m *engine.Map) error {
	p.mu.Lock()
	p.puts = append(p.puts, m)
	p.mu.Unlock()
	return nil
}

func (p *recordingPutter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.puts)
}

func TestSyncer_CoalescesRapidEdits(t *testing.T) {
	a := NewAdapter(engine.NewStore(engine.NewMap("map-1", "Crypt")),
		perm.Actor{UserID: "alice", MapDMID: "dm"}, "Tester", zap.NewNop())
	p := &recordingPutter{}
	s := NewSyncer(a.Snapshot, p.put, 20*time.Millisecond, zap.NewNop())
	defer s.Stop()

	for i := 0; i < 10; i++ {
		s.Schedule()
	}

	assert.Eventually(t, func() bool { return p.count() == 1 },
		time.Second, 5*time.Millisecond, "burst collapses to one write")

	// quiet period, then another burst produces exactly one more
	s.Schedule()
	assert.Eventually(t, func() bool { return p.count() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSyncer_StopCancelsPendingWrite(t *testing.T) {
	a := NewAdapter(engine.NewStore(engine.NewMap("map-1", "Crypt")),
		perm.Actor{UserID: "alice", MapDMID: "dm"}, "Tester", zap.NewNop())
	p := &recordingPutter{}
	s := NewSyncer(a.Snapshot, p.put, 20*time.Millisecond, zap.NewNop())

	s.Schedule()
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, p.count())
}
