package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/store"
)

// recordingFlusher captures flushed batches and can be told to fail.
type recordingFlusher struct {
	mu      sync.Mutex
	batches [][]store.ChatMessage
	fail    bool
}

func (f *recordingFlusher) flush(_ context.Context, batch []store.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("flush refused")
	}
	f.batches = append(f.batches, append([]store.ChatMessage(nil), batch...))
	return nil
}

func (f *recordingFlusher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func chat(id, body string) store.ChatMessage {
	return store.ChatMessage{ID: id, MapID: "map-1", UserID: "alice", Body: body}
}

func TestBatcher_FlushDrainsPending(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(f.flush, f.flush, 0, zap.NewNop())

	b.Add(chat("c1", "one"))
	b.Add(chat("c2", "two"))
	require.NoError(t, b.Flush(context.Background()))

	assert.Equal(t, 0, b.Len())
	require.Len(t, f.batches, 1)
	assert.Equal(t, "c1", f.batches[0][0].ID)
	assert.Equal(t, "c2", f.batches[0][1].ID)
}

func TestBatcher_FailedFlushKeepsOrder(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(f.flush, f.flush, 0, zap.NewNop())

	b.Add(chat("c1", "one"))
	f.setFail(true)
	require.Error(t, b.Flush(context.Background()))
	assert.Equal(t, 1, b.Len(), "failed batch stays pending")

	// messages arriving after the failure queue behind the retained batch
	b.Add(chat("c2", "two"))
	f.setFail(false)
	require.NoError(t, b.Flush(context.Background()))

	require.Len(t, f.batches, 1)
	assert.Equal(t, "c1", f.batches[0][0].ID, "retries preserve arrival order")
	assert.Equal(t, "c2", f.batches[0][1].ID)
}

func TestBatcher_EmptyFlushIsNoop(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(f.flush, f.flush, 0, zap.NewNop())

	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, f.batches)
}

func TestBatcher_BeaconDoesNotRequeue(t *testing.T) {
	f := &recordingFlusher{fail: true}
	b := NewBatcher(f.flush, f.flush, 0, zap.NewNop())

	b.Add(chat("c1", "one"))
	b.FlushBeacon()

	assert.Equal(t, 0, b.Len(), "beacon is fire-and-forget")
}

func TestBatcher_RunFlushesOnInterval(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(f.flush, f.flush, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Run(ctx); close(done) }()

	b.Add(chat("c1", "one"))
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)

	// final flush on shutdown picks up stragglers
	b.Add(chat("c2", "two"))
	cancel()
	<-done
	assert.Equal(t, 0, b.Len())
}
