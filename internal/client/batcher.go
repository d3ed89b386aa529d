package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/store"
)

// Flusher writes one batch of chat messages to durable storage.
type Flusher func(ctx context.Context, batch []store.ChatMessage) error

// Batcher decouples high-frequency low-value events (chat) from the
// database. Messages accumulate in memory and flush on a timer, on
// disconnect, and on teardown. A failed flush returns the batch to the
// front of the buffer so the next attempt retries it ahead of newer
// messages; there is no backoff and no dead-letter, which is acceptable
// for a chat log.
type Batcher struct {
	mu      sync.Mutex
	pending []store.ChatMessage

	flush    Flusher
	beacon   Flusher
	interval time.Duration
	log      *zap.Logger
}

func NewBatcher(flush, beacon Flusher, interval time.Duration, log *zap.Logger) *Batcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Batcher{flush: flush, beacon: beacon, interval: interval, log: log}
}

func (b *Batcher) Add(msg store.ChatMessage) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()
}

// Len reports the buffered message count.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush drains the buffer through the flusher. On failure the batch goes
// back to the front, ahead of anything added meanwhile.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := b.flush(ctx, batch); err != nil {
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		b.log.Warn("chat flush failed, batch requeued", zap.Int("messages", len(batch)), zap.Error(err))
		return err
	}
	return nil
}

// Run flushes on the interval until ctx is done, then makes a final
// attempt. Intended to run as a goroutine for the life of the session.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = b.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = b.Flush(flushCtx)
			cancel()
			return
		}
	}
}

// FlushBeacon drains the buffer through the fire-and-forget channel used
// on page unload. Delivery is not assumed and nothing is requeued: the
// page is going away and there will be no later attempt.
func (b *Batcher) FlushBeacon() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 || b.beacon == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.beacon(ctx, batch); err != nil {
		b.log.Debug("beacon flush failed", zap.Error(err))
	}
}
