package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/protocol"
)

// recvFrame receives one decoded frame with a timeout so tests never hang.
func recvFrame(t *testing.T, ch <-chan []byte, within time.Duration) protocol.Message {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return nil // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, got %s", within, data)
	case <-time.After(within):
	}
}

// drainUntil receives frames until one of the wanted kind arrives.
func drainUntil(t *testing.T, ch <-chan []byte, kind string) protocol.Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %s", kind)
			}
			msg, err := protocol.Decode(data)
			require.NoError(t, err)
			if msg.Kind() == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, engine.NewMap("map-1", "Crypt"), zap.NewNop())
}

func join(s *Session, userID, name string) chan []byte {
	out := make(chan []byte, 16)
	s.Inbox() <- Join{UserID: userID, Name: name, Outbox: out}
	return out
}

func TestJoin_ReceivesSnapshotThenPresence(t *testing.T) {
	s := newTestSession(t)
	out := join(s, "alice", "Alice")

	first := recvFrame(t, out, time.Second)
	sync, ok := first.(protocol.FullSync)
	require.True(t, ok, "first frame should be the retained snapshot, got %T", first)
	assert.Equal(t, "map-1", sync.Map.ID)
	assert.Empty(t, sync.Sender(), "snapshot is server-origin")

	second := recvFrame(t, out, time.Second)
	pres, ok := second.(protocol.Presence)
	require.True(t, ok)
	assert.Equal(t, []protocol.User{{ID: "alice", Name: "Alice"}}, pres.Users)
}

func TestRelay_ExcludesSender(t *testing.T) {
	s := newTestSession(t)
	aliceOut := join(s, "alice", "Alice")
	bobOut := join(s, "bob", "Bob")

	// consume join traffic
	drainUntil(t, aliceOut, protocol.KindPresence)
	drainUntil(t, aliceOut, protocol.KindPresence)
	drainUntil(t, bobOut, protocol.KindPresence)

	data, err := protocol.Encode(protocol.NewTokenMove("alice", "tok-1", 4, 7))
	require.NoError(t, err)
	s.Inbox() <- Frame{From: "alice", Data: data}

	got := recvFrame(t, bobOut, time.Second)
	move, ok := got.(protocol.TokenMove)
	require.True(t, ok)
	assert.Equal(t, "tok-1", move.TokenID)

	recvNoFrame(t, aliceOut, 100*time.Millisecond)
}

func TestPing_EchoesToSender(t *testing.T) {
	s := newTestSession(t)
	aliceOut := join(s, "alice", "Alice")
	drainUntil(t, aliceOut, protocol.KindPresence)

	data, err := protocol.Encode(protocol.NewPing("alice", "ping-1", 3, 4))
	require.NoError(t, err)
	s.Inbox() <- Frame{From: "alice", Data: data}

	got := recvFrame(t, aliceOut, time.Second)
	ping, ok := got.(protocol.Ping)
	require.True(t, ok, "sender receives its own ping")
	assert.Equal(t, "ping-1", ping.ID)
}

func TestFullSync_RefreshesRetainedSnapshot(t *testing.T) {
	s := newTestSession(t)
	dmOut := join(s, "dm", "DM")
	drainUntil(t, dmOut, protocol.KindPresence)

	updated := engine.NewMap("map-1", "Crypt")
	updated.Grid = engine.Grid{Width: 50, Height: 40}
	data, err := protocol.Encode(protocol.NewFullSync("dm", updated))
	require.NoError(t, err)
	s.Inbox() <- Frame{From: "dm", Data: data}

	// a later joiner gets the refreshed document
	lateOut := join(s, "alice", "Alice")
	got := drainUntil(t, lateOut, protocol.KindFullSync)
	sync := got.(protocol.FullSync)
	assert.Equal(t, engine.Grid{Width: 50, Height: 40}, sync.Map.Grid)
}

func TestLeave_BroadcastsNoticeAndRoster(t *testing.T) {
	s := newTestSession(t)
	aliceOut := join(s, "alice", "Alice")
	join(s, "bob", "Bob")
	drainUntil(t, aliceOut, protocol.KindPresence)
	drainUntil(t, aliceOut, protocol.KindPresence)

	s.Inbox() <- Leave{UserID: "bob"}

	got := drainUntil(t, aliceOut, protocol.KindUserLeave)
	leave := got.(protocol.UserLeave)
	assert.Equal(t, "bob", leave.Sender())
	assert.Equal(t, "Bob", leave.Name)

	pres := drainUntil(t, aliceOut, protocol.KindPresence).(protocol.Presence)
	assert.Equal(t, []protocol.User{{ID: "alice", Name: "Alice"}}, pres.Users)
}

func TestBadFrame_DroppedSilently(t *testing.T) {
	s := newTestSession(t)
	aliceOut := join(s, "alice", "Alice")
	bobOut := join(s, "bob", "Bob")
	drainUntil(t, aliceOut, protocol.KindPresence)
	drainUntil(t, aliceOut, protocol.KindPresence)
	drainUntil(t, bobOut, protocol.KindPresence)

	s.Inbox() <- Frame{From: "alice", Data: []byte(`{"type":"teleport"}`)}
	recvNoFrame(t, bobOut, 100*time.Millisecond)
}

func TestSlowClient_Dropped(t *testing.T) {
	s := newTestSession(t)
	out := make(chan []byte) // unbuffered and never read
	s.Inbox() <- Join{UserID: "slow", Name: "Slow", Outbox: out}

	data, err := protocol.Encode(protocol.NewTokenMove("other", "tok-1", 1, 1))
	require.NoError(t, err)
	s.Inbox() <- Frame{From: "other", Data: data}

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case view := <-reply:
		assert.Equal(t, 0, view.NumClients)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for view")
	}
}
