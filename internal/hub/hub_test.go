package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/session"
)

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())

	s1 := h.Ensure("map-1", engine.NewMap("map-1", "Crypt"))
	require.NotNil(t, s1)

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{MapID: "map-1", Reply: reply}
	s2 := <-reply

	assert.Same(t, s1, s2)
}

func TestHub_EnsureIsIdempotent(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())

	s1 := h.Ensure("map-1", engine.NewMap("map-1", "Crypt"))
	s2 := h.Ensure("map-1", engine.NewMap("map-1", "Other"))
	assert.Same(t, s1, s2, "second ensure must not replace the live session")
}

func TestHub_GetUnknownMapIsNil(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{MapID: "missing", Reply: reply}
	assert.Nil(t, <-reply)
}

func TestHub_RemoveForgetsSession(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())
	h.Ensure("map-1", engine.NewMap("map-1", "Crypt"))

	h.Inbox() <- RemoveSession{MapID: "map-1"}

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{MapID: "map-1", Reply: reply}
	assert.Nil(t, <-reply)
}
