// Package ws bridges websocket connections to map session actors. One
// connection is one (map, user) participant: inbound frames feed the
// session inbox, the session's outbox feeds the writer goroutine.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/hub"
	"github.com/tabletop-forge/mapsync/internal/session"
	"github.com/tabletop-forge/mapsync/internal/store"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// Handler upgrades /ws?map=<id>&user=<id>&name=<display> connections.
// Both identities are required; the client defers connecting until it
// has them.
func Handler(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mapID := r.URL.Query().Get("map")
		userID := r.URL.Query().Get("user")
		name := r.URL.Query().Get("name")
		if mapID == "" || userID == "" {
			http.Error(w, "missing map or user", http.StatusBadRequest)
			return
		}

		initial, err := loadInitial(r.Context(), st, mapID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "map not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("load map for session", zap.String("map", mapID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		sess := h.Ensure(mapID, initial)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan []byte, 16)
		sess.Inbox() <- session.Join{UserID: userID, Name: name, Outbox: out}
		defer func() { sess.Inbox() <- session.Leave{UserID: userID} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, frame)
				cancel()
				if err != nil {
					return
				}
			}
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
			sess.Inbox() <- session.Frame{From: userID, Data: data}
		}
	}
}

// loadInitial fetches the persisted document so a fresh session starts
// from durable truth rather than an empty map.
func loadInitial(ctx context.Context, st store.Store, mapID string) (*engine.Map, error) {
	rec, err := st.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	var m engine.Map
	if err := json.Unmarshal(rec.State, &m); err != nil {
		return nil, err
	}
	m.Normalize()
	return &m, nil
}
