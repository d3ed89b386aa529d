// Package hub owns the registry of live map sessions. Like the sessions
// themselves it is an actor: all access goes through the inbox, so the
// map-id -> session table needs no locking.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/session"
)

type HubMsg interface{ isHubMsg() }

type GetSession struct {
	MapID string
	Reply chan *session.Session
}

// EnsureSession returns the live session for a map, starting one seeded
// with Initial if none exists.
type EnsureSession struct {
	MapID   string
	Initial *engine.Map // only used if creation happens
	Reply   chan *session.Session
}

type RemoveSession struct {
	MapID string
}

type ShutdownHub struct{}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is a convenience wrapper around EnsureSession for callers that
// don't manage their own reply channels.
func (h *Hub) Ensure(mapID string, initial *engine.Map) *session.Session {
	reply := make(chan *session.Session, 1)
	h.inbox <- EnsureSession{MapID: mapID, Initial: initial, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.sessions[msg.MapID] // may be nil

			case EnsureSession:
				if s := h.sessions[msg.MapID]; s != nil {
					msg.Reply <- s
					break
				}
				s := session.New(h.ctx, msg.Initial, h.log.With(zap.String("map", msg.MapID)))
				h.sessions[msg.MapID] = s
				msg.Reply <- s

			case RemoveSession:
				delete(h.sessions, msg.MapID)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}
