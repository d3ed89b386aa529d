// Package session runs one actor goroutine per open map. The actor owns
// the roster and the retained full-map snapshot, relays typed frames
// between participants, and is the only place connection fan-out
// happens. Clients talk to it exclusively through its inbox.
package session

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/protocol"
)

type Msg interface{ isSessionMsg() }

// Join registers a participant and its outbox for outbound frames.
type Join struct {
	UserID string
	Name   string
	Outbox chan []byte
}

type Leave struct{ UserID string }

// Frame is a raw wire frame received from a participant.
type Frame struct {
	From string
	Data []byte
}

// GetState reflects internal state without data races; test-only.
type GetState struct{ Reply chan View }

type Shutdown struct{}

func (Join) isSessionMsg()     {}
func (Leave) isSessionMsg()    {}
func (Frame) isSessionMsg()    {}
func (GetState) isSessionMsg() {}
func (Shutdown) isSessionMsg() {}

type View struct {
	NumClients int
	Users      []protocol.User
	Snapshot   *engine.Map
}

type client struct {
	name   string
	outbox chan []byte
}

type Session struct {
	inbox    chan Msg
	clients  map[string]client
	snapshot *engine.Map
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts a session actor seeded with the map's persisted document,
// which joiners receive as their first frame.
func New(parent context.Context, initial *engine.Map, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	if initial != nil {
		initial.Normalize()
	}
	s := &Session{
		inbox:    make(chan Msg, 64),
		clients:  make(map[string]client),
		snapshot: initial,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.UserID] = client{name: msg.Name, outbox: msg.Outbox}
				if s.snapshot != nil {
					// server-origin frame: empty userId never matches a
					// local user, so no client suppresses it
					s.sendTo(msg.UserID, protocol.NewFullSync("", s.snapshot))
				}
				s.broadcastPresence()

			case Leave:
				c, ok := s.clients[msg.UserID]
				if !ok {
					break
				}
				delete(s.clients, msg.UserID)
				s.broadcast(protocol.NewUserLeave(msg.UserID, c.name), "")
				s.broadcastPresence()

			case Frame:
				s.handleFrame(msg)

			case GetState:
				msg.Reply <- View{
					NumClients: len(s.clients),
					Users:      s.roster(),
					Snapshot:   s.snapshot.Clone(),
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. Ordinary mutations are relayed
// to everyone but the sender, whose optimistic local state already
// reflects them. Pings echo to the sender too, for visual feedback.
// Full syncs additionally refresh the retained snapshot for future
// joiners.
func (s *Session) handleFrame(f Frame) {
	msg, err := protocol.Decode(f.Data)
	if err != nil {
		s.log.Warn("dropping bad frame", zap.String("from", f.From), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.FullSync:
		if m.Map != nil {
			s.snapshot = m.Map.Clone()
			s.snapshot.Normalize()
		}
		s.relay(f.Data, f.From)

	case protocol.Ping:
		s.relay(f.Data, "") // everyone, sender included

	case protocol.Presence, protocol.UserLeave:
		// server-owned kinds; a client has no business sending them

	case protocol.TokenMove, protocol.TokenUpdate, protocol.TokenCreate,
		protocol.TokenDelete, protocol.FogPaint, protocol.FogErase,
		protocol.FogPaintRange, protocol.FogEraseRange,
		protocol.Chat, protocol.Roll:
		s.relay(f.Data, f.From)
	}
}

// relay fans a raw frame out to every client except skipID. Slow clients
// are dropped rather than allowed to stall the loop.
func (s *Session) relay(data []byte, skipID string) {
	for id, c := range s.clients {
		if id == skipID {
			continue
		}
		select {
		case c.outbox <- data:
		default:
			s.log.Warn("dropping slow client", zap.String("user", id))
			close(c.outbox)
			delete(s.clients, id)
		}
	}
}

func (s *Session) broadcast(msg protocol.Message, skipID string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode broadcast", zap.Error(err))
		return
	}
	s.relay(data, skipID)
}

func (s *Session) sendTo(userID string, msg protocol.Message) {
	c, ok := s.clients[userID]
	if !ok {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case c.outbox <- data:
	default:
		s.log.Warn("dropping slow client", zap.String("user", userID))
		close(c.outbox)
		delete(s.clients, userID)
	}
}

func (s *Session) roster() []protocol.User {
	users := make([]protocol.User, 0, len(s.clients))
	for id, c := range s.clients {
		users = append(users, protocol.User{ID: id, Name: c.name})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (s *Session) broadcastPresence() {
	s.broadcast(protocol.NewPresence(s.roster()), "")
}

func (s *Session) shutdown() {
	for id, c := range s.clients {
		close(c.outbox)
		delete(s.clients, id)
	}
	s.cancel()
}
