// Package client is the editing side of a map session: it owns the map
// state store for one (map, user) pair, broadcasts committed local
// mutations over the real-time channel, applies inbound messages from
// other participants, and feeds the durable paths (chat batcher, map
// syncer).
package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/dice"
	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/perm"
	"github.com/tabletop-forge/mapsync/internal/protocol"
)

// PingMarker is a transient visual marker; each client expires its own
// copy protocol.PingTTL after receipt.
type PingMarker struct {
	ID     string
	UserID string
	X, Y   float64
}

// Adapter couples the engine store to the real-time channel. Local
// mutations go store-first, then broadcast; inbound frames go through
// Apply, which suppresses self-echoes. All store access is serialized by
// the adapter's mutex since the UI and the read loop run concurrently.
type Adapter struct {
	mu    sync.Mutex
	store *engine.Store
	actor perm.Actor
	name  string

	conn      *websocket.Conn
	connected bool
	lastErr   error

	roster []protocol.User
	pings  map[string]PingMarker

	rng   *rand.Rand
	log   *zap.Logger
	newID func() string

	onDisconnect func()
	onChat       func(protocol.Chat)

	// afterFunc is swappable so tests can expire pings synchronously
	afterFunc func(time.Duration, func()) *time.Timer
}

type AdapterOption func(*Adapter)

// WithDisconnectHook runs fn when the connection drops, e.g. to trigger
// a chat-batch flush.
func WithDisconnectHook(fn func()) AdapterOption {
	return func(a *Adapter) { a.onDisconnect = fn }
}

// WithChatHook delivers inbound chat messages to the UI layer.
func WithChatHook(fn func(protocol.Chat)) AdapterOption {
	return func(a *Adapter) { a.onChat = fn }
}

// WithRand injects the dice RNG.
func WithRand(rng *rand.Rand) AdapterOption {
	return func(a *Adapter) { a.rng = rng }
}

func NewAdapter(st *engine.Store, actor perm.Actor, name string, log *zap.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		store:     st,
		actor:     actor,
		name:      name,
		pings:     make(map[string]PingMarker),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log,
		newID:     uuid.NewString,
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect dials the session channel. It refuses to dial before both the
// map and user identities are known; callers re-invoke it when either
// changes, which tears down any previous connection first.
func (a *Adapter) Connect(ctx context.Context, baseURL, mapID string) error {
	if mapID == "" || a.actor.UserID == "" {
		return fmt.Errorf("connect: map and user identity required")
	}

	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close(websocket.StatusNormalClosure, "reconnecting")
		a.conn = nil
		a.connected = false
	}
	a.mu.Unlock()

	u := fmt.Sprintf("%s/ws?map=%s&user=%s&name=%s",
		baseURL, url.QueryEscape(mapID), url.QueryEscape(a.actor.UserID), url.QueryEscape(a.name))
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		a.setErr(err)
		return fmt.Errorf("dial session: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.lastErr = nil
	a.mu.Unlock()

	go a.readLoop(ctx, conn)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			a.setErr(err)
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
				a.connected = false
			}
			hook := a.onDisconnect
			a.mu.Unlock()
			if hook != nil {
				hook()
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			a.log.Warn("dropping bad frame", zap.Error(err))
			continue
		}
		a.Apply(msg)
	}
}

// Connected reports channel liveness; false surfaces as the passive
// "reconnecting" indicator.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Err returns the last transport error, nil while healthy.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Adapter) setErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// send broadcasts a message. A send while disconnected is silently
// dropped: the optimistic local state is the only record until the next
// full sync.
func (a *Adapter) send(msg protocol.Message) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.log.Debug("dropping send while disconnected", zap.String("kind", msg.Kind()))
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		a.log.Error("encode message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		a.log.Debug("send failed", zap.String("kind", msg.Kind()), zap.Error(err))
	}
}

// --- local mutations: store first, broadcast second ---

func (a *Adapter) MoveToken(id string, col, row int) {
	a.mu.Lock()
	changed := a.store.MoveToken(id, col, row)
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewTokenMove(a.actor.UserID, id, col, row))
	}
}

func (a *Adapter) UpdateToken(id string, patch engine.TokenPatch, sheet *engine.SheetPatch) {
	a.mu.Lock()
	changed := a.store.UpdateToken(id, patch)
	if sheet != nil {
		changed = a.store.UpdateCharacterSheet(id, *sheet) || changed
	}
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewTokenUpdate(a.actor.UserID, id, patch, sheet))
	}
}

func (a *Adapter) AddToken(tok engine.Token) engine.Token {
	a.mu.Lock()
	created, _ := a.store.AddToken(tok)
	a.mu.Unlock()
	a.send(protocol.NewTokenCreate(a.actor.UserID, created))
	return created
}

func (a *Adapter) DuplicateToken(id string) (engine.Token, bool) {
	a.mu.Lock()
	clone, ok := a.store.DuplicateToken(id)
	a.mu.Unlock()
	if ok {
		a.send(protocol.NewTokenCreate(a.actor.UserID, clone))
	}
	return clone, ok
}

func (a *Adapter) RemoveToken(id string) {
	a.mu.Lock()
	changed := a.store.RemoveToken(id)
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewTokenDelete(a.actor.UserID, id))
	}
}

func (a *Adapter) PaintFog(col, row int) {
	a.mu.Lock()
	changed := a.store.PaintFog(col, row, a.actor.UserID)
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewFogPaint(a.actor.UserID, col, row))
	}
}

func (a *Adapter) EraseFog(col, row int) {
	a.mu.Lock()
	changed := a.store.EraseFog(col, row, a.actor.UserID, a.actor.IsDM())
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewFogErase(a.actor.UserID, col, row))
	}
}

func (a *Adapter) PaintFogRange(fromCol, fromRow, toCol, toRow int) {
	a.mu.Lock()
	changed := a.store.PaintFogRange(fromCol, fromRow, toCol, toRow, a.actor.UserID)
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewFogPaintRange(a.actor.UserID, fromCol, fromRow, toCol, toRow))
	}
}

func (a *Adapter) EraseFogRange(fromCol, fromRow, toCol, toRow int) {
	a.mu.Lock()
	changed := a.store.EraseFogRange(fromCol, fromRow, toCol, toRow, a.actor.UserID, a.actor.IsDM())
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewFogEraseRange(a.actor.UserID, fromCol, fromRow, toCol, toRow))
	}
}

// Snapshot returns an independent deep copy of the current map, taken
// under the adapter's lock. The store itself is single-caller; anything
// running off the session loop (the syncer timer, serialization) must
// read through here, never through the raw store.
func (a *Adapter) Snapshot() *engine.Map {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Snapshot()
}

// BroadcastFullSync pushes the whole document, used after structural
// DM-only changes (grid, background, combat) where per-field messages
// aren't worth their weight.
func (a *Adapter) BroadcastFullSync() {
	a.send(protocol.NewFullSync(a.actor.UserID, a.Snapshot()))
}

// --- structural mutations: commit under the lock, then push the whole
// document; none of these have a per-field wire message ---

func (a *Adapter) StartCombat(order []engine.InitiativeEntry) {
	a.mu.Lock()
	changed := a.store.StartCombat(order)
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) SetCombatTurn(i int) {
	a.mu.Lock()
	changed := a.store.SetCombatTurn(i)
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) AdvanceCombatTurn() {
	a.mu.Lock()
	changed := a.store.AdvanceCombatTurn()
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) EndCombat() {
	a.mu.Lock()
	changed := a.store.EndCombat()
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) SetGridSize(width, height int) {
	a.mu.Lock()
	changed := a.store.SetGridSize(width, height)
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) SetBackground(bg engine.Background) {
	a.mu.Lock()
	changed := a.store.SetBackground(bg)
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) AddDrawing(d engine.Drawing) (engine.Drawing, bool) {
	a.mu.Lock()
	added, ok := a.store.AddDrawing(d)
	a.mu.Unlock()
	if ok {
		a.BroadcastFullSync()
	}
	return added, ok
}

func (a *Adapter) RemoveDrawing(id string) {
	a.mu.Lock()
	changed := a.store.RemoveDrawing(id)
	a.mu.Unlock()
	if changed {
		a.BroadcastFullSync()
	}
}

func (a *Adapter) CreateMonsterGroup(name string) engine.MonsterGroup {
	a.mu.Lock()
	g := a.store.CreateMonsterGroup(name)
	a.mu.Unlock()
	a.BroadcastFullSync()
	return g
}

func (a *Adapter) AssignTokenGroup(tokenID, groupID string) {
	a.mu.Lock()
	changed := a.store.AssignTokenGroup(tokenID, groupID)
	a.mu.Unlock()
	if changed {
		a.send(protocol.NewTokenUpdate(a.actor.UserID, tokenID,
			engine.TokenPatch{MonsterGroupID: &groupID}, nil))
	}
}

// SetViewport moves the local camera. Never broadcast, never dirtied;
// the lock is still needed because the read loop owns the store too.
func (a *Adapter) SetViewport(v engine.Viewport) {
	a.mu.Lock()
	a.store.SetViewport(v)
	a.mu.Unlock()
}

// SendPing drops a transient marker. The local copy appears when the
// session echoes it back, so every participant expires it on the same
// clock.
func (a *Adapter) SendPing(x, y float64) {
	a.send(protocol.NewPing(a.actor.UserID, a.newID(), x, y))
}

// SendChat broadcasts a chat line and returns it for local append and
// batching. Input that parses as dice notation becomes a roll instead.
func (a *Adapter) SendChat(body string) protocol.Chat {
	if spec, ok := dice.Parse(body); ok {
		a.rollAndBroadcast(body, spec)
		return protocol.Chat{}
	}
	msg := protocol.NewChat(a.actor.UserID, a.newID(), a.name, body, time.Now())
	a.send(msg)
	return msg
}

func (a *Adapter) rollAndBroadcast(notation string, spec dice.Spec) {
	res := dice.Roll(a.rng, spec)
	rec := engine.RollRecord{
		ID:       a.newID(),
		UserID:   a.actor.UserID,
		UserName: a.name,
		Notation: notation,
		Rolls:    res.Rolls,
		Dropped:  res.Dropped,
		Modifier: spec.Modifier,
		Total:    res.Total,
		RolledAt: time.Now(),
	}
	a.mu.Lock()
	a.store.PushRoll(rec)
	a.mu.Unlock()
	a.send(protocol.NewRoll(a.actor.UserID, rec))
}

// --- inbound ---

// Apply dispatches one inbound message into the store. Messages that
// originated locally are skipped, since the optimistic mutation already
// applied them, except pings, which are deliberately echoed so the
// sender's marker runs on the same expiry clock as everyone else's.
func (a *Adapter) Apply(msg protocol.Message) {
	if msg.Sender() == a.actor.UserID && msg.Kind() != protocol.KindPing {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch m := msg.(type) {
	case protocol.TokenMove:
		a.store.ApplyRemoteMove(m.TokenID, m.Col, m.Row)
	case protocol.TokenUpdate:
		a.store.ApplyRemotePatch(m.TokenID, m.Patch)
		if m.Sheet != nil {
			a.store.ApplyRemoteSheet(m.TokenID, *m.Sheet)
		}
	case protocol.TokenCreate:
		a.store.ApplyRemoteToken(m.Token)
	case protocol.TokenDelete:
		a.store.RemoveToken(m.TokenID)
	case protocol.FullSync:
		a.store.Reconcile(m.Map)
	case protocol.FogPaint:
		a.store.PaintFog(m.Col, m.Row, m.Sender())
	case protocol.FogErase:
		a.store.EraseFog(m.Col, m.Row, m.Sender(), a.senderIsDM(m))
	case protocol.FogPaintRange:
		a.store.PaintFogRange(m.FromCol, m.FromRow, m.ToCol, m.ToRow, m.Sender())
	case protocol.FogEraseRange:
		a.store.EraseFogRange(m.FromCol, m.FromRow, m.ToCol, m.ToRow, m.Sender(), a.senderIsDM(m))
	case protocol.Presence:
		a.roster = m.Users
	case protocol.UserLeave:
		// roster refresh follows in the next presence frame
	case protocol.Ping:
		marker := PingMarker{ID: m.ID, UserID: m.Sender(), X: m.X, Y: m.Y}
		a.pings[marker.ID] = marker
		a.afterFunc(protocol.PingTTL, func() { a.expirePing(marker.ID) })
	case protocol.Chat:
		if a.onChat != nil {
			go a.onChat(m)
		}
	case protocol.Roll:
		a.store.PushRoll(m.Record)
	}
}

func (a *Adapter) senderIsDM(msg protocol.Message) bool {
	return perm.Actor{UserID: msg.Sender(), MapDMID: a.actor.MapDMID}.IsDM()
}

func (a *Adapter) expirePing(id string) {
	a.mu.Lock()
	delete(a.pings, id)
	a.mu.Unlock()
}

// Pings returns the live markers for rendering.
func (a *Adapter) Pings() []PingMarker {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PingMarker, 0, len(a.pings))
	for _, p := range a.pings {
		out = append(out, p)
	}
	return out
}

// Roster returns the last presence snapshot.
func (a *Adapter) Roster() []protocol.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.User(nil), a.roster...)
}

// Close tears the connection down; a best-effort leave notice mirrors
// the page-unload beacon.
func (a *Adapter) Close() {
	a.send(protocol.NewUserLeave(a.actor.UserID, a.name))
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close(websocket.StatusNormalClosure, "bye")
		a.conn = nil
		a.connected = false
	}
}
