package engine

import (
	"time"

	"github.com/google/uuid"
)

// Store is the single owner of one map's state for the lifetime of an
// editing session. All mutation goes through its method set; other
// components hold a *Store and never reach into the Map directly.
//
// Methods return true when state actually changed, so callers can skip
// redundant broadcasts and re-renders. Token-touching mutations mark the
// token dirty, which is what makes them optimistic: the UI reflects the
// change before any server confirmation.
//
// The store is not safe for concurrent use; the session's event loop is
// its only caller.
type Store struct {
	m      *Map
	ledger *DirtyLedger

	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source, mainly for staleness-window tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator injects the id source for created entities.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func NewStore(m *Map, opts ...Option) *Store {
	if m == nil {
		m = NewMap("", "")
	}
	m.Normalize()
	s := &Store{
		m:      m,
		ledger: NewDirtyLedger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Map exposes the owned state for reads. Callers must not mutate it.
func (s *Store) Map() *Map { return s.m }

// Snapshot returns an independent deep copy safe to serialize or send.
func (s *Store) Snapshot() *Map { return s.m.Clone() }

// Ledger exposes the dirty ledger, primarily for reconciliation tests.
func (s *Store) Ledger() *DirtyLedger { return s.ledger }

// touch bumps the change-detection timestamp. It is not an ordering
// mechanism; reconciliation uses the ledger, not this field.
func (s *Store) touch() {
	s.m.UpdatedAt = s.now()
}

func (s *Store) markDirty(id string) {
	s.ledger.Mark(id, s.now())
}

// --- tokens ---

// AddToken places a token. A missing id is filled in; the footprint
// defaults to one cell. The new token is immediately dirty.
func (s *Store) AddToken(tok Token) (Token, bool) {
	if tok.ID == "" {
		tok.ID = s.newID()
	}
	if tok.Size < 1 {
		tok.Size = 1
	}
	if tok.Layer == "" {
		tok.Layer = LayerCharacter
	}
	s.m.Tokens = append(s.m.Tokens, tok)
	s.markDirty(tok.ID)
	s.touch()
	return tok, true
}

// ApplyRemoteToken inserts or replaces a token from another participant
// without marking it dirty, since the write is already server-side truth
// from the local client's point of view.
func (s *Store) ApplyRemoteToken(tok Token) bool {
	if tok.ID == "" {
		return false
	}
	if i := s.m.tokenIndex(tok.ID); i >= 0 {
		s.m.Tokens[i] = tok
	} else {
		s.m.Tokens = append(s.m.Tokens, tok)
	}
	s.touch()
	return true
}

// MoveToken commits a token position. Positions may go negative during a
// drag, so the commit clamps to the grid origin.
func (s *Store) MoveToken(id string, col, row int) bool {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return false
	}
	s.m.Tokens[i].Col = clampCoord(col)
	s.m.Tokens[i].Row = clampCoord(row)
	s.markDirty(id)
	s.touch()
	return true
}

// ApplyRemoteMove is MoveToken for inbound messages: no dirty marking.
func (s *Store) ApplyRemoteMove(id string, col, row int) bool {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return false
	}
	s.m.Tokens[i].Col = clampCoord(col)
	s.m.Tokens[i].Row = clampCoord(row)
	s.touch()
	return true
}

// TokenPatch is a partial token update; nil fields are left untouched.
type TokenPatch struct {
	Name           *string `json:"name,omitempty"`
	ImageURL       *string `json:"imageUrl,omitempty"`
	Color          *string `json:"color,omitempty"`
	Size           *int    `json:"size,omitempty"`
	Rotation       *int    `json:"rotation,omitempty"`
	Flipped        *bool   `json:"flipped,omitempty"`
	Visible        *bool   `json:"visible,omitempty"`
	Layer          *Layer  `json:"layer,omitempty"`
	OwnerID        *string `json:"ownerId,omitempty"`
	MonsterGroupID *string `json:"monsterGroupId,omitempty"`
}

func (p TokenPatch) applyTo(tok *Token) {
	if p.Name != nil {
		tok.Name = *p.Name
	}
	if p.ImageURL != nil {
		tok.ImageURL = *p.ImageURL
	}
	if p.Color != nil {
		tok.Color = *p.Color
	}
	if p.Size != nil && *p.Size >= 1 {
		tok.Size = *p.Size
	}
	if p.Rotation != nil {
		tok.Rotation = *p.Rotation
	}
	if p.Flipped != nil {
		tok.Flipped = *p.Flipped
	}
	if p.Visible != nil {
		tok.Visible = *p.Visible
	}
	if p.Layer != nil {
		tok.Layer = *p.Layer
	}
	if p.OwnerID != nil {
		tok.OwnerID = *p.OwnerID
	}
	if p.MonsterGroupID != nil {
		tok.MonsterGroupID = *p.MonsterGroupID
	}
}

// UpdateToken applies a partial patch to a token.
func (s *Store) UpdateToken(id string, patch TokenPatch) bool {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return false
	}
	patch.applyTo(&s.m.Tokens[i])
	s.markDirty(id)
	s.touch()
	return true
}

// ApplyRemotePatch is UpdateToken for inbound messages: no dirty marking.
func (s *Store) ApplyRemotePatch(id string, patch TokenPatch) bool {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return false
	}
	patch.applyTo(&s.m.Tokens[i])
	s.touch()
	return true
}

// RemoveToken deletes a token and clears its ledger entry.
func (s *Store) RemoveToken(id string) bool {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return false
	}
	s.m.Tokens = append(s.m.Tokens[:i], s.m.Tokens[i+1:]...)
	s.ledger.Forget(id)
	s.touch()
	return true
}

// --- combat ---

// StartCombat transitions nil -> active with the given order.
func (s *Store) StartCombat(order []InitiativeEntry) bool {
	s.m.Combat = &CombatState{
		IsInCombat:       true,
		InitiativeOrder:  order,
		CurrentTurnIndex: 0,
	}
	s.touch()
	return true
}

// SetCombatTurn sets the current turn index; a no-op outside combat or
// for an out-of-range index.
func (s *Store) SetCombatTurn(i int) bool {
	c := s.m.Combat
	if c == nil || i < 0 || i >= len(c.InitiativeOrder) {
		return false
	}
	c.CurrentTurnIndex = i
	s.touch()
	return true
}

// AdvanceCombatTurn steps to the next entry, wrapping at the end.
func (s *Store) AdvanceCombatTurn() bool {
	c := s.m.Combat
	if c == nil || len(c.InitiativeOrder) == 0 {
		return false
	}
	c.CurrentTurnIndex = (c.CurrentTurnIndex + 1) % len(c.InitiativeOrder)
	s.touch()
	return true
}

// EndCombat transitions active -> nil.
func (s *Store) EndCombat() bool {
	if s.m.Combat == nil {
		return false
	}
	s.m.Combat = nil
	s.touch()
	return true
}

// --- map structure ---

// SetGridSize resizes the grid, clamping both axes into [5,100].
func (s *Store) SetGridSize(width, height int) bool {
	g := Grid{Width: clampGrid(width), Height: clampGrid(height)}
	if g == s.m.Grid {
		return false
	}
	s.m.Grid = g
	s.touch()
	return true
}

func (s *Store) SetBackground(bg Background) bool {
	if bg == s.m.Background {
		return false
	}
	s.m.Background = bg
	s.touch()
	return true
}

// SetViewport updates the local camera. Viewport is client-local: it is
// not marked dirty, not broadcast, and never merged from snapshots.
func (s *Store) SetViewport(v Viewport) {
	s.m.Viewport = v
}

func (s *Store) SetName(name string) bool {
	if name == "" || name == s.m.Name {
		return false
	}
	s.m.Name = name
	s.touch()
	return true
}

// --- drawings ---

func (s *Store) AddDrawing(d Drawing) (Drawing, bool) {
	if len(d.Points) == 0 {
		return Drawing{}, false
	}
	if d.ID == "" {
		d.ID = s.newID()
	}
	s.m.Drawings = append(s.m.Drawings, d)
	s.touch()
	return d, true
}

func (s *Store) RemoveDrawing(id string) bool {
	for i := range s.m.Drawings {
		if s.m.Drawings[i].ID == id {
			s.m.Drawings = append(s.m.Drawings[:i], s.m.Drawings[i+1:]...)
			s.touch()
			return true
		}
	}
	return false
}

// --- rolls ---

// PushRoll prepends a result to the history ring, newest first, capped.
func (s *Store) PushRoll(r RollRecord) {
	if r.ID == "" {
		r.ID = s.newID()
	}
	s.m.Rolls = append([]RollRecord{r}, s.m.Rolls...)
	if len(s.m.Rolls) > RollHistoryCap {
		s.m.Rolls = s.m.Rolls[:RollHistoryCap]
	}
	s.touch()
}

// --- monster groups ---

func (s *Store) CreateMonsterGroup(name string) MonsterGroup {
	g := MonsterGroup{ID: s.newID(), Name: name}
	s.m.MonsterGroups[g.ID] = g
	s.touch()
	return g
}

// AssignTokenGroup links a token to a group, or clears the link when
// groupID is empty. Unknown group ids are rejected.
func (s *Store) AssignTokenGroup(tokenID, groupID string) bool {
	i := s.m.tokenIndex(tokenID)
	if i < 0 {
		return false
	}
	if groupID != "" {
		if _, ok := s.m.MonsterGroups[groupID]; !ok {
			return false
		}
	}
	s.m.Tokens[i].MonsterGroupID = groupID
	s.markDirty(tokenID)
	s.touch()
	return true
}

func clampCoord(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
