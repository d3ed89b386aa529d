// Package engine holds the authoritative in-memory state of one tabletop
// map and the transitions that mutate it. Every transition is total:
// unknown ids and nil state are no-ops, never errors. Mutations that touch
// a token record it in the dirty ledger so the reconciliation merge can
// protect recent local writes from incoming snapshots.
package engine

import (
	"fmt"
	"time"
)

const (
	MinGridSize = 5
	MaxGridSize = 100

	// RollHistoryCap bounds the map's roll history ring.
	RollHistoryCap = 8
)

// Layer assigns a token to one of the stacking layers.
type Layer string

const (
	LayerCharacter Layer = "character"
	LayerMonster   Layer = "monster"
	LayerObject    Layer = "object"
)

// Condition values mirror the character-sheet status dropdown.
const ConditionHealthy = ""

type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Background is the map's backdrop image and its transform.
type Background struct {
	ImageURL string  `json:"imageUrl,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
}

// Viewport is client-local camera state. It rides along in the document
// for convenience but is never taken from an incoming snapshot.
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

type Abilities struct {
	Str int `json:"str"`
	Dex int `json:"dex"`
	Con int `json:"con"`
	Int int `json:"int"`
	Wis int `json:"wis"`
	Cha int `json:"cha"`
}

type DeathSaves struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// CharacterSheet is the embedded stat block of a token. HPCurrent,
// DeathSaves and Condition are individual per token; the remaining fields
// are shared across a monster group.
type CharacterSheet struct {
	HPCurrent  int        `json:"hpCurrent"`
	HPMax      int        `json:"hpMax"`
	ArmorClass int        `json:"armorClass"`
	Speed      int        `json:"speed"`
	Abilities  Abilities  `json:"abilities"`
	DeathSaves DeathSaves `json:"deathSaves"`
	Condition  string     `json:"condition,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Token is a placed piece on the map grid.
type Token struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	Color          string          `json:"color,omitempty"`
	Size           int             `json:"size"` // footprint in cells
	Col            int             `json:"col"`
	Row            int             `json:"row"`
	Rotation       int             `json:"rotation,omitempty"`
	Flipped        bool            `json:"flipped,omitempty"`
	Visible        bool            `json:"visible"`
	Layer          Layer           `json:"layer"`
	OwnerID        string          `json:"ownerId,omitempty"` // empty means DM-controlled
	Sheet          *CharacterSheet `json:"sheet,omitempty"`
	LibraryID      string          `json:"libraryId,omitempty"` // shared character-library link
	MonsterGroupID string          `json:"monsterGroupId,omitempty"`
}

// FogCell is one obscured grid cell, attributed to whoever painted it.
type FogCell struct {
	Col       int    `json:"col"`
	Row       int    `json:"row"`
	PaintedBy string `json:"paintedBy,omitempty"`
}

// FogKey is the map key for a fog cell at (col,row).
func FogKey(col, row int) string {
	return fmt.Sprintf("%d,%d", col, row)
}

type MonsterGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InitiativeEntry is one slot in the combat order. A group entry carries
// the member token ids behind a single representative.
type InitiativeEntry struct {
	TokenID    string   `json:"tokenId,omitempty"`
	GroupID    string   `json:"groupId,omitempty"`
	MemberIDs  []string `json:"memberIds,omitempty"`
	Name       string   `json:"name"`
	Initiative int      `json:"initiative"`
	Roll       int      `json:"roll"`
	Modifier   int      `json:"modifier"`
}

// CombatState is nil on a map outside combat; there are no other states.
type CombatState struct {
	IsInCombat       bool              `json:"isInCombat"`
	InitiativeOrder  []InitiativeEntry `json:"initiativeOrder"`
	CurrentTurnIndex int               `json:"currentTurnIndex"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Drawing is one freehand path.
type Drawing struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId,omitempty"`
	Color  string  `json:"color,omitempty"`
	Points []Point `json:"points"`
}

// RollRecord is one dice result kept in the map's bounded history.
type RollRecord struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName,omitempty"`
	Notation string    `json:"notation"`
	Rolls    []int     `json:"rolls"`
	Dropped  int       `json:"dropped,omitempty"`
	Modifier int       `json:"modifier,omitempty"`
	Total    int       `json:"total"`
	RolledAt time.Time `json:"rolledAt"`
}

// Map is the root aggregate for one tabletop map.
type Map struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Grid          Grid                    `json:"grid"`
	Background    Background              `json:"background"`
	Viewport      Viewport                `json:"viewport"`
	Fog           map[string]FogCell      `json:"fog"`
	Drawings      []Drawing               `json:"drawings"`
	Rolls         []RollRecord            `json:"rolls"`
	MonsterGroups map[string]MonsterGroup `json:"monsterGroups"`
	Combat        *CombatState            `json:"combat,omitempty"`
	Tokens        []Token                 `json:"tokens"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// NewMap returns an empty map with a default grid.
func NewMap(id, name string) *Map {
	m := &Map{
		ID:   id,
		Name: name,
		Grid: Grid{Width: 30, Height: 20},
	}
	m.Normalize()
	return m
}

// Normalize repairs a map loaded from an older or partial document:
// missing collections become empty, the grid is clamped into range.
// Documents written before monster groups or combat existed simply lack
// those fields, so absence must load cleanly.
func (m *Map) Normalize() {
	if m == nil {
		return
	}
	if m.Fog == nil {
		m.Fog = make(map[string]FogCell)
	}
	if m.MonsterGroups == nil {
		m.MonsterGroups = make(map[string]MonsterGroup)
	}
	if m.Tokens == nil {
		m.Tokens = []Token{}
	}
	if m.Drawings == nil {
		m.Drawings = []Drawing{}
	}
	if m.Rolls == nil {
		m.Rolls = []RollRecord{}
	}
	m.Grid.Width = clampGrid(m.Grid.Width)
	m.Grid.Height = clampGrid(m.Grid.Height)
}

// Clone deep-copies the map so snapshots can leave the store without
// sharing mutable collections.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := *m

	out.Fog = make(map[string]FogCell, len(m.Fog))
	for k, v := range m.Fog {
		out.Fog[k] = v
	}
	out.MonsterGroups = make(map[string]MonsterGroup, len(m.MonsterGroups))
	for k, v := range m.MonsterGroups {
		out.MonsterGroups[k] = v
	}

	out.Tokens = make([]Token, len(m.Tokens))
	for i, tok := range m.Tokens {
		out.Tokens[i] = tok.clone()
	}

	out.Drawings = make([]Drawing, len(m.Drawings))
	for i, d := range m.Drawings {
		out.Drawings[i] = d
		out.Drawings[i].Points = append([]Point(nil), d.Points...)
	}

	out.Rolls = make([]RollRecord, len(m.Rolls))
	for i, r := range m.Rolls {
		out.Rolls[i] = r
		out.Rolls[i].Rolls = append([]int(nil), r.Rolls...)
	}

	if m.Combat != nil {
		combat := *m.Combat
		combat.InitiativeOrder = make([]InitiativeEntry, len(m.Combat.InitiativeOrder))
		for i, e := range m.Combat.InitiativeOrder {
			combat.InitiativeOrder[i] = e
			combat.InitiativeOrder[i].MemberIDs = append([]string(nil), e.MemberIDs...)
		}
		out.Combat = &combat
	}
	return &out
}

func (t Token) clone() Token {
	out := t
	if t.Sheet != nil {
		sheet := *t.Sheet
		out.Sheet = &sheet
	}
	return out
}

// tokenIndex finds a token by id, -1 if absent.
func (m *Map) tokenIndex(id string) int {
	for i := range m.Tokens {
		if m.Tokens[i].ID == id {
			return i
		}
	}
	return -1
}

func clampGrid(v int) int {
	if v < MinGridSize {
		return MinGridSize
	}
	if v > MaxGridSize {
		return MaxGridSize
	}
	return v
}
