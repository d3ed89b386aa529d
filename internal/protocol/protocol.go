// Package protocol defines the typed messages exchanged over a map's
// real-time channel. Every wire frame is a JSON object with a "type"
// discriminator and the originating "userId", which receivers use for
// self-echo suppression. Decode maps a frame onto exactly one concrete
// message type; unknown types are an error so new kinds cannot slip
// through a dispatch switch unhandled.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tabletop-forge/mapsync/internal/engine"
)

const (
	KindTokenMove     = "token_move"
	KindTokenUpdate   = "token_update"
	KindTokenCreate   = "token_create"
	KindTokenDelete   = "token_delete"
	KindFullSync      = "full_sync"
	KindFogPaint      = "fog_paint"
	KindFogErase      = "fog_erase"
	KindFogPaintRange = "fog_paint_range"
	KindFogEraseRange = "fog_erase_range"
	KindPresence      = "presence"
	KindUserLeave     = "user_leave"
	KindPing          = "ping"
	KindChat          = "chat"
	KindRoll          = "roll"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is the closed set of wire messages.
type Message interface {
	isMessage()
	Kind() string
	Sender() string
}

// Header is embedded in every message and carries the discriminator and
// origin. Constructors set Type; hand-built headers are for tests only.
type Header struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func (Header) isMessage()       {}
func (h Header) Kind() string   { return h.Type }
func (h Header) Sender() string { return h.UserID }

// TokenMove is the minimal high-frequency position payload.
type TokenMove struct {
	Header
	TokenID string `json:"tokenId"`
	Col     int    `json:"col"`
	Row     int    `json:"row"`
}

// TokenUpdate is a partial field patch; Sheet edits ride along so group
// propagation happens on every receiving client.
type TokenUpdate struct {
	Header
	TokenID string             `json:"tokenId"`
	Patch   engine.TokenPatch  `json:"patch"`
	Sheet   *engine.SheetPatch `json:"sheet,omitempty"`
}

type TokenCreate struct {
	Header
	Token engine.Token `json:"token"`
}

type TokenDelete struct {
	Header
	TokenID string `json:"tokenId"`
}

// FullSync carries the whole map document. Structural DM changes (grid,
// background, combat) are rare and cheap to resend in full.
type FullSync struct {
	Header
	Map *engine.Map `json:"map"`
}

type FogPaint struct {
	Header
	Col int `json:"col"`
	Row int `json:"row"`
}

type FogErase struct {
	Header
	Col int `json:"col"`
	Row int `json:"row"`
}

type FogPaintRange struct {
	Header
	FromCol int `json:"fromCol"`
	FromRow int `json:"fromRow"`
	ToCol   int `json:"toCol"`
	ToRow   int `json:"toRow"`
}

type FogEraseRange struct {
	Header
	FromCol int `json:"fromCol"`
	FromRow int `json:"fromRow"`
	ToCol   int `json:"toCol"`
	ToRow   int `json:"toRow"`
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Presence is a server-pushed roster snapshot.
type Presence struct {
	Header
	Users []User `json:"users"`
}

// UserLeave announces a departed participant.
type UserLeave struct {
	Header
	Name string `json:"name,omitempty"`
}

// Ping is a transient map marker echoed to every connection including
// the sender; each client expires it locally after PingTTL.
type Ping struct {
	Header
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// PingTTL is how long a ping marker stays visible on each client.
const PingTTL = 3 * time.Second

type Chat struct {
	Header
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
}

type Roll struct {
	Header
	Record engine.RollRecord `json:"record"`
}

func header(kind, userID string) Header {
	return Header{Type: kind, UserID: userID}
}

func NewTokenMove(userID, tokenID string, col, row int) TokenMove {
	return TokenMove{Header: header(KindTokenMove, userID), TokenID: tokenID, Col: col, Row: row}
}

func NewTokenUpdate(userID, tokenID string, patch engine.TokenPatch, sheet *engine.SheetPatch) TokenUpdate {
	return TokenUpdate{Header: header(KindTokenUpdate, userID), TokenID: tokenID, Patch: patch, Sheet: sheet}
}

func NewTokenCreate(userID string, tok engine.Token) TokenCreate {
	return TokenCreate{Header: header(KindTokenCreate, userID), Token: tok}
}

func NewTokenDelete(userID, tokenID string) TokenDelete {
	return TokenDelete{Header: header(KindTokenDelete, userID), TokenID: tokenID}
}

func NewFullSync(userID string, m *engine.Map) FullSync {
	return FullSync{Header: header(KindFullSync, userID), Map: m}
}

func NewFogPaint(userID string, col, row int) FogPaint {
	return FogPaint{Header: header(KindFogPaint, userID), Col: col, Row: row}
}

func NewFogErase(userID string, col, row int) FogErase {
	return FogErase{Header: header(KindFogErase, userID), Col: col, Row: row}
}

func NewFogPaintRange(userID string, fromCol, fromRow, toCol, toRow int) FogPaintRange {
	return FogPaintRange{Header: header(KindFogPaintRange, userID), FromCol: fromCol, FromRow: fromRow, ToCol: toCol, ToRow: toRow}
}

func NewFogEraseRange(userID string, fromCol, fromRow, toCol, toRow int) FogEraseRange {
	return FogEraseRange{Header: header(KindFogEraseRange, userID), FromCol: fromCol, FromRow: fromRow, ToCol: toCol, ToRow: toRow}
}

func NewPresence(users []User) Presence {
	return Presence{Header: header(KindPresence, ""), Users: users}
}

func NewUserLeave(userID, name string) UserLeave {
	return UserLeave{Header: header(KindUserLeave, userID), Name: name}
}

func NewPing(userID, id string, x, y float64) Ping {
	return Ping{Header: header(KindPing, userID), ID: id, X: x, Y: y}
}

func NewChat(userID, id, name, body string, sentAt time.Time) Chat {
	return Chat{Header: header(KindChat, userID), ID: id, Name: name, Body: body, SentAt: sentAt}
}

func NewRoll(userID string, rec engine.RollRecord) Roll {
	return Roll{Header: header(KindRoll, userID), Record: rec}
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	var head Header
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch head.Type {
	case KindTokenMove:
		var m TokenMove
		err = json.Unmarshal(data, &m)
		msg = m
	case KindTokenUpdate:
		var m TokenUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case KindTokenCreate:
		var m TokenCreate
		err = json.Unmarshal(data, &m)
		msg = m
	case KindTokenDelete:
		var m TokenDelete
		err = json.Unmarshal(data, &m)
		msg = m
	case KindFullSync:
		var m FullSync
		err = json.Unmarshal(data, &m)
		msg = m
	case KindFogPaint:
		var m FogPaint
		err = json.Unmarshal(data, &m)
		msg = m
	case KindFogErase:
		var m FogErase
		err = json.Unmarshal(data, &m)
		msg = m
	case KindFogPaintRange:
		var m FogPaintRange
		err = json.Unmarshal(data, &m)
		msg = m
	case KindFogEraseRange:
		var m FogEraseRange
		err = json.Unmarshal(data, &m)
		msg = m
	case KindPresence:
		var m Presence
		err = json.Unmarshal(data, &m)
		msg = m
	case KindUserLeave:
		var m UserLeave
		err = json.Unmarshal(data, &m)
		msg = m
	case KindPing:
		var m Ping
		err = json.Unmarshal(data, &m)
		msg = m
	case KindChat:
		var m Chat
		err = json.Unmarshal(data, &m)
		msg = m
	case KindRoll:
		var m Roll
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return msg, nil
}
