// Package httpapi exposes the durable side of a map over REST: whole
// documents, token sub-resources and batched chat. The caller's identity
// arrives in the X-User-Id header, set upstream by the authenticating
// proxy; these handlers only evaluate permission predicates against it.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/perm"
	"github.com/tabletop-forge/mapsync/internal/store"
)

const userHeader = "X-User-Id"

type API struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewAPI(st store.Store, log *zap.Logger) *API {
	return &API{store: st, log: log, now: time.Now, newID: uuid.NewString}
}

// MapDocument is the REST shape of a persisted map.
type MapDocument struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId,omitempty"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (a *API) createMap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		body.Name = "Untitled Map"
	}

	id := a.newID()
	state, err := json.Marshal(engine.NewMap(id, body.Name))
	if err != nil {
		a.internalError(w, "marshal map", err)
		return
	}
	rec := &store.MapRecord{
		ID:        id,
		Name:      body.Name,
		OwnerID:   r.Header.Get(userHeader),
		State:     state,
		UpdatedAt: a.now(),
	}
	if err := a.store.PutMap(r.Context(), rec); err != nil {
		a.internalError(w, "create map", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, docFromRecord(rec))
}

func (a *API) getMap(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, docFromRecord(rec))
}

func (a *API) putMap(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	var body struct {
		Name  string          `json:"name"`
		State json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	// normalize the blob so older documents round-trip with defaults
	var m engine.Map
	if err := json.Unmarshal(body.State, &m); err != nil {
		http.Error(w, "bad map state", http.StatusBadRequest)
		return
	}
	m.Normalize()
	state, err := json.Marshal(&m)
	if err != nil {
		a.internalError(w, "marshal map", err)
		return
	}

	ownerID := r.Header.Get(userHeader)
	prev, err := a.store.GetMap(r.Context(), mapID)
	switch {
	case err == nil:
		if !a.actor(r, prev).CanEditMap() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ownerID = prev.OwnerID
	case errors.Is(err, store.ErrNotFound):
		// first write creates the document, owned by the caller
	default:
		a.internalError(w, "load map", err)
		return
	}

	rec := &store.MapRecord{
		ID:        mapID,
		Name:      body.Name,
		OwnerID:   ownerID,
		State:     state,
		UpdatedAt: a.now(),
	}
	if err := a.store.PutMap(r.Context(), rec); err != nil {
		a.internalError(w, "put map", err)
		return
	}
	a.writeJSON(w, http.StatusOK, docFromRecord(rec))
}

func (a *API) deleteMap(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	if !a.actor(r, rec).IsDM() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := a.store.DeleteMap(r.Context(), rec.ID); err != nil {
		a.internalError(w, "delete map", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createToken is open to any identified participant; players place
// their own characters, so creation is not DM-scoped like deletion of
// the map itself.
func (a *API) createToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(userHeader) == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	var tok engine.Token
	if err := json.NewDecoder(r.Body).Decode(&tok); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	var created engine.Token
	a.mutateState(w, r, func(rec *store.MapRecord, s *engine.Store) int {
		created, _ = s.AddToken(tok)
		return http.StatusCreated
	}, func() any { return created })
}

// moveToken takes the minimal {col,row} payload used for the
// high-frequency move path.
func (a *API) moveToken(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	var body struct {
		Col int `json:"col"`
		Row int `json:"row"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	a.mutateToken(w, r, tokenID, func(s *engine.Store) bool {
		return s.MoveToken(tokenID, body.Col, body.Row)
	})
}

func (a *API) patchToken(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	var body struct {
		Patch engine.TokenPatch  `json:"patch"`
		Sheet *engine.SheetPatch `json:"sheet,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	a.mutateToken(w, r, tokenID, func(s *engine.Store) bool {
		changed := s.UpdateToken(tokenID, body.Patch)
		if body.Sheet != nil {
			changed = s.UpdateCharacterSheet(tokenID, *body.Sheet) || changed
		}
		return changed
	})
}

func (a *API) deleteToken(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	a.mutateToken(w, r, tokenID, func(s *engine.Store) bool {
		return s.RemoveToken(tokenID)
	})
}

func (a *API) appendChat(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	var msgs []store.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	for i := range msgs {
		msgs[i].MapID = mapID
		if msgs[i].ID == "" {
			msgs[i].ID = a.newID()
		}
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = a.now()
		}
	}
	if err := a.store.AppendChat(r.Context(), msgs); err != nil {
		a.internalError(w, "append chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.store.ListChat(r.Context(), chi.URLParam(r, "mapID"))
	if err != nil {
		a.internalError(w, "list chat", err)
		return
	}
	a.writeJSON(w, http.StatusOK, msgs)
}

func (a *API) clearChat(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	if !a.actor(r, rec).CanEditMap() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := a.store.ClearChat(r.Context(), rec.ID); err != nil {
		a.internalError(w, "clear chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// --- helpers ---

func (a *API) actor(r *http.Request, rec *store.MapRecord) perm.Actor {
	return perm.Actor{UserID: r.Header.Get(userHeader), MapDMID: rec.OwnerID}
}

func (a *API) loadRecord(w http.ResponseWriter, r *http.Request) (*store.MapRecord, bool) {
	rec, err := a.store.GetMap(r.Context(), chi.URLParam(r, "mapID"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "map not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		a.internalError(w, "load map", err)
		return nil, false
	}
	return rec, true
}

// mutateState loads the map blob, applies fn through an engine store,
// and writes the blob back. fn returns the success status code.
func (a *API) mutateState(w http.ResponseWriter, r *http.Request, fn func(*store.MapRecord, *engine.Store) int, resp func() any) {
	rec, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	var m engine.Map
	if err := json.Unmarshal(rec.State, &m); err != nil {
		a.internalError(w, "unmarshal map state", err)
		return
	}
	m.Normalize()

	s := engine.NewStore(&m)
	status := fn(rec, s)
	if status >= http.StatusBadRequest {
		return
	}

	state, err := json.Marshal(s.Map())
	if err != nil {
		a.internalError(w, "marshal map state", err)
		return
	}
	rec.State = state
	rec.UpdatedAt = a.now()
	if err := a.store.PutMap(r.Context(), rec); err != nil {
		a.internalError(w, "save map", err)
		return
	}
	a.writeJSON(w, status, resp())
}

// mutateToken wraps mutateState with the token permission check: the
// token's owner or anyone with full map-edit rights.
func (a *API) mutateToken(w http.ResponseWriter, r *http.Request, tokenID string, fn func(*engine.Store) bool) {
	a.mutateState(w, r, func(rec *store.MapRecord, s *engine.Store) int {
		var owner string
		found := false
		for _, tok := range s.Map().Tokens {
			if tok.ID == tokenID {
				owner, found = tok.OwnerID, true
				break
			}
		}
		if !found {
			http.Error(w, "token not found", http.StatusNotFound)
			return http.StatusNotFound
		}
		if !a.actor(r, rec).CanControlToken(owner) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return http.StatusForbidden
		}
		fn(s)
		return http.StatusOK
	}, func() any { return map[string]bool{"ok": true} })
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", zap.Error(err))
	}
}

func (a *API) internalError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func docFromRecord(rec *store.MapRecord) MapDocument {
	return MapDocument{
		ID:        rec.ID,
		Name:      rec.Name,
		OwnerID:   rec.OwnerID,
		State:     json.RawMessage(rec.State),
		UpdatedAt: rec.UpdatedAt,
	}
}
