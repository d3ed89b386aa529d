// Package perm answers "may this actor mutate this entity". The predicates
// are pure; identity and role inputs come from the caller, and the state
// store never re-checks them.
package perm

// Actor describes the current user relative to one map.
type Actor struct {
	UserID    string
	MapDMID   string // user id of the map's DM/owner
	MapEditor bool   // explicit map-edit grant beyond ownership
}

// IsDM reports whether the actor runs the map.
func (a Actor) IsDM() bool {
	return a.UserID != "" && a.UserID == a.MapDMID
}

// CanEditMap reports whether the actor may make structural map changes
// (grid, background, fog, combat, monster groups).
func (a Actor) CanEditMap() bool {
	return a.IsDM() || a.MapEditor
}

// CanControlToken reports whether the actor may move or edit a token.
// An empty owner means the token is DM-controlled.
func (a Actor) CanControlToken(ownerID string) bool {
	if a.CanEditMap() {
		return true
	}
	return ownerID != "" && ownerID == a.UserID
}

// CanEraseFog reports whether the actor may erase a fog cell painted by
// painterID. Non-privileged users may only erase their own paint.
func (a Actor) CanEraseFog(painterID string) bool {
	return a.IsDM() || painterID == a.UserID
}
