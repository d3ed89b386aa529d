package engine

// Fog of war. Cells are keyed "col,row" and carry their painter's id:
// paint is idempotent per key, erase is scoped to the painter unless the
// actor is privileged. Range operations report whether anything changed
// so callers can skip the broadcast when a drag covered only
// already-painted ground.

// PaintFog obscures a single cell. A second paint on the same key is a
// no-op regardless of who painted first.
func (s *Store) PaintFog(col, row int, userID string) bool {
	key := FogKey(col, row)
	if _, ok := s.m.Fog[key]; ok {
		return false
	}
	s.m.Fog[key] = FogCell{Col: col, Row: row, PaintedBy: userID}
	s.touch()
	return true
}

// EraseFog clears a single cell. Privileged actors erase anything;
// others only their own paint.
func (s *Store) EraseFog(col, row int, userID string, privileged bool) bool {
	key := FogKey(col, row)
	cell, ok := s.m.Fog[key]
	if !ok {
		return false
	}
	if !privileged && cell.PaintedBy != userID {
		return false
	}
	delete(s.m.Fog, key)
	s.touch()
	return true
}

// PaintFogRange obscures every missing cell in the rectangle spanned by
// two arbitrary corners.
func (s *Store) PaintFogRange(fromCol, fromRow, toCol, toRow int, userID string) bool {
	minCol, maxCol := ordered(fromCol, toCol)
	minRow, maxRow := ordered(fromRow, toRow)

	changed := false
	for col := minCol; col <= maxCol; col++ {
		for row := minRow; row <= maxRow; row++ {
			key := FogKey(col, row)
			if _, ok := s.m.Fog[key]; ok {
				continue
			}
			s.m.Fog[key] = FogCell{Col: col, Row: row, PaintedBy: userID}
			changed = true
		}
	}
	if changed {
		s.touch()
	}
	return changed
}

// EraseFogRange clears every erasable cell in the rectangle, subject to
// the same ownership rule as EraseFog.
func (s *Store) EraseFogRange(fromCol, fromRow, toCol, toRow int, userID string, privileged bool) bool {
	minCol, maxCol := ordered(fromCol, toCol)
	minRow, maxRow := ordered(fromRow, toRow)

	changed := false
	for col := minCol; col <= maxCol; col++ {
		for row := minRow; row <= maxRow; row++ {
			key := FogKey(col, row)
			cell, ok := s.m.Fog[key]
			if !ok {
				continue
			}
			if !privileged && cell.PaintedBy != userID {
				continue
			}
			delete(s.m.Fog, key)
			changed = true
		}
	}
	if changed {
		s.touch()
	}
	return changed
}

func ordered(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}
