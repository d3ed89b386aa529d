package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

// SheetPatch is a partial character-sheet update. HPCurrent, DeathSaves
// and Condition are individual fields; the rest are shared and propagate
// to every sibling in the token's monster group.
type SheetPatch struct {
	HPCurrent  *int        `json:"hpCurrent,omitempty"`
	HPMax      *int        `json:"hpMax,omitempty"`
	ArmorClass *int        `json:"armorClass,omitempty"`
	Speed      *int        `json:"speed,omitempty"`
	Abilities  *Abilities  `json:"abilities,omitempty"`
	DeathSaves *DeathSaves `json:"deathSaves,omitempty"`
	Condition  *string     `json:"condition,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
}

func (p SheetPatch) applyIndividual(sheet *CharacterSheet) {
	if p.HPCurrent != nil {
		sheet.HPCurrent = *p.HPCurrent
	}
	if p.DeathSaves != nil {
		sheet.DeathSaves = *p.DeathSaves
	}
	if p.Condition != nil {
		sheet.Condition = *p.Condition
	}
}

func (p SheetPatch) applyShared(sheet *CharacterSheet) {
	if p.HPMax != nil {
		sheet.HPMax = *p.HPMax
	}
	if p.ArmorClass != nil {
		sheet.ArmorClass = *p.ArmorClass
	}
	if p.Speed != nil {
		sheet.Speed = *p.Speed
	}
	if p.Abilities != nil {
		sheet.Abilities = *p.Abilities
	}
	if p.Notes != nil {
		sheet.Notes = *p.Notes
	}
}

func (p SheetPatch) hasShared() bool {
	return p.HPMax != nil || p.ArmorClass != nil || p.Speed != nil ||
		p.Abilities != nil || p.Notes != nil
}

// UpdateCharacterSheet patches a token's sheet. Shared fields also apply
// to every sibling in the same monster group, so a DM can tune one
// goblin's stat block and have the clones inherit it without losing each
// clone's wound state. Every touched sibling is independently dirty.
func (s *Store) UpdateCharacterSheet(tokenID string, patch SheetPatch) bool {
	return s.applySheet(tokenID, patch, true)
}

// ApplyRemoteSheet is UpdateCharacterSheet for inbound messages: the
// same partition and group propagation, but nothing is marked dirty.
func (s *Store) ApplyRemoteSheet(tokenID string, patch SheetPatch) bool {
	return s.applySheet(tokenID, patch, false)
}

func (s *Store) applySheet(tokenID string, patch SheetPatch, dirty bool) bool {
	i := s.m.tokenIndex(tokenID)
	if i < 0 {
		return false
	}

	tok := &s.m.Tokens[i]
	if tok.Sheet == nil {
		tok.Sheet = &CharacterSheet{}
	}
	patch.applyIndividual(tok.Sheet)
	patch.applyShared(tok.Sheet)
	if dirty {
		s.markDirty(tok.ID)
	}

	if tok.MonsterGroupID != "" && patch.hasShared() {
		for j := range s.m.Tokens {
			sib := &s.m.Tokens[j]
			if j == i || sib.MonsterGroupID != tok.MonsterGroupID {
				continue
			}
			if sib.Sheet == nil {
				sib.Sheet = &CharacterSheet{}
			}
			patch.applyShared(sib.Sheet)
			if dirty {
				s.markDirty(sib.ID)
			}
		}
	}

	s.touch()
	return true
}

var nameSuffixRe = regexp.MustCompile(`^(.*?)(?: (\d+))?$`)

// DuplicateToken clones a token one cell to the right of the source,
// naming it with the next free numeric suffix on the base name
// ("Goblin", "Goblin 2" -> "Goblin 3"). A clone inside a monster group
// starts at full health with a clean condition and death saves; an
// ungrouped clone copies the sheet verbatim. The clone is dirty
// immediately.
func (s *Store) DuplicateToken(id string) (Token, bool) {
	i := s.m.tokenIndex(id)
	if i < 0 {
		return Token{}, false
	}
	src := s.m.Tokens[i]

	base := src.Name
	if m := nameSuffixRe.FindStringSubmatch(src.Name); m != nil && m[2] != "" {
		base = m[1]
	}

	clone := src.clone()
	clone.ID = s.newID()
	clone.Name = fmt.Sprintf("%s %d", base, s.nextNameSuffix(base))
	clone.Col = src.Col + 1

	if src.MonsterGroupID != "" && clone.Sheet != nil {
		clone.Sheet.HPCurrent = clone.Sheet.HPMax
		clone.Sheet.DeathSaves = DeathSaves{}
		clone.Sheet.Condition = ConditionHealthy
	}

	s.m.Tokens = append(s.m.Tokens, clone)
	s.markDirty(clone.ID)
	s.touch()
	return clone, true
}

// nextNameSuffix scans existing token names matching base or "base N"
// and returns max(N)+1, treating a bare base name as 1.
func (s *Store) nextNameSuffix(base string) int {
	max := 0
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `(?: (\d+))?$`)
	for i := range s.m.Tokens {
		m := pattern.FindStringSubmatch(s.m.Tokens[i].Name)
		if m == nil {
			continue
		}
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}
