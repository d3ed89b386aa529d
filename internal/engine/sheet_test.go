package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func addGroupedGoblins(t *testing.T, s *Store) (MonsterGroup, []Token) {
	t.Helper()
	g := s.CreateMonsterGroup("Goblins")
	toks := make([]Token, 0, 3)
	for _, name := range []string{"Goblin", "Goblin 2", "Goblin 3"} {
		tok, ok := s.AddToken(Token{
			Name:           name,
			MonsterGroupID: g.ID,
			Sheet:          &CharacterSheet{HPMax: 7, HPCurrent: 7, ArmorClass: 13},
		})
		require.True(t, ok)
		toks = append(toks, tok)
	}
	return g, toks
}

func TestSheetUpdate_SharedFieldPropagatesToGroup(t *testing.T) {
	s, _ := newTestStore(t)
	_, toks := addGroupedGoblins(t, s)

	require.True(t, s.UpdateCharacterSheet(toks[0].ID, SheetPatch{HPMax: intp(10)}))

	for _, tok := range s.Map().Tokens {
		assert.Equal(t, 10, tok.Sheet.HPMax, "shared field on %s", tok.Name)
	}
}

func TestSheetUpdate_IndividualFieldStaysLocal(t *testing.T) {
	s, clock := newTestStore(t)
	_, toks := addGroupedGoblins(t, s)

	// let the creation-time dirty marks expire so only the patch counts
	clock.advance(StalenessWindow + time.Second)
	require.True(t, s.UpdateCharacterSheet(toks[1].ID, SheetPatch{HPCurrent: intp(2)}))

	m := s.Map()
	assert.Equal(t, 7, m.Tokens[0].Sheet.HPCurrent)
	assert.Equal(t, 2, m.Tokens[1].Sheet.HPCurrent)
	assert.Equal(t, 7, m.Tokens[2].Sheet.HPCurrent)

	assert.True(t, s.Ledger().IsActive(toks[1].ID, clock.now()))
	assert.False(t, s.Ledger().IsActive(toks[0].ID, clock.now()), "individual-only patch must not dirty siblings")
	assert.False(t, s.Ledger().IsActive(toks[2].ID, clock.now()))
}

func TestSheetUpdate_SiblingsIndependentlyDirty(t *testing.T) {
	s, clock := newTestStore(t)
	_, toks := addGroupedGoblins(t, s)

	require.True(t, s.UpdateCharacterSheet(toks[0].ID, SheetPatch{ArmorClass: intp(15)}))

	for _, tok := range toks {
		assert.True(t, s.Ledger().IsActive(tok.ID, clock.now()), "%s should be dirty", tok.Name)
	}
}

func TestSheetUpdate_MixedPatchPartitions(t *testing.T) {
	s, _ := newTestStore(t)
	_, toks := addGroupedGoblins(t, s)

	patch := SheetPatch{
		HPMax:     intp(12),         // shared
		HPCurrent: intp(3),          // individual
		Condition: strp("poisoned"), // individual
	}
	require.True(t, s.UpdateCharacterSheet(toks[0].ID, patch))

	m := s.Map()
	assert.Equal(t, 12, m.Tokens[0].Sheet.HPMax)
	assert.Equal(t, 3, m.Tokens[0].Sheet.HPCurrent)
	assert.Equal(t, "poisoned", m.Tokens[0].Sheet.Condition)

	for _, sib := range m.Tokens[1:] {
		assert.Equal(t, 12, sib.Sheet.HPMax)
		assert.Equal(t, 7, sib.Sheet.HPCurrent)
		assert.Empty(t, sib.Sheet.Condition)
	}
}

func TestSheetUpdate_UngroupedTokenTouchesNoOthers(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.AddToken(Token{Name: "Aria", Sheet: &CharacterSheet{HPMax: 20, HPCurrent: 20}})
	b, _ := s.AddToken(Token{Name: "Borin", Sheet: &CharacterSheet{HPMax: 25, HPCurrent: 25}})

	require.True(t, s.UpdateCharacterSheet(a.ID, SheetPatch{HPMax: intp(30)}))
	assert.Equal(t, 25, s.Map().Tokens[s.Map().tokenIndex(b.ID)].Sheet.HPMax)
}

func TestDuplicateToken_NumericSuffixNaming(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddToken(Token{Name: "Goblin"})
	s.AddToken(Token{Name: "Goblin 2"})

	clone, ok := s.DuplicateToken(s.Map().Tokens[0].ID)
	require.True(t, ok)
	assert.Equal(t, "Goblin 3", clone.Name)
}

func TestDuplicateToken_SuffixedSourceSharesBase(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddToken(Token{Name: "Goblin"})
	tok2, _ := s.AddToken(Token{Name: "Goblin 2"})

	clone, ok := s.DuplicateToken(tok2.ID)
	require.True(t, ok)
	assert.Equal(t, "Goblin 3", clone.Name, "duplicating 'Goblin 2' still derives from 'Goblin'")
}

func TestDuplicateToken_SimilarNamesDoNotCollide(t *testing.T) {
	s, _ := newTestStore(t)
	src, _ := s.AddToken(Token{Name: "Goblin"})
	s.AddToken(Token{Name: "Goblin King"})
	s.AddToken(Token{Name: "Goblin King 4"})

	clone, _ := s.DuplicateToken(src.ID)
	assert.Equal(t, "Goblin 2", clone.Name, "'Goblin King N' must not feed the suffix scan")
}

func TestDuplicateToken_PlacedOneCellRight(t *testing.T) {
	s, _ := newTestStore(t)
	src, _ := s.AddToken(Token{Name: "Goblin", Col: 4, Row: 9})

	clone, _ := s.DuplicateToken(src.ID)
	assert.Equal(t, 5, clone.Col)
	assert.Equal(t, 9, clone.Row)
}

func TestDuplicateToken_InGroupResetsIndividualFields(t *testing.T) {
	s, _ := newTestStore(t)
	g := s.CreateMonsterGroup("Goblins")
	src, _ := s.AddToken(Token{
		Name:           "Goblin",
		MonsterGroupID: g.ID,
		Sheet: &CharacterSheet{
			HPMax:      7,
			HPCurrent:  1,
			ArmorClass: 13,
			Abilities:  Abilities{Str: 8, Dex: 14},
			DeathSaves: DeathSaves{Failures: 2},
			Condition:  "poisoned",
		},
	})

	clone, ok := s.DuplicateToken(src.ID)
	require.True(t, ok)

	assert.Equal(t, g.ID, clone.MonsterGroupID, "clone stays in the group")
	assert.Equal(t, 7, clone.Sheet.HPCurrent, "fresh clone at full health")
	assert.Equal(t, DeathSaves{}, clone.Sheet.DeathSaves)
	assert.Equal(t, ConditionHealthy, clone.Sheet.Condition)
	assert.Equal(t, 13, clone.Sheet.ArmorClass, "shared fields copied")
	assert.Equal(t, Abilities{Str: 8, Dex: 14}, clone.Sheet.Abilities)

	assert.Equal(t, 1, s.Map().Tokens[0].Sheet.HPCurrent, "source wounds untouched")
}

func TestDuplicateToken_UngroupedCopiesSheetVerbatim(t *testing.T) {
	s, _ := newTestStore(t)
	src, _ := s.AddToken(Token{
		Name:  "Ogre",
		Sheet: &CharacterSheet{HPMax: 30, HPCurrent: 12, Condition: "stunned"},
	})

	clone, ok := s.DuplicateToken(src.ID)
	require.True(t, ok)
	assert.Equal(t, 12, clone.Sheet.HPCurrent)
	assert.Equal(t, "stunned", clone.Sheet.Condition)
	assert.Empty(t, clone.MonsterGroupID)
}

func TestDuplicateToken_MarkedDirty(t *testing.T) {
	s, clock := newTestStore(t)
	src, _ := s.AddToken(Token{Name: "Goblin"})

	clone, _ := s.DuplicateToken(src.ID)
	assert.True(t, s.Ledger().IsActive(clone.ID, clock.now()))
}
