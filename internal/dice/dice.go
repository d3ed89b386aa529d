// Package dice parses a constrained dice notation and executes rolls.
//
// Notation is an optional count, a literal 'd', a side count, an optional
// signed modifier, and an optional keep suffix for advantage/disadvantage:
//
//	d20  2d6+3  1d8-1  d20kh  d20kl
//
// Anything that does not match yields no-match rather than an error, so a
// caller can fall back to treating the input as plain chat.
package dice

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

const (
	MinCount = 1
	MaxCount = 99
	MinSides = 2
	MaxSides = 100
)

// Keep selects advantage/disadvantage handling for a roll.
type Keep int

const (
	KeepNone Keep = iota
	KeepHighest
	KeepLowest
)

// Spec is a parsed roll: Count dice of Sides sides plus Modifier.
// When Keep is not KeepNone, exactly two dice are rolled and one is kept.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
	Keep     Keep
}

// Result carries every rolled face so callers can display them. For keep
// rolls, Rolls holds both faces and Dropped the discarded one.
type Result struct {
	Spec    Spec
	Rolls   []int
	Dropped int
	Total   int
}

var notationRe = regexp.MustCompile(`^(\d{1,2})?d(\d{1,3})([+-]\d{1,3})?(kh|kl)?$`)

// Parse interprets a notation string. The second return is false when the
// input is not valid dice notation or is out of bounds.
func Parse(input string) (Spec, bool) {
	m := notationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(input)))
	if m == nil {
		return Spec{}, false
	}

	spec := Spec{Count: 1}
	if m[1] != "" {
		spec.Count, _ = strconv.Atoi(m[1])
	}
	spec.Sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		spec.Modifier, _ = strconv.Atoi(m[3])
	}
	switch m[4] {
	case "kh":
		spec.Keep = KeepHighest
	case "kl":
		spec.Keep = KeepLowest
	}

	if spec.Count < MinCount || spec.Count > MaxCount {
		return Spec{}, false
	}
	if spec.Sides < MinSides || spec.Sides > MaxSides {
		return Spec{}, false
	}
	return spec, true
}

// Roll executes a spec with the provided random source.
func Roll(rng *rand.Rand, spec Spec) Result {
	if spec.Keep != KeepNone {
		return rollKeep(rng, spec)
	}

	rolls := make([]int, spec.Count)
	total := spec.Modifier
	for i := range rolls {
		rolls[i] = rollDie(rng, spec.Sides)
		total += rolls[i]
	}
	return Result{Spec: spec, Rolls: rolls, Total: total}
}

// rollKeep rolls exactly two dice and keeps the higher (kh) or lower (kl).
func rollKeep(rng *rand.Rand, spec Spec) Result {
	a := rollDie(rng, spec.Sides)
	b := rollDie(rng, spec.Sides)

	kept, dropped := a, b
	if (spec.Keep == KeepHighest && b > a) || (spec.Keep == KeepLowest && b < a) {
		kept, dropped = b, a
	}
	return Result{
		Spec:    spec,
		Rolls:   []int{a, b},
		Dropped: dropped,
		Total:   kept + spec.Modifier,
	}
}

func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
