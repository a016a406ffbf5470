// Package dice implements deterministic, seeded dice rolls.
//
// # Determinism
//
// Every roll builds a fresh random source from the seed it is given, so
// the same seed and the same dice expression always yield the same
// result. Nothing in this package keeps random state between calls.
//
// # Seeds within a step
//
// Resolution steps that need several independent draws derive them from
// one base seed: the to-hit roll uses seed, damage uses seed+1 and the
// critical extra damage uses seed+2 (see DeriveSeed).
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidDiceSpec is returned for dice expressions outside the NdM[+K] grammar.
var ErrInvalidDiceSpec = errors.New("invalid dice spec")

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

// Seed offsets used by multi-draw resolution steps.
const (
	OffsetPrimary  int64 = 0
	OffsetDamage   int64 = 1
	OffsetCritical int64 = 2
)

var specPattern = regexp.MustCompile(`^(\d+)d(\d+)(?:\+(\d+))?$`)

// Spec is a parsed dice expression: Count dice with Sides faces plus Modifier.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the spec back into NdM[+K] form.
func (s Spec) String() string {
	if s.Modifier == 0 {
		return fmt.Sprintf("%dd%d", s.Count, s.Sides)
	}
	return fmt.Sprintf("%dd%d+%d", s.Count, s.Sides, s.Modifier)
}

// Min returns the smallest total the spec can produce.
func (s Spec) Min() int { return s.Count + s.Modifier }

// Max returns the largest total the spec can produce.
func (s Spec) Max() int { return s.Count*s.Sides + s.Modifier }

// ParseSpec parses an NdM[+K] expression. Surrounding whitespace is ignored
// and the "d" is case-insensitive.
func ParseSpec(raw string) (Spec, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	m := specPattern.FindStringSubmatch(normalized)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidDiceSpec, raw)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 || count > maxDiceCount {
		return Spec{}, fmt.Errorf("%w: dice count out of range in %q", ErrInvalidDiceSpec, raw)
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil || sides < 2 || sides > maxDiceSides {
		return Spec{}, fmt.Errorf("%w: die sides out of range in %q", ErrInvalidDiceSpec, raw)
	}
	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: bad modifier in %q", ErrInvalidDiceSpec, raw)
		}
	}

	return Spec{Count: count, Sides: sides, Modifier: modifier}, nil
}

// Result is the outcome of a single roll request.
//
// Rolls holds the dice counted toward Total, Draws every raw face in draw
// order. They differ only for advantage and disadvantage, where both d20
// draws are kept in Draws and the selected one in Rolls.
// Total always equals Sum() + Modifier.
type Result struct {
	Spec     string `json:"spec"`
	Rolls    []int  `json:"rolls"`
	Draws    []int  `json:"draws,omitempty"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
	Seed     int64  `json:"seed"`
}

// Sum returns the sum of the counted dice without the modifier.
func (r Result) Sum() int {
	sum := 0
	for _, v := range r.Rolls {
		sum += v
	}
	return sum
}

// Natural returns the first counted die. For d20 rolls this is the natural face.
func (r Result) Natural() int {
	if len(r.Rolls) == 0 {
		return 0
	}
	return r.Rolls[0]
}

// Source is the minimal random source the roller draws from.
type Source interface {
	Intn(n int) int
}

// SourceFactory builds a random source for a seed.
type SourceFactory func(seed int64) Source

// MathSource is the default factory backed by math/rand.
func MathSource(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

// Roller rolls dice from seeded sources.
type Roller struct {
	newSource SourceFactory
}

// New returns a Roller backed by math/rand.
func New() *Roller {
	return &Roller{newSource: MathSource}
}

// NewWithSource returns a Roller that draws from sources built by factory.
func NewWithSource(factory SourceFactory) *Roller {
	if factory == nil {
		factory = MathSource
	}
	return &Roller{newSource: factory}
}

// DeriveSeed returns the seed for a sub-draw of a resolution step.
func DeriveSeed(seed, offset int64) int64 {
	return seed + offset
}

// Roll parses spec and rolls it with seed.
func (r *Roller) Roll(seed int64, spec string) (Result, error) {
	parsed, err := ParseSpec(spec)
	if err != nil {
		return Result{}, err
	}
	return r.RollSpec(seed, parsed), nil
}

// RollSpec rolls an already parsed spec.
func (r *Roller) RollSpec(seed int64, spec Spec) Result {
	src := r.newSource(seed)
	rolls := make([]int, spec.Count)
	for i := range rolls {
		rolls[i] = rollDie(src, spec.Sides)
	}
	draws := make([]int, len(rolls))
	copy(draws, rolls)

	res := Result{
		Spec:     spec.String(),
		Rolls:    rolls,
		Draws:    draws,
		Modifier: spec.Modifier,
		Seed:     seed,
	}
	res.Total = res.Sum() + res.Modifier
	return res
}

// D20 rolls a single d20 and adds modifier. The modifier may be negative.
func (r *Roller) D20(seed int64, modifier int) Result {
	src := r.newSource(seed)
	face := rollDie(src, 20)
	return Result{
		Spec:     d20Spec(modifier),
		Rolls:    []int{face},
		Draws:    []int{face},
		Modifier: modifier,
		Total:    face + modifier,
		Seed:     seed,
	}
}

// Advantage rolls two d20 from the same seed and keeps the higher.
func (r *Roller) Advantage(seed int64, modifier int) Result {
	return r.twoDraws(seed, modifier, func(a, b int) int { return max(a, b) })
}

// Disadvantage rolls two d20 from the same seed and keeps the lower.
func (r *Roller) Disadvantage(seed int64, modifier int) Result {
	return r.twoDraws(seed, modifier, func(a, b int) int { return min(a, b) })
}

func (r *Roller) twoDraws(seed int64, modifier int, pick func(a, b int) int) Result {
	src := r.newSource(seed)
	first := rollDie(src, 20)
	second := rollDie(src, 20)
	kept := pick(first, second)
	return Result{
		Spec:     "2" + d20Spec(modifier)[1:],
		Rolls:    []int{kept},
		Draws:    []int{first, second},
		Modifier: modifier,
		Total:    kept + modifier,
		Seed:     seed,
	}
}

func d20Spec(modifier int) string {
	switch {
	case modifier > 0:
		return fmt.Sprintf("1d20+%d", modifier)
	case modifier < 0:
		return fmt.Sprintf("1d20%d", modifier)
	default:
		return "1d20"
	}
}

// rollDie rolls a single die with the provided number of sides.
func rollDie(src Source, sides int) int {
	return src.Intn(sides) + 1
}

var defaultRoller = New()

// Roll rolls spec with the package default roller.
func Roll(seed int64, spec string) (Result, error) { return defaultRoller.Roll(seed, spec) }

// D20 rolls a d20 with the package default roller.
func D20(seed int64, modifier int) Result { return defaultRoller.D20(seed, modifier) }

// Advantage rolls with advantage using the package default roller.
func Advantage(seed int64, modifier int) Result { return defaultRoller.Advantage(seed, modifier) }

// Disadvantage rolls with disadvantage using the package default roller.
func Disadvantage(seed int64, modifier int) Result {
	return defaultRoller.Disadvantage(seed, modifier)
}
