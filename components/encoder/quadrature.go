package encoder

import (
	"math"

	"github.com/pkg/errors"
)

// State is a phase of the quadrature cycle. Forward rotation visits Zero, One, Two, Three and
// wraps back to Zero; reverse rotation visits them in the opposite order.
type State int

// Quadrature states. Uncertain is entered when the phase cannot be classified.
const (
	Zero State = iota
	One
	Two
	Three
	Uncertain
)

func (s State) String() string {
	switch s {
	case Zero:
		return "zero"
	case One:
		return "one"
	case Two:
		return "two"
	case Three:
		return "three"
	case Uncertain:
		return "uncertain"
	}
	return "unknown"
}

// Levels is the pair of digital outputs of one encoder.
type Levels struct {
	A bool
	B bool
}

// Levels returns the output pair for a valid state. The boolean is false for Uncertain, whose
// outputs depend on the UncertainPolicy of the owning encoder.
func (s State) Levels() (Levels, bool) {
	switch s {
	case Zero:
		return Levels{A: false, B: false}, true
	case One:
		return Levels{A: false, B: true}, true
	case Two:
		return Levels{A: true, B: true}, true
	case Three:
		return Levels{A: true, B: false}, true
	case Uncertain:
		return Levels{}, false
	}
	return Levels{}, false
}

// Direction is the sign of the last nonzero velocity.
type Direction int

// Directions of rotation.
const (
	Forward Direction = 1
	Reverse Direction = -1
)

func directionOf(v float64) (Direction, bool) {
	switch {
	case v > 0:
		return Forward, true
	case v < 0:
		return Reverse, true
	}
	return Forward, false
}

// WindowIndex returns the quarter window the phase falls in. A phase lying exactly on a quarter
// boundary belongs to the window above the boundary when dir is Forward and to the window below
// when dir is Reverse, so a reverse move that stops on a pulse boundary yields -1, the last
// quarter of the previous pulse. Non-finite inputs produce an index outside -1..3.
func WindowIndex(phase, quarter float64, dir Direction) int {
	if math.IsNaN(phase) || math.IsInf(phase, 0) || !(quarter > 0) {
		return math.MinInt32
	}
	x := phase / quarter
	if math.Abs(x) > 8 {
		return math.MinInt32
	}
	if dir == Reverse {
		return int(math.Ceil(x)) - 1
	}
	return int(math.Floor(x))
}

// StateForWindow maps a window index to its state. Windows -1..3 are valid, -1 standing for the
// last quarter of the previous pulse. Everything else is Uncertain.
func StateForWindow(window int) State {
	if window < -1 || window > 3 {
		return Uncertain
	}
	return State((window + 4) % 4)
}

// Transition decodes a change of output levels into a count step the way a quadrature receiver
// does: +1 for a forward step, -1 for a reverse step, 0 for no change. ok is false when both
// channels changed at once, which no valid sequence produces.
//
//	+---------------+----+----+----+----+
//	| prev/next B,A | 00 | 01 | 10 | 11 |
//	+---------------+----+----+----+----+
//	|       00      | 0  | -1 | +1 | x  |
//	|       01      | +1 | 0  | x  | -1 |
//	|       10      | -1 | x  | 0  | +1 |
//	|       11      | x  | +1 | -1 | 0  |
//	+---------------+----+----+----+----+
func Transition(prev, next Levels) (int, bool) {
	p, n := levelBits(prev), levelBits(next)
	if p == n {
		return 0, true
	}
	switch (p << 2) | n {
	case 0b0010, 0b0100, 0b1011, 0b1101:
		return 1, true
	case 0b0001, 0b0111, 0b1000, 0b1110:
		return -1, true
	}
	return 0, false
}

func levelBits(l Levels) int {
	bits := 0
	if l.A {
		bits |= 1
	}
	if l.B {
		bits |= 1 << 1
	}
	return bits
}

// UncertainPolicy decides what the outputs do while the state is Uncertain.
type UncertainPolicy int

const (
	// HoldLast keeps both outputs at their last known-good levels.
	HoldLast UncertainPolicy = iota
	// ForceLow drives both outputs low.
	ForceLow
)

func (p UncertainPolicy) String() string {
	switch p {
	case HoldLast:
		return "hold_last"
	case ForceLow:
		return "force_low"
	}
	return "unknown"
}

// UncertainPolicyFromString parses "hold_last" or "force_low". The empty string is HoldLast.
func UncertainPolicyFromString(s string) (UncertainPolicy, error) {
	switch s {
	case "", "hold_last":
		return HoldLast, nil
	case "force_low":
		return ForceLow, nil
	}
	return HoldLast, errors.Errorf("unknown uncertain policy %q, expected hold_last or force_low", s)
}

func (p UncertainPolicy) fallback(last Levels) Levels {
	if p == ForceLow {
		return Levels{}
	}
	return last
}
