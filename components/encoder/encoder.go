// Package encoder implements an emulated incremental rotary encoder. Each Encoder integrates a
// commanded wheel velocity into wheel angle, turns the angle into pulses and classifies the
// position inside the current pulse into a quadrature state driving two digital outputs.
//
// An Encoder is not safe for concurrent use; the emulator owning a pair of them serializes access.
package encoder

import (
	"math"
)

const (
	// PiGreco is the value of pi used by every angle computation.
	PiGreco = math.Pi
	// MaxVelocity is the highest wheel surface speed, in m/s, an encoder accepts (700 km/h).
	MaxVelocity = 700.0 / 3.6
)

const (
	// DefaultWheelDiameter is the diameter, in meters, an encoder starts with.
	DefaultWheelDiameter = 1.0
	// DefaultPPR is the number of pulses per revolution an encoder starts with.
	DefaultPPR = 128
)

// Config is the geometry and fault handling of one encoder.
type Config struct {
	WheelDiameter float64
	PPR           int
	Policy        UncertainPolicy
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	return Config{WheelDiameter: DefaultWheelDiameter, PPR: DefaultPPR, Policy: HoldLast}
}

// Validate ensures the geometry can drive an encoder.
func (conf Config) Validate() error {
	if !validDiameter(conf.WheelDiameter) {
		return newInvalidConfigurationError("wheel diameter", conf.WheelDiameter)
	}
	if conf.PPR <= 0 {
		return newInvalidConfigurationError("ppr", conf.PPR)
	}
	return nil
}

func validDiameter(d float64) bool {
	return d > 0 && !math.IsInf(d, 1)
}

// Encoder is one emulated encoder.
type Encoder struct {
	velocity     float64
	acceleration float64
	diameter     float64
	ppr          int
	policy       UncertainPolicy

	pulseCount int64
	phase      float64
	window     int
	state      State
	direction  Direction
	// outputs are the last known-good levels, what HoldLast keeps while Uncertain
	outputs Levels
	// travel counts edges in either direction until taken
	travel int64
}

// Snapshot is a copy of an encoder's observable state.
type Snapshot struct {
	Velocity      float64
	Acceleration  float64
	WheelDiameter float64
	PPR           int
	PulseCount    int64
	EdgeCount     int64
	EdgeTravel    int64
	Phase         float64
	State         State
	Outputs       Levels
}

// New returns a zeroed encoder with the given geometry.
func New(conf Config) (*Encoder, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{}
	e.Reinitialize(conf)
	return e, nil
}

// Reinitialize returns the encoder to its construction state with the given geometry. An invalid
// geometry keeps the current one.
func (e *Encoder) Reinitialize(conf Config) {
	if conf.Validate() == nil {
		e.diameter = conf.WheelDiameter
		e.ppr = conf.PPR
	}
	e.policy = conf.Policy
	e.velocity = 0
	e.acceleration = 0
	e.Reset()
}

// Reset zeroes the pulse count and the phase accumulator and forgets the direction of travel, which
// puts the state back to Zero. Velocity, acceleration and geometry are untouched.
func (e *Encoder) Reset() {
	e.pulseCount = 0
	e.travel = 0
	e.phase = 0
	e.direction = Forward
	e.outputs = Levels{}
	e.classify()
}

// StopMotion sets velocity and acceleration to zero.
func (e *Encoder) StopMotion() {
	e.velocity = 0
	e.acceleration = 0
}

// SetVelocity sets the wheel surface velocity in m/s. Values beyond MaxVelocity, infinities
// included, are clamped. NaN is rejected. The direction used for tie-breaking only follows the
// velocity once the encoder moves, so setting a velocity never changes the outputs by itself.
func (e *Encoder) SetVelocity(v float64) error {
	if math.IsNaN(v) {
		return newInvalidConfigurationError("velocity", v)
	}
	e.velocity = clampVelocity(v)
	return nil
}

// SetAcceleration sets the acceleration in m/s^2. It applies until reassigned.
func (e *Encoder) SetAcceleration(a float64) error {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return newInvalidConfigurationError("acceleration", a)
	}
	e.acceleration = a
	return nil
}

// SetWheelDiameter sets the wheel diameter in meters.
func (e *Encoder) SetWheelDiameter(d float64) error {
	if !validDiameter(d) {
		return newInvalidConfigurationError("wheel diameter", d)
	}
	e.diameter = d
	return nil
}

// SetPPR sets the pulses per revolution. The position inside the current pulse is kept as a
// fraction of the pulse so the outputs do not jump.
func (e *Encoder) SetPPR(ppr int) error {
	if ppr <= 0 {
		return newInvalidConfigurationError("ppr", ppr)
	}
	if ppr == e.ppr {
		return nil
	}
	fraction := e.phase / PulseInterval(e.ppr)
	e.ppr = ppr
	e.phase = fraction * PulseInterval(ppr)
	e.classify()
	return nil
}

// Update advances the encoder by dt seconds and returns the levels to drive. A dt that is not
// positive changes nothing and returns the previous levels.
func (e *Encoder) Update(dt float64) Levels {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return e.Outputs()
	}
	var ds float64
	e.velocity, ds = integrate(e.velocity, e.acceleration, dt)
	if dir, moving := directionOf(e.velocity); moving {
		e.direction = dir
	}

	edges := e.EdgeCount()
	var crossings int64
	e.phase, crossings = advancePhase(e.phase, angularDisplacement(ds, e.diameter), PulseInterval(e.ppr))
	e.pulseCount += crossings
	e.classify()
	if moved := e.EdgeCount() - edges; moved < 0 {
		e.travel -= moved
	} else {
		e.travel += moved
	}
	return e.Outputs()
}

// classify derives window, state and known-good outputs from the accumulator.
func (e *Encoder) classify() {
	e.window = WindowIndex(e.phase, PulseInterval(e.ppr)/4, e.direction)
	e.state = StateForWindow(e.window)
	if levels, ok := e.state.Levels(); ok {
		e.outputs = levels
	}
}

// Outputs returns the levels for the current state, applying the UncertainPolicy when needed.
func (e *Encoder) Outputs() Levels {
	if levels, ok := e.state.Levels(); ok {
		return levels
	}
	return e.policy.fallback(e.outputs)
}

// PulseCount returns the signed number of whole pulses since the last reset.
func (e *Encoder) PulseCount() int64 {
	return e.pulseCount
}

// EdgeCount returns the signed number of output edges since the last reset, four per pulse. While
// Uncertain it reports the whole pulses only.
func (e *Encoder) EdgeCount() int64 {
	if e.state == Uncertain {
		return 4 * e.pulseCount
	}
	return 4*e.pulseCount + int64(e.window)
}

// EdgeTravel returns the edges passed in either direction since the last TakeEdgeTravel or reset.
// Unlike EdgeCount it never decreases, so moving one edge forward and back counts two.
func (e *Encoder) EdgeTravel() int64 {
	return e.travel
}

// TakeEdgeTravel returns EdgeTravel and starts counting from zero again.
func (e *Encoder) TakeEdgeTravel() int64 {
	travel := e.travel
	e.travel = 0
	return travel
}

// Velocity returns the wheel surface velocity in m/s.
func (e *Encoder) Velocity() float64 {
	return e.velocity
}

// Acceleration returns the commanded acceleration in m/s^2.
func (e *Encoder) Acceleration() float64 {
	return e.acceleration
}

// WheelDiameter returns the wheel diameter in meters.
func (e *Encoder) WheelDiameter() float64 {
	return e.diameter
}

// PPR returns the pulses per revolution.
func (e *Encoder) PPR() int {
	return e.ppr
}

// Phase returns the accumulator, the wheel angle in radians covered inside the current pulse.
func (e *Encoder) Phase() float64 {
	return e.phase
}

// State returns the current quadrature state.
func (e *Encoder) State() State {
	return e.state
}

// Snapshot returns a copy of the observable state.
func (e *Encoder) Snapshot() Snapshot {
	return Snapshot{
		Velocity:      e.velocity,
		Acceleration:  e.acceleration,
		WheelDiameter: e.diameter,
		PPR:           e.ppr,
		PulseCount:    e.pulseCount,
		EdgeCount:     e.EdgeCount(),
		EdgeTravel:    e.travel,
		Phase:         e.phase,
		State:         e.state,
		Outputs:       e.Outputs(),
	}
}
