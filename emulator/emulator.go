// Package emulator drives a pair of emulated encoders from a shared clock and pushes their
// outputs to a Sink.
package emulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/gitsim/gitsim/components/encoder"
	"github.com/gitsim/gitsim/logging"
)

// Channel identifies one of the two encoders.
type Channel int

// The two encoder channels.
const (
	Channel1 Channel = iota + 1
	Channel2
)

// Channels lists every channel in order.
var Channels = []Channel{Channel1, Channel2}

func (ch Channel) String() string {
	return fmt.Sprintf("encoder%d", int(ch))
}

// Valid reports whether ch names one of the two encoders.
func (ch Channel) Valid() bool {
	return ch == Channel1 || ch == Channel2
}

func (ch Channel) index() int {
	return int(ch) - 1
}

// ErrUnknownChannel is returned by setters given a channel other than Channel1 and Channel2.
var ErrUnknownChannel = errors.New("unknown encoder channel")

// A Sink receives the levels of both outputs of an encoder after every tick.
type Sink interface {
	SetSignalLevels(ctx context.Context, ch Channel, a, b bool) error
	// ResetToIdle drives every output low.
	ResetToIdle(ctx context.Context) error
}

// Config holds the construction defaults of the two encoders. Initialize returns to them.
type Config struct {
	Channel1 encoder.Config
	Channel2 encoder.Config
	// Policy applies to both encoders and cannot change afterwards.
	Policy encoder.UncertainPolicy
}

// DefaultConfig returns two encoders with the default geometry.
func DefaultConfig() Config {
	return Config{Channel1: encoder.DefaultConfig(), Channel2: encoder.DefaultConfig()}
}

// How often a failing sink gets a warning in the log.
const sinkErrorLogInterval = time.Second

// Emulator owns both encoders and the timestamp of their last update. It is safe for concurrent
// use: one mutex covers every tick, setter and getter.
type Emulator struct {
	sink   Sink
	clock  clock.Clock
	logger logging.Logger

	mu        sync.Mutex
	defaults  [2]encoder.Config
	encoders  [2]*encoder.Encoder
	uncertain [2]bool
	tUpdate   time.Time

	sinkErrLimiter *rate.Limiter
}

// New returns an emulator with both encoders at their defaults, stamped with the current time.
// A nil clock means the wall clock.
func New(conf Config, sink Sink, clk clock.Clock, logger logging.Logger) (*Emulator, error) {
	if sink == nil {
		return nil, errors.New("emulator needs a sink")
	}
	if clk == nil {
		clk = clock.New()
	}
	e := &Emulator{
		sink:           sink,
		clock:          clk,
		logger:         logger,
		sinkErrLimiter: rate.NewLimiter(rate.Every(sinkErrorLogInterval), 1),
	}
	for i, c := range []encoder.Config{conf.Channel1, conf.Channel2} {
		c.Policy = conf.Policy
		enc, err := encoder.New(c)
		if err != nil {
			return nil, errors.Wrapf(err, "channel %d", i+1)
		}
		e.defaults[i] = c
		e.encoders[i] = enc
	}
	e.tUpdate = clk.Now()
	return e, nil
}

// Tick advances both encoders by the time elapsed since the previous tick and pushes their outputs
// to the sink. When no time elapsed, or the clock went backwards, the encoders are left alone and
// the previous outputs are pushed again. Sink errors are returned after both channels were
// attempted; the encoders have advanced regardless.
func (e *Emulator) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	dt := now.Sub(e.tUpdate).Seconds()

	var outputs [2]encoder.Levels
	for i, enc := range e.encoders {
		outputs[i] = enc.Update(dt)
		e.trackUncertain(i, enc)
	}
	if dt > 0 {
		e.tUpdate = now
	}
	return e.emit(ctx, outputs)
}

// trackUncertain logs once when an encoder enters the uncertain state and once when it leaves.
func (e *Emulator) trackUncertain(i int, enc *encoder.Encoder) {
	uncertain := enc.State() == encoder.Uncertain
	if uncertain == e.uncertain[i] {
		return
	}
	e.uncertain[i] = uncertain
	ch := Channels[i]
	if uncertain {
		e.logger.Warnw("encoder phase cannot be classified, holding fallback outputs",
			"channel", ch.String(), "phase", enc.Phase(), "policy", e.defaults[i].Policy.String())
		return
	}
	e.logger.Infow("encoder left the uncertain state", "channel", ch.String(), "state", enc.State().String())
}

func (e *Emulator) emit(ctx context.Context, outputs [2]encoder.Levels) error {
	var errs error
	for i, levels := range outputs {
		if err := e.sink.SetSignalLevels(ctx, Channels[i], levels.A, levels.B); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "setting %s outputs", Channels[i]))
		}
	}
	if errs != nil && e.sinkErrLimiter.AllowN(e.clock.Now(), 1) {
		e.logger.Warnw("failed to drive encoder outputs", "error", errs)
	}
	return errs
}

// Resync moves the update timestamp to now without advancing the encoders, so the next Tick only
// covers time from here on. The timestamp never moves backwards.
func (e *Emulator) Resync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now := e.clock.Now(); now.After(e.tUpdate) {
		e.tUpdate = now
	}
}

// Initialize returns both encoders to their construction defaults and restamps the update time.
func (e *Emulator) Initialize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, enc := range e.encoders {
		enc.Reinitialize(e.defaults[i])
		e.uncertain[i] = false
	}
	e.tUpdate = e.clock.Now()
	e.logger.Debug("encoders initialized")
}

// SetDefaults replaces the geometry Initialize returns to. The running encoders are left alone and
// the uncertain policy stays the one given to New. Nothing changes when either channel is invalid.
func (e *Emulator) SetDefaults(conf Config) error {
	channels := [2]encoder.Config{conf.Channel1, conf.Channel2}
	for i := range channels {
		if err := channels[i].Validate(); err != nil {
			return errors.Wrap(err, Channels[i].String())
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range channels {
		c.Policy = e.defaults[i].Policy
		e.defaults[i] = c
	}
	return nil
}

// Defaults returns the geometry Initialize returns to.
func (e *Emulator) Defaults() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Config{Channel1: e.defaults[0], Channel2: e.defaults[1], Policy: e.defaults[0].Policy}
}

// ResetCounts zeroes pulse counts, accumulators and states of both encoders. Motion and geometry
// are kept.
func (e *Emulator) ResetCounts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, enc := range e.encoders {
		enc.Reset()
		e.uncertain[i] = false
	}
}

// ResetOutputs forces the sink idle.
func (e *Emulator) ResetOutputs(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink.ResetToIdle(ctx)
}

// StopMotion sets velocity and acceleration of both encoders to zero.
func (e *Emulator) StopMotion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, enc := range e.encoders {
		enc.StopMotion()
	}
}

func (e *Emulator) set(ch Channel, f func(enc *encoder.Encoder) error) error {
	if !ch.Valid() {
		return errors.Wrapf(ErrUnknownChannel, "channel %d", int(ch))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := f(e.encoders[ch.index()]); err != nil {
		return errors.Wrap(err, ch.String())
	}
	return nil
}

// SetVelocity sets the wheel surface velocity of one encoder, in m/s.
func (e *Emulator) SetVelocity(ch Channel, v float64) error {
	return e.set(ch, func(enc *encoder.Encoder) error { return enc.SetVelocity(v) })
}

// SetAcceleration sets the acceleration of one encoder, in m/s^2.
func (e *Emulator) SetAcceleration(ch Channel, a float64) error {
	return e.set(ch, func(enc *encoder.Encoder) error { return enc.SetAcceleration(a) })
}

// SetWheelDiameter sets the wheel diameter of one encoder, in meters.
func (e *Emulator) SetWheelDiameter(ch Channel, d float64) error {
	return e.set(ch, func(enc *encoder.Encoder) error { return enc.SetWheelDiameter(d) })
}

// SetPPR sets the pulses per revolution of one encoder.
func (e *Emulator) SetPPR(ch Channel, ppr int) error {
	return e.set(ch, func(enc *encoder.Encoder) error { return enc.SetPPR(ppr) })
}

// SetWheelDiameterAll sets the same wheel diameter on both encoders. Nothing changes when the
// diameter is rejected.
func (e *Emulator) SetWheelDiameterAll(d float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	check := encoder.Config{WheelDiameter: d, PPR: 1}
	if err := check.Validate(); err != nil {
		return err
	}
	var errs error
	for _, enc := range e.encoders {
		errs = multierr.Combine(errs, enc.SetWheelDiameter(d))
	}
	return errs
}

func (e *Emulator) get(ch Channel) *encoder.Encoder {
	if !ch.Valid() {
		return nil
	}
	return e.encoders[ch.index()]
}

// PulseCount returns the pulse count of one encoder. Unknown channels read as zero.
func (e *Emulator) PulseCount(ch Channel) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc := e.get(ch); enc != nil {
		return enc.PulseCount()
	}
	return 0
}

// EdgeCount returns the edge count, four per pulse, of one encoder. Unknown channels read as zero.
func (e *Emulator) EdgeCount(ch Channel) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc := e.get(ch); enc != nil {
		return enc.EdgeCount()
	}
	return 0
}

// TakeEdgeTravel returns the edges one encoder passed in either direction since the previous call,
// or since its last reset, and starts counting again. Unknown channels read as zero.
func (e *Emulator) TakeEdgeTravel(ch Channel) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc := e.get(ch); enc != nil {
		return enc.TakeEdgeTravel()
	}
	return 0
}

// Velocity returns the velocity of one encoder. Unknown channels read as zero.
func (e *Emulator) Velocity(ch Channel) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc := e.get(ch); enc != nil {
		return enc.Velocity()
	}
	return 0
}

// State returns the quadrature state of one encoder. Unknown channels read as Uncertain.
func (e *Emulator) State(ch Channel) encoder.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc := e.get(ch); enc != nil {
		return enc.State()
	}
	return encoder.Uncertain
}

// Snapshot returns a copy of one encoder's observable state.
func (e *Emulator) Snapshot(ch Channel) (encoder.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	enc := e.get(ch)
	if enc == nil {
		return encoder.Snapshot{}, errors.Wrapf(ErrUnknownChannel, "channel %d", int(ch))
	}
	return enc.Snapshot(), nil
}

// Snapshots returns copies of both encoders taken under one lock, indexed by channel minus one.
func (e *Emulator) Snapshots() [2]encoder.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return [2]encoder.Snapshot{e.encoders[0].Snapshot(), e.encoders[1].Snapshot()}
}

// LastUpdate returns the time of the last tick that advanced the encoders, or of the last
// Initialize or Resync.
func (e *Emulator) LastUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tUpdate
}
