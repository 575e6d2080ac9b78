// Package sink drives the emulated encoder outputs onto GPIO pins of a board.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
)

// Pins names the two output pins of one encoder.
type Pins struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Validate ensures both pins are named.
func (p Pins) Validate(path string) error {
	if p.A == "" {
		return errors.Errorf("%s.a: expected nonempty pin name", path)
	}
	if p.B == "" {
		return errors.Errorf("%s.b: expected nonempty pin name", path)
	}
	return nil
}

type outputPin struct {
	name  string
	pin   board.GPIOPin
	level bool
	known bool
}

// set writes the level only when it differs from the last level written.
func (o *outputPin) set(ctx context.Context, high bool) error {
	if o.known && o.level == high {
		return nil
	}
	if err := o.pin.Set(ctx, high, nil); err != nil {
		o.known = false
		return errors.Wrapf(err, "pin %s", o.name)
	}
	o.level = high
	o.known = true
	return nil
}

// PinSink is an emulator.Sink writing to board pins.
type PinSink struct {
	logger logging.Logger

	mu   sync.Mutex
	pins map[emulator.Channel][2]*outputPin
}

var _ emulator.Sink = (*PinSink)(nil)

// New looks up the pins of both channels on the board.
func New(b board.Board, pins map[emulator.Channel]Pins, logger logging.Logger) (*PinSink, error) {
	s := &PinSink{logger: logger, pins: map[emulator.Channel][2]*outputPin{}}
	seen := map[string]emulator.Channel{}
	for _, ch := range emulator.Channels {
		p, ok := pins[ch]
		if !ok {
			return nil, errors.Errorf("no pins configured for %s", ch)
		}
		if err := p.Validate(ch.String()); err != nil {
			return nil, err
		}
		var outs [2]*outputPin
		for i, name := range []string{p.A, p.B} {
			if other, dup := seen[name]; dup {
				return nil, errors.Errorf("pin %s is used by both %s and %s", name, other, ch)
			}
			seen[name] = ch
			gpio, err := b.GPIOPinByName(name)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot find pin %s for %s", name, ch)
			}
			outs[i] = &outputPin{name: name, pin: gpio}
		}
		s.pins[ch] = outs
	}
	return s, nil
}

// SetSignalLevels drives the A and B pins of a channel.
func (s *PinSink) SetSignalLevels(ctx context.Context, ch emulator.Channel, a, b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outs, ok := s.pins[ch]
	if !ok {
		return errors.Wrap(emulator.ErrUnknownChannel, fmt.Sprint(int(ch)))
	}
	return multierr.Combine(outs[0].set(ctx, a), outs[1].set(ctx, b))
}

// ResetToIdle drives all pins low, regardless of what was written before.
func (s *PinSink) ResetToIdle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for _, ch := range emulator.Channels {
		for _, out := range s.pins[ch] {
			out.known = false
			errs = multierr.Combine(errs, out.set(ctx, false))
		}
	}
	s.logger.Debug("outputs reset to idle")
	return errs
}
