// Package fake implements a fake board whose pins remember every level they were set to.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

// Model is the name the fake board registers under.
const Model = "fake"

// A Config describes the configuration of a fake board.
type Config struct {
	// FailingPins are pins whose Set always fails, to exercise error paths.
	FailingPins []string `json:"failing_pins,omitempty"`
	FailNew     bool     `json:"fail_new"`
}

// Validate rejects empty failing pin names.
func (conf *Config) Validate(path string) error {
	for idx, name := range conf.FailingPins {
		if name == "" {
			return errors.Errorf("%s.failing_pins.%d: expected nonempty pin name", path, idx)
		}
	}
	return nil
}

func init() {
	board.RegisterModel(Model, board.Registration{
		Constructor: func(ctx context.Context, attributes board.AttributeMap, logger logging.Logger) (board.Board, error) {
			conf, err := board.TransformAttributeMap[*Config](attributes)
			if err != nil {
				return nil, err
			}
			return NewBoard(ctx, conf, logger)
		},
		Validate: func(path string, attributes board.AttributeMap) error {
			conf, err := board.TransformAttributeMap[*Config](attributes)
			if err != nil {
				return errors.Wrap(err, path)
			}
			return conf.Validate(path)
		},
	})
}

// NewBoard returns a new fake board.
func NewBoard(ctx context.Context, conf *Config, logger logging.Logger) (*Board, error) {
	if conf == nil {
		conf = &Config{}
	}
	if conf.FailNew {
		return nil, errors.New("whoops")
	}
	if err := conf.Validate("fake"); err != nil {
		return nil, err
	}
	b := &Board{
		GPIOPins: map[string]*GPIOPin{},
		failing:  map[string]struct{}{},
		logger:   logger,
	}
	for _, name := range conf.FailingPins {
		b.failing[name] = struct{}{}
	}
	return b, nil
}

// A Board provides in-memory pins.
type Board struct {
	mu         sync.RWMutex
	GPIOPins   map[string]*GPIOPin
	failing    map[string]struct{}
	logger     logging.Logger
	CloseCount int
}

// GPIOPinByName returns the GPIO pin by the given name, creating it on first use.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.Pin(name), nil
}

// Pin is GPIOPinByName returning the concrete type, for tests.
func (b *Board) Pin(name string) *GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.GPIOPins[name]
	if !ok {
		p = &GPIOPin{name: name}
		if _, fail := b.failing[name]; fail {
			p.failWith = fmt.Errorf("fake pin %s is failing", name)
		}
		b.GPIOPins[name] = p
	}
	return p
}

// Close only counts the call. Fake pins hold no resources.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCount++
	b.logger.Debugw("closing fake board", "pins", len(b.GPIOPins))
	return nil
}

// A GPIOPin reads back the same set values and records every Set.
type GPIOPin struct {
	name     string
	high     bool
	history  []bool
	failWith error

	mu sync.Mutex
}

// Set sets the pin to either low or high.
func (gp *GPIOPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.failWith != nil {
		return gp.failWith
	}
	gp.high = high
	gp.history = append(gp.history, high)
	return nil
}

// Get gets the high/low state of the pin.
func (gp *GPIOPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.high, nil
}

// History returns every level the pin was set to, oldest first.
func (gp *GPIOPin) History() []bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	out := make([]bool, len(gp.history))
	copy(out, gp.history)
	return out
}

// SetCount returns how many times Set succeeded.
func (gp *GPIOPin) SetCount() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return len(gp.history)
}

// Fail makes every following Set return err. A nil err heals the pin.
func (gp *GPIOPin) Fail(err error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.failWith = err
}
