// Package rpio drives Raspberry Pi GPIO pins through the memory mapped registers with
// stianeikeland's go-rpio. Pin names are BCM numbers.
package rpio

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

// Model is the name the board registers under.
const Model = "rpio"

// The highest BCM number on the 40 pin header.
const maxBCM = 27

// A Config describes the configuration of a rpio board. There is nothing to configure yet, the
// pins come from their names.
type Config struct{}

func init() {
	board.RegisterModel(Model, board.Registration{
		Constructor: func(ctx context.Context, attributes board.AttributeMap, logger logging.Logger) (board.Board, error) {
			if _, err := board.TransformAttributeMap[*Config](attributes); err != nil {
				return nil, err
			}
			return NewBoard(logger)
		},
		Validate: func(path string, attributes board.AttributeMap) error {
			_, err := board.TransformAttributeMap[*Config](attributes)
			return errors.Wrap(err, path)
		},
	})
}

// openMu serializes rpio.Open and rpio.Close, which work on package level state.
var openMu sync.Mutex

// Board is a Raspberry Pi driven through /dev/gpiomem.
type Board struct {
	logger logging.Logger

	mu     sync.Mutex
	pins   map[string]*gpioPin
	closed bool
}

// NewBoard maps the GPIO registers.
func NewBoard(logger logging.Logger) (*Board, error) {
	openMu.Lock()
	defer openMu.Unlock()
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "cannot map gpio registers")
	}
	return &Board{logger: logger, pins: map[string]*gpioPin{}}, nil
}

// GPIOPinByName returns the pin with the given BCM number, switched to output mode.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("board is closed")
	}
	if pin, ok := b.pins[name]; ok {
		return pin, nil
	}
	bcm, err := parseBCM(name)
	if err != nil {
		return nil, err
	}
	pin := &gpioPin{pin: rpio.Pin(bcm)}
	pin.pin.Output()
	pin.pin.Low()
	b.pins[name] = pin
	return pin, nil
}

// Close drives every used pin low and unmaps the registers.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for _, pin := range b.pins {
		pin.pin.Low()
	}
	b.closed = true
	b.logger.Debugw("unmapping gpio registers", "pins", len(b.pins))

	openMu.Lock()
	defer openMu.Unlock()
	return rpio.Close()
}

func parseBCM(name string) (int, error) {
	bcm, err := strconv.Atoi(name)
	if err != nil || bcm < 0 || bcm > maxBCM {
		return 0, errors.Errorf("pin %q is not a BCM number between 0 and %d", name, maxBCM)
	}
	return bcm, nil
}

type gpioPin struct {
	mu  sync.Mutex
	pin rpio.Pin
}

func (p *gpioPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if high {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}

func (p *gpioPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pin.Read() == rpio.High, nil
}
