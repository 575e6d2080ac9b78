//go:build linux

package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

type linuxBoard struct {
	conf   *Config
	logger logging.Logger

	mu   sync.Mutex
	pins map[string]*gpioPin
}

func newBoard(conf *Config, logger logging.Logger) (board.Board, error) {
	return &linuxBoard{conf: conf, logger: logger, pins: map[string]*gpioPin{}}, nil
}

func (b *linuxBoard) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pin, ok := b.pins[name]; ok {
		return pin, nil
	}
	chip, offset, err := board.ParseLineName(name, b.conf.chip())
	if err != nil {
		return nil, err
	}
	pin := &gpioPin{
		devicePath: board.ChipDevicePath(chip),
		offset:     uint32(offset),
		consumer:   b.conf.consumer(),
	}
	b.pins[name] = pin
	return pin, nil
}

func (b *linuxBoard) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for name, pin := range b.pins {
		if closeErr := pin.Close(); closeErr != nil {
			err = multierr.Combine(err, errors.Wrapf(closeErr, "closing pin %s", name))
		}
	}
	b.logger.Debugw("closed gpio lines", "count", len(b.pins))
	b.pins = map[string]*gpioPin{}
	return err
}

type gpioPin struct {
	devicePath string
	offset     uint32
	consumer   string

	mu   sync.Mutex
	line *gpio.Line
}

// requestLine requests the line as an output on first use. pin.mu must be held.
func (pin *gpioPin) requestLine() error {
	if pin.line != nil {
		return nil
	}

	chip, err := gpio.OpenChip(pin.devicePath)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	// Encoder outputs idle low until the first Set.
	line, err := chip.OpenLine(pin.offset, 0, gpio.Output, pin.consumer)
	if err != nil {
		return errors.Wrapf(err, "cannot request line %d of %s", pin.offset, pin.devicePath)
	}
	pin.line = line
	return nil
}

func (pin *gpioPin) Set(ctx context.Context, isHigh bool, extra map[string]interface{}) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.requestLine(); err != nil {
		return err
	}

	var value byte
	if isHigh {
		value = 1
	}
	return pin.line.SetValue(value)
}

func (pin *gpioPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.requestLine(); err != nil {
		return false, err
	}

	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}

	return value != 0, nil
}

func (pin *gpioPin) Close() error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if pin.line == nil {
		return nil
	}

	err := pin.line.Close()
	pin.line = nil
	return err
}
