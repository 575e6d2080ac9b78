// Package cdev drives GPIO lines through the v2 GPIO character device uAPI using warthog618's
// go-gpiocdev.
package cdev

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

// Model is the name the board registers under.
const Model = "gpiocdev"

// A Config describes the configuration of a gpiocdev board.
type Config struct {
	GPIOChip string `json:"gpio_chip,omitempty"`
	Consumer string `json:"consumer,omitempty"`
	// ActiveLow inverts every line, for boards with inverting output drivers.
	ActiveLow bool `json:"active_low,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.GPIOChip == "/dev/" {
		return errors.Errorf("%s.gpio_chip: expected a chip name or path", path)
	}
	return nil
}

func (conf *Config) chip() string {
	if conf.GPIOChip == "" {
		return board.DefaultGPIOChip
	}
	return conf.GPIOChip
}

func (conf *Config) consumer() string {
	if conf.Consumer == "" {
		return "gitsim"
	}
	return conf.Consumer
}

func init() {
	board.RegisterModel(Model, board.Registration{
		Constructor: func(ctx context.Context, attributes board.AttributeMap, logger logging.Logger) (board.Board, error) {
			conf, err := board.TransformAttributeMap[*Config](attributes)
			if err != nil {
				return nil, err
			}
			if err := conf.Validate(Model); err != nil {
				return nil, err
			}
			return newBoard(conf, logger)
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
