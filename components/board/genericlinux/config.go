// Package genericlinux drives GPIO lines of any Linux board through the GPIO character device,
// by way of mkch's gpio package.
package genericlinux

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

// Model is the name the board registers under.
const Model = "genericlinux"

const defaultConsumer = "gitsim"

// A Config describes the configuration of a generic linux board.
type Config struct {
	// GPIOChip is the chip used for pins given as a bare line offset.
	GPIOChip string `json:"gpio_chip,omitempty"`
	// Consumer is the label the kernel shows for requested lines.
	Consumer string `json:"consumer,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.GPIOChip != "" {
		if _, _, err := board.ParseLineName(conf.GPIOChip+":0", ""); err != nil {
			return errors.Wrapf(err, "%s.gpio_chip", path)
		}
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
		return defaultConsumer
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
