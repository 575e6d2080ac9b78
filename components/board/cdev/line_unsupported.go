//go:build !linux

package cdev

import (
	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

func newBoard(conf *Config, logger logging.Logger) (board.Board, error) {
	return nil, errors.New("the gpiocdev board needs the linux gpio character device")
}
