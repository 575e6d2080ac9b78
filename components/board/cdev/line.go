//go:build linux

package cdev

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/logging"
)

type cdevBoard struct {
	conf   *Config
	logger logging.Logger

	mu    sync.Mutex
	lines map[string]*line
}

func newBoard(conf *Config, logger logging.Logger) (board.Board, error) {
	return &cdevBoard{conf: conf, logger: logger, lines: map[string]*line{}}, nil
}

func (b *cdevBoard) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.lines[name]; ok {
		return l, nil
	}
	chip, offset, err := board.ParseLineName(name, b.conf.chip())
	if err != nil {
		return nil, err
	}
	l := &line{chip: chip, offset: offset, conf: b.conf}
	b.lines[name] = l
	return l, nil
}

func (b *cdevBoard) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for name, l := range b.lines {
		if closeErr := l.Close(); closeErr != nil {
			err = multierr.Combine(err, errors.Wrapf(closeErr, "closing line %s", name))
		}
	}
	b.logger.Debugw("released gpiocdev lines", "count", len(b.lines))
	b.lines = map[string]*line{}
	return err
}

type line struct {
	chip   string
	offset int
	conf   *Config

	mu  sync.Mutex
	req *gpiocdev.Line
}

// request must be called with the mutex held.
func (l *line) request() error {
	if l.req != nil {
		return nil
	}
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(l.conf.consumer()),
	}
	if l.conf.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	req, err := gpiocdev.RequestLine(l.chip, l.offset, opts...)
	if err != nil {
		return errors.Wrapf(err, "cannot request line %d of %s", l.offset, l.chip)
	}
	l.req = req
	return nil
}

func (l *line) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.request(); err != nil {
		return err
	}
	value := 0
	if high {
		value = 1
	}
	return l.req.SetValue(value)
}

func (l *line) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.request(); err != nil {
		return false, err
	}
	value, err := l.req.Value()
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

func (l *line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.req == nil {
		return nil
	}
	err := l.req.Close()
	l.req = nil
	return err
}
