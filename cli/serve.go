package cli

import (
	"context"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/gitsim/gitsim/components/board"
	// register every board model.
	_ "github.com/gitsim/gitsim/components/board/register"
	"github.com/gitsim/gitsim/config"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/link"
	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/serial"
	"github.com/gitsim/gitsim/side"
	"github.com/gitsim/gitsim/sink"
	"github.com/gitsim/gitsim/utils"
)

// ServeAction runs the emulator described by the config file until interrupted.
func ServeAction(c *cli.Context) error {
	conf, err := config.Read(c.String(configFlag))
	if err != nil {
		return err
	}

	logger := logging.NewLogger("gitsim")
	defer goutils.UncheckedErrorFunc(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var updates <-chan *config.Config
	watcher, err := config.NewWatcher(conf.ConfigFilePath, logger.Sublogger("config"))
	if err != nil {
		logger.Warnw("config changes will not be applied until restart", "error", err)
	} else {
		defer goutils.UncheckedErrorFunc(watcher.Close)
		updates = watcher.Config()
	}

	s := &server{conf: conf, logger: logger, forceDebug: c.Bool(debugFlag)}
	return s.run(ctx, updates)
}

type server struct {
	conf       *config.Config
	logger     logging.Logger
	forceDebug bool

	emu  *emulator.Emulator
	link *link.Link
}

func (s *server) setLevel() {
	if s.forceDebug {
		s.logger.SetLevel(logging.DEBUG)
		return
	}
	if level, err := s.conf.Level(); err == nil {
		s.logger.SetLevel(level)
	}
}

// run builds the board, sink, emulator, serial link and side loop from the config and serves until
// ctx is done or the serial link fails. Outputs are left idle and the board closed on return.
func (s *server) run(ctx context.Context, updates <-chan *config.Config) (err error) {
	ctx, span := trace.StartSpan(ctx, "cli::serve")
	defer span.End()

	s.setLevel()
	conf := s.conf
	if err := conf.Validate(); err != nil {
		return err
	}
	pins, err := conf.PinMap()
	if err != nil {
		return err
	}
	emuConf, err := conf.EmulatorConfig()
	if err != nil {
		return err
	}
	opts, err := conf.SerialOptions()
	if err != nil {
		return err
	}
	sideConf, err := conf.SideConfig()
	if err != nil {
		return err
	}

	b, err := board.New(ctx, conf.Board.Model, conf.Board.Attributes, s.logger.Sublogger("board"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, b.Close(context.Background()))
	}()

	out, err := sink.New(b, pins, s.logger.Sublogger("sink"))
	if err != nil {
		return err
	}
	s.emu, err = emulator.New(emuConf, out, nil, s.logger.Sublogger("emulator"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, errors.Wrap(s.emu.ResetOutputs(context.Background()), "resetting outputs"))
	}()
	if err := s.emu.ResetOutputs(ctx); err != nil {
		return errors.Wrap(err, "resetting outputs")
	}

	port, err := serial.Open(conf.Serial.Path, opts)
	if err != nil {
		return err
	}
	s.link = link.New(port, s.emu, s.logger.Sublogger("link"))

	loop, err := side.New(sideConf, s.emu, s.link, nil, s.logger.Sublogger("side"))
	if err != nil {
		return multierr.Combine(err, port.Close())
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var linkErrMu sync.Mutex
	var linkErr error
	workers := utils.NewStoppableWorkersWithContext(serveCtx, func(ctx context.Context) {
		if err := s.link.Serve(ctx); err != nil && ctx.Err() == nil {
			linkErrMu.Lock()
			linkErr = errors.Wrap(err, "serial link stopped")
			linkErrMu.Unlock()
			cancel()
		}
	})
	loop.Start()
	s.logger.Infow("gitsim running", "port", conf.Serial.Path, "board", conf.Board.Model,
		"tick_period", sideConf.TickPeriod, "report_period", sideConf.ReportPeriod)

	for serveCtx.Err() == nil {
		select {
		case <-serveCtx.Done():
		case next := <-updates:
			s.apply(next)
		}
	}

	loop.Stop()
	closeErr := port.Close()
	workers.Stop()
	s.logger.Infow("gitsim stopped", "ticks", loop.Ticks(), "reports", loop.Reports())

	linkErrMu.Lock()
	defer linkErrMu.Unlock()
	return multierr.Combine(linkErr, closeErr)
}

// apply takes what can change at runtime from a new config: the log level and the encoder geometry.
// The geometry becomes the one a disconnect returns to, and is applied right away while no
// application is connected. A connected application owns the geometry it sent.
func (s *server) apply(next *config.Config) {
	prev := s.conf
	s.conf = next
	s.setLevel()

	if !reflect.DeepEqual(prev.Board, next.Board) || !reflect.DeepEqual(prev.Pins, next.Pins) ||
		!reflect.DeepEqual(prev.Serial, next.Serial) || !reflect.DeepEqual(prev.Side, next.Side) ||
		prev.Encoders.UncertainPolicy != next.Encoders.UncertainPolicy {
		s.logger.Warn("changes other than encoder geometry and log level take effect after a restart")
	}
	if reflect.DeepEqual(prev.Encoders, next.Encoders) {
		return
	}
	emuConf, err := next.EmulatorConfig()
	if err != nil {
		s.logger.Warnw("ignoring encoder changes", "error", err)
		return
	}
	if err := s.emu.SetDefaults(emuConf); err != nil {
		s.logger.Warnw("ignoring encoder changes", "error", err)
		return
	}
	if s.link.Connected() {
		s.logger.Infow("application connected, keeping the encoder geometry it sent until it disconnects")
		return
	}
	if err := multierr.Combine(
		s.emu.SetWheelDiameterAll(emuConf.Channel1.WheelDiameter),
		s.emu.SetPPR(emulator.Channel1, emuConf.Channel1.PPR),
		s.emu.SetPPR(emulator.Channel2, emuConf.Channel2.PPR),
	); err != nil {
		s.logger.Warnw("failed to apply encoder changes", "error", err)
		return
	}
	s.logger.Infow("applied encoder geometry", "wheel_diameter", emuConf.Channel1.WheelDiameter,
		"ppr1", emuConf.Channel1.PPR, "ppr2", emuConf.Channel2.PPR)
}
