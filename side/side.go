// Package side runs the periodic loop that advances the emulator and reports to the application.
package side

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/utils"
)

const (
	// DefaultTickPeriod is the period of the primary action.
	DefaultTickPeriod = time.Millisecond
	// DefaultReportPeriod is the period of the secondary action.
	DefaultReportPeriod = 50 * time.Millisecond

	errorLogInterval = time.Second
)

// Emulator is advanced by the primary action.
type Emulator interface {
	Tick(ctx context.Context) error
	Resync()
}

// Reporter is the link the secondary action reports through.
type Reporter interface {
	Connected() bool
	SendResponse(ctx context.Context) (bool, error)
}

// Config holds the loop periods.
type Config struct {
	TickPeriod   time.Duration
	ReportPeriod time.Duration
}

// DefaultConfig returns the default periods.
func DefaultConfig() Config {
	return Config{TickPeriod: DefaultTickPeriod, ReportPeriod: DefaultReportPeriod}
}

// Validate ensures all parts of the config are valid.
func (conf Config) Validate(path string) error {
	if conf.TickPeriod <= 0 {
		return errors.Errorf("%s.tick_period: must be positive, got %v", path, conf.TickPeriod)
	}
	if conf.ReportPeriod < conf.TickPeriod {
		return errors.Errorf("%s.report_period: must be at least the tick period %v, got %v",
			path, conf.TickPeriod, conf.ReportPeriod)
	}
	return nil
}

// TicksPerReport is how many primary actions run per secondary action.
func (conf Config) TicksPerReport() uint64 {
	return uint64(conf.ReportPeriod / conf.TickPeriod)
}

// A Loop runs the primary action every tick period: advance the emulator while the application is
// connected, otherwise keep its timestamp current. Every TicksPerReport ticks it also runs the
// secondary action, sending a response telegram.
type Loop struct {
	emu      Emulator
	reporter Reporter
	clock    clock.Clock
	logger   logging.Logger

	period      time.Duration
	reportEvery uint64
	ticks       atomic.Uint64
	reports     atomic.Uint64

	errLimiter *rate.Limiter
	workers    utils.StoppableWorkers
}

// New returns a stopped loop. A nil clock means the wall clock.
func New(conf Config, emu Emulator, reporter Reporter, clk clock.Clock, logger logging.Logger) (*Loop, error) {
	if err := conf.Validate("side"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		emu:         emu,
		reporter:    reporter,
		clock:       clk,
		logger:      logger,
		period:      conf.TickPeriod,
		reportEvery: conf.TicksPerReport(),
		errLimiter:  rate.NewLimiter(rate.Every(errorLogInterval), 1),
	}, nil
}

// Start runs the loop in the background until Stop.
func (l *Loop) Start() {
	if l.workers != nil {
		return
	}
	l.logger.Debugw("starting side loop", "tick_period", l.period, "ticks_per_report", l.reportEvery)
	l.workers = utils.NewStoppableWorkers(l.run)
}

// Stop stops the loop and waits for the running step to finish.
func (l *Loop) Stop() {
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.workers = nil
}

func (l *Loop) run(ctx context.Context) {
	ticker := l.clock.Ticker(l.period)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Step(ctx)
		}
	}
}

// Step runs one primary action and, when due, the secondary action.
func (l *Loop) Step(ctx context.Context) {
	n := l.ticks.Inc()
	if l.reporter.Connected() {
		// the emulator logs its own sink failures
		goutils.UncheckedError(l.emu.Tick(ctx))
	} else {
		l.emu.Resync()
	}

	if n%l.reportEvery != 0 {
		return
	}
	sent, err := l.reporter.SendResponse(ctx)
	if err != nil {
		if l.errLimiter.AllowN(l.clock.Now(), 1) {
			l.logger.Warnw("failed to send response telegram", "error", err)
		}
		return
	}
	if sent {
		l.reports.Inc()
	}
}

// Ticks returns how many primary actions ran.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Reports returns how many response telegrams were sent.
func (l *Loop) Reports() uint64 {
	return l.reports.Load()
}
