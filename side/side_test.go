package side

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/gitsim/gitsim/logging"
)

type countingEmulator struct {
	mu      sync.Mutex
	ticks   int
	resyncs int
}

func (e *countingEmulator) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks++
	return nil
}

func (e *countingEmulator) Resync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resyncs++
}

func (e *countingEmulator) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks, e.resyncs
}

type fakeReporter struct {
	mu        sync.Mutex
	connected bool
	calls     int
	err       error
}

func (r *fakeReporter) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeReporter) SendResponse(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return false, r.err
	}
	return r.connected, nil
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	test.That(t, conf.Validate("side"), test.ShouldBeNil)
	test.That(t, conf.TicksPerReport(), test.ShouldEqual, uint64(50))

	conf.TickPeriod = 0
	err := conf.Validate("side")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "side.tick_period")

	conf = Config{TickPeriod: 10 * time.Millisecond, ReportPeriod: time.Millisecond}
	err = conf.Validate("side")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "side.report_period")

	conf = Config{TickPeriod: 3 * time.Millisecond, ReportPeriod: 10 * time.Millisecond}
	test.That(t, conf.TicksPerReport(), test.ShouldEqual, uint64(3))

	_, err = New(Config{}, &countingEmulator{}, &fakeReporter{}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	emu := &countingEmulator{}
	reporter := &fakeReporter{}
	conf := Config{TickPeriod: time.Millisecond, ReportPeriod: 5 * time.Millisecond}
	loop, err := New(conf, emu, reporter, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 5; i++ {
		loop.Step(ctx)
	}
	ticks, resyncs := emu.counts()
	test.That(t, ticks, test.ShouldEqual, 0)
	test.That(t, resyncs, test.ShouldEqual, 5)
	test.That(t, reporter.calls, test.ShouldEqual, 1)
	test.That(t, loop.Reports(), test.ShouldEqual, uint64(0))

	reporter.connected = true
	for i := 0; i < 10; i++ {
		loop.Step(ctx)
	}
	ticks, resyncs = emu.counts()
	test.That(t, ticks, test.ShouldEqual, 10)
	test.That(t, resyncs, test.ShouldEqual, 5)
	test.That(t, reporter.calls, test.ShouldEqual, 3)
	test.That(t, loop.Reports(), test.ShouldEqual, uint64(2))
	test.That(t, loop.Ticks(), test.ShouldEqual, uint64(15))
}

func TestStepReportErrorsAreThrottled(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	clk := clock.NewMock()
	reporter := &fakeReporter{connected: true, err: errors.New("port gone")}
	loop, err := New(Config{TickPeriod: time.Millisecond, ReportPeriod: time.Millisecond},
		&countingEmulator{}, reporter, clk, logger)
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 10; i++ {
		loop.Step(ctx)
	}
	test.That(t, reporter.calls, test.ShouldEqual, 10)
	test.That(t, logs.FilterMessageSnippet("failed to send response telegram").Len(), test.ShouldEqual, 1)

	clk.Add(2 * errorLogInterval)
	loop.Step(ctx)
	test.That(t, logs.FilterMessageSnippet("failed to send response telegram").Len(), test.ShouldEqual, 2)
}

func TestStartStop(t *testing.T) {
	emu := &countingEmulator{}
	reporter := &fakeReporter{connected: true}
	clk := clock.NewMock()
	loop, err := New(DefaultConfig(), emu, reporter, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	loop.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(DefaultTickPeriod)
		ticks, _ := emu.counts()
		test.That(tb, ticks, test.ShouldBeGreaterThanOrEqualTo, 3)
	})
	loop.Stop()

	stoppedAt := loop.Ticks()
	clk.Add(10 * DefaultTickPeriod)
	test.That(t, loop.Ticks(), test.ShouldEqual, stoppedAt)
	loop.Stop()
}
