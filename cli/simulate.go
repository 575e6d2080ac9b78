package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/trace"

	"github.com/gitsim/gitsim/components/board/fake"
	"github.com/gitsim/gitsim/components/encoder"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/sink"
)

const defaultSimulateDt = 10 * time.Millisecond

var simulatePins = map[emulator.Channel]sink.Pins{
	emulator.Channel1: {A: "a1", B: "b1"},
	emulator.Channel2: {A: "a2", B: "b2"},
}

type simulation struct {
	ppr          int
	diameter     float64
	velocity     float64
	acceleration float64
	dt           time.Duration
	ticks        int
	trace        bool
	policy       encoder.UncertainPolicy
}

// SimulateAction runs encoder 1 on a fake board against a mock clock and prints the result.
func SimulateAction(c *cli.Context) error {
	policy, err := encoder.UncertainPolicyFromString(c.String(simulateFlagPolicy))
	if err != nil {
		return err
	}
	sim := simulation{
		ppr:          c.Int(simulateFlagPPR),
		diameter:     c.Float64(simulateFlagDiameter),
		velocity:     c.Float64(simulateFlagVelocity),
		acceleration: c.Float64(simulateFlagAcceleration),
		dt:           c.Duration(simulateFlagDt),
		ticks:        c.Int(simulateFlagTicks),
		trace:        c.Bool(simulateFlagTrace),
		policy:       policy,
	}
	logger := logging.NewBlankLogger("simulate")
	if c.Bool(debugFlag) {
		logger = logging.NewDebugLogger("simulate")
	}
	_, err = sim.run(c.Context, c.App.Writer, logger)
	return err
}

func (sim simulation) run(ctx context.Context, w io.Writer, logger logging.Logger) (encoder.Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "cli::simulate")
	defer span.End()

	if sim.dt <= 0 {
		return encoder.Snapshot{}, errors.Errorf("--%s must be positive, got %s", simulateFlagDt, sim.dt)
	}
	if sim.ticks < 0 {
		return encoder.Snapshot{}, errors.Errorf("--%s cannot be negative, got %d", simulateFlagTicks, sim.ticks)
	}

	b, err := fake.NewBoard(ctx, nil, logger)
	if err != nil {
		return encoder.Snapshot{}, err
	}
	out, err := sink.New(b, simulatePins, logger)
	if err != nil {
		return encoder.Snapshot{}, err
	}
	conf := emulator.DefaultConfig()
	conf.Channel1 = encoder.Config{WheelDiameter: sim.diameter, PPR: sim.ppr}
	conf.Policy = sim.policy
	clk := clock.NewMock()
	emu, err := emulator.New(conf, out, clk, logger)
	if err != nil {
		return encoder.Snapshot{}, err
	}
	if err := emu.SetVelocity(emulator.Channel1, sim.velocity); err != nil {
		return encoder.Snapshot{}, err
	}
	if err := emu.SetAcceleration(emulator.Channel1, sim.acceleration); err != nil {
		return encoder.Snapshot{}, err
	}

	prev, err := emu.Snapshot(emulator.Channel1)
	if err != nil {
		return encoder.Snapshot{}, err
	}
	skipped := 0
	for i := 1; i <= sim.ticks; i++ {
		if err := ctx.Err(); err != nil {
			return encoder.Snapshot{}, err
		}
		clk.Add(sim.dt)
		if err := emu.Tick(ctx); err != nil {
			return encoder.Snapshot{}, err
		}
		if !sim.trace {
			continue
		}
		snap, err := emu.Snapshot(emulator.Channel1)
		if err != nil {
			return encoder.Snapshot{}, err
		}
		if snap.State == prev.State {
			continue
		}
		step := "?"
		if dir, ok := encoder.Transition(prev.Outputs, snap.Outputs); ok {
			step = fmt.Sprintf("%+d", dir)
		} else {
			skipped++
		}
		prev = snap
		printf(w, "t=%.6fs state=%s A=%s B=%s pulses=%d edges=%d step=%s",
			(time.Duration(i) * sim.dt).Seconds(), snap.State, level(snap.Outputs.A), level(snap.Outputs.B),
			snap.PulseCount, snap.EdgeCount, step)
	}

	snap, err := emu.Snapshot(emulator.Channel1)
	if err != nil {
		return encoder.Snapshot{}, err
	}
	printf(w, "elapsed %s", time.Duration(sim.ticks)*sim.dt)
	printf(w, "pulses %d", snap.PulseCount)
	printf(w, "edges %d", snap.EdgeCount)
	printf(w, "velocity %.6f m/s", snap.Velocity)
	printf(w, "state %s", snap.State)
	printf(w, "pin writes A=%d B=%d", b.Pin("a1").SetCount(), b.Pin("b1").SetCount())
	if skipped > 0 {
		warningf(w, "%d output changes skipped a quadrature state, a decoder would miscount them; use a smaller --%s",
			skipped, simulateFlagDt)
	}
	if snap.State == encoder.Uncertain {
		warningf(w, "the encoder ended in the uncertain state, outputs follow the %s policy", sim.policy)
	}
	return snap, nil
}

func level(high bool) string {
	if high {
		return "1"
	}
	return "0"
}
