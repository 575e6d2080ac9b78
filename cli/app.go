// Package cli contains the gitsim command line.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

const (
	debugFlag  = "debug"
	configFlag = "config"

	simulateFlagPPR          = "ppr"
	simulateFlagDiameter     = "diameter"
	simulateFlagVelocity     = "velocity"
	simulateFlagAcceleration = "acceleration"
	simulateFlagDt           = "dt"
	simulateFlagTicks        = "ticks"
	simulateFlagTrace        = "trace"
	simulateFlagPolicy       = "uncertain-policy"
)

var app = &cli.App{
	Name:            "gitsim",
	Usage:           "emulate a pair of quadrature wheel encoders",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "serve",
			Usage:     "drive the encoder outputs and serve the application over the serial port",
			UsageText: "gitsim serve --config <file>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     configFlag,
					Aliases:  []string{"c"},
					Usage:    "load configuration from `FILE` (.json or .toml)",
					Required: true,
				},
			},
			Action: ServeAction,
		},
		{
			Name:  "simulate",
			Usage: "run one encoder offline on a fake board and print what it did",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  simulateFlagPPR,
					Usage: "pulses per revolution",
					Value: 128,
				},
				&cli.Float64Flag{
					Name:  simulateFlagDiameter,
					Usage: "wheel diameter in meters",
					Value: 1,
				},
				&cli.Float64Flag{
					Name:  simulateFlagVelocity,
					Usage: "initial velocity in m/s",
				},
				&cli.Float64Flag{
					Name:  simulateFlagAcceleration,
					Usage: "acceleration in m/s^2",
				},
				&cli.DurationFlag{
					Name:  simulateFlagDt,
					Usage: "time between ticks",
					Value: defaultSimulateDt,
				},
				&cli.IntFlag{
					Name:  simulateFlagTicks,
					Usage: "number of ticks to run",
					Value: 1000,
				},
				&cli.BoolFlag{
					Name:  simulateFlagTrace,
					Usage: "print every change of the quadrature state",
				},
				&cli.StringFlag{
					Name:  simulateFlagPolicy,
					Usage: "outputs while the state is uncertain, hold_last or force_low",
					Value: "hold_last",
				},
			},
			Action: SimulateAction,
		},
		{
			Name:   "ports",
			Usage:  "list serial ports",
			Action: PortsAction,
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}
