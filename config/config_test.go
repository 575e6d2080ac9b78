package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	_ "github.com/gitsim/gitsim/components/board/fake"
	"github.com/gitsim/gitsim/components/encoder"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/serial"
	"github.com/gitsim/gitsim/side"
	"github.com/gitsim/gitsim/sink"
)

const jsonConfig = `{
	"board": {"model": "fake", "attributes": {"failing_pins": ["9"]}},
	"pins": {
		"encoder1": {"a": "17", "b": "18"},
		"encoder2": {"a": "22", "b": "23"}
	},
	"encoders": {"wheel_diameter": 0.92, "ppr1": 100, "ppr2": "120", "uncertain_policy": "force_low"},
	"serial": {"path": "${GITSIM_TEST_PORT:-/dev/ttyUSB0}", "baud_rate": 57600, "parity": "even", "stop_bits": "2"},
	"side": {"tick_period": "2ms", "report_period": "100ms"},
	"log_level": "debug"
}`

const tomlConfig = `
log_level = "warn"

[board]
model = "fake"

[pins.encoder1]
a = "17"
b = "18"

[pins.encoder2]
a = "22"
b = "23"

[encoders]
wheel_diameter = 1

[serial]
path = "/dev/ttyS1"
read_timeout = "20ms"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestReadJSON(t *testing.T) {
	t.Setenv("GITSIM_TEST_PORT", "/dev/ttyACM3")
	path := writeFile(t, "gitsim.json", jsonConfig)

	conf, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, conf.Board.Model, test.ShouldEqual, "fake")
	test.That(t, conf.Serial.Path, test.ShouldEqual, "/dev/ttyACM3")

	pins, err := conf.PinMap()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pins, test.ShouldResemble, map[emulator.Channel]sink.Pins{
		emulator.Channel1: {A: "17", B: "18"},
		emulator.Channel2: {A: "22", B: "23"},
	})

	emuConf, err := conf.EmulatorConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, emuConf.Policy, test.ShouldEqual, encoder.ForceLow)
	test.That(t, emuConf.Channel1.WheelDiameter, test.ShouldEqual, 0.92)
	test.That(t, emuConf.Channel1.PPR, test.ShouldEqual, 100)
	test.That(t, emuConf.Channel2.PPR, test.ShouldEqual, 120)

	opts, err := conf.SerialOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.BaudRate, test.ShouldEqual, 57600)
	test.That(t, opts.Parity, test.ShouldEqual, serial.EvenParity)
	test.That(t, opts.StopBits, test.ShouldEqual, serial.TwoStopBits)
	test.That(t, opts.DataBits, test.ShouldEqual, 8)

	sideConf, err := conf.SideConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sideConf, test.ShouldResemble, side.Config{TickPeriod: 2 * time.Millisecond, ReportPeriod: 100 * time.Millisecond})

	level, err := conf.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.DEBUG)
}

func TestReadEnvDefault(t *testing.T) {
	conf, err := Read(writeFile(t, "gitsim.json", strings.ReplaceAll(jsonConfig, "GITSIM_TEST_PORT", "GITSIM_UNSET_PORT")))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Serial.Path, test.ShouldEqual, "/dev/ttyUSB0")
}

func TestReadTOML(t *testing.T) {
	conf, err := Read(writeFile(t, "gitsim.toml", tomlConfig))
	test.That(t, err, test.ShouldBeNil)

	emuConf, err := conf.EmulatorConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, emuConf.Channel2.WheelDiameter, test.ShouldEqual, 1.0)
	test.That(t, emuConf.Channel2.PPR, test.ShouldEqual, encoder.DefaultConfig().PPR)
	test.That(t, emuConf.Policy, test.ShouldEqual, encoder.HoldLast)

	opts, err := conf.SerialOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.BaudRate, test.ShouldEqual, serial.DefaultOptions().BaudRate)
	test.That(t, opts.ReadTimeout, test.ShouldEqual, 20*time.Millisecond)

	sideConf, err := conf.SideConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sideConf, test.ShouldResemble, side.DefaultConfig())

	level, err := conf.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.WARN)
}

func TestReadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		from    string
		to      string
		message string
	}{
		{"unknown field", `"log_level"`, `"colour": "red", "log_level"`, "unknown config fields [colour]"},
		{"unknown model", `"model": "fake"`, `"model": "abacus"`, `unknown board model "abacus"`},
		{"bad attribute", `"failing_pins"`, `"failing_pin"`, "board.attributes"},
		{"unknown channel", `"encoder2"`, `"encoder3"`, "pins.encoder3: unknown channel"},
		{"missing pin", `"b": "23"`, `"b": ""`, "pins.encoder2.b"},
		{"bad diameter", `"wheel_diameter": 0.92`, `"wheel_diameter": -1`, "wheel diameter"},
		{"bad policy", `"force_low"`, `"tristate"`, "encoders.uncertain_policy"},
		{"bad parity", `"even"`, `"sometimes"`, "serial.parity"},
		{"bad stop bits", `"stop_bits": "2"`, `"stop_bits": "3"`, "serial.stop_bits"},
		{"bad period", `"2ms"`, `"fast"`, "side.tick_period"},
		{"report faster than tick", `"100ms"`, `"1ms"`, "side.report_period"},
		{"negative period", `"100ms"`, `"-1s"`, "side.report_period: must be positive"},
		{"bad level", `"debug"`, `"chatty"`, "log_level"},
		{"no port", `"path": "${GITSIM_TEST_PORT:-/dev/ttyUSB0}"`, `"path": ""`, "serial.path"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			content := strings.Replace(jsonConfig, tc.from, tc.to, 1)
			test.That(t, content, test.ShouldNotEqual, jsonConfig)
			_, err := Read(writeFile(t, "gitsim.json", content))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.message)
		})
	}

	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeFile(t, "gitsim.json", "{"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "json")
}

func TestFormatForPath(t *testing.T) {
	test.That(t, FormatForPath("a/b.toml"), test.ShouldEqual, FormatTOML)
	test.That(t, FormatForPath("b.TOML"), test.ShouldEqual, FormatTOML)
	test.That(t, FormatForPath("b.json"), test.ShouldEqual, FormatJSON)
	test.That(t, FormatForPath("b"), test.ShouldEqual, FormatJSON)
}
