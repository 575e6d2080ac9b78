// Package config reads the gitsim configuration file.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/components/board"
	"github.com/gitsim/gitsim/components/encoder"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/serial"
	"github.com/gitsim/gitsim/side"
	"github.com/gitsim/gitsim/sink"
)

// Config is the whole configuration of a gitsim process.
type Config struct {
	Board    Board                `json:"board"`
	Pins     map[string]sink.Pins `json:"pins"`
	Encoders Encoders             `json:"encoders"`
	Serial   Serial               `json:"serial"`
	Side     Side                 `json:"side"`
	LogLevel string               `json:"log_level,omitempty"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Board selects the board model driving the encoder outputs.
type Board struct {
	Model      string             `json:"model"`
	Attributes board.AttributeMap `json:"attributes,omitempty"`
}

// Encoders holds the geometry both encoders start with.
type Encoders struct {
	WheelDiameter   float64 `json:"wheel_diameter,omitempty"`
	PPR1            int     `json:"ppr1,omitempty"`
	PPR2            int     `json:"ppr2,omitempty"`
	UncertainPolicy string  `json:"uncertain_policy,omitempty"`
}

// Serial configures the port the application connects through.
type Serial struct {
	Path        string `json:"path"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	DataBits    int    `json:"data_bits,omitempty"`
	StopBits    string `json:"stop_bits,omitempty"`
	Parity      string `json:"parity,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
}

// Side configures the periods of the side loop.
type Side struct {
	TickPeriod   string `json:"tick_period,omitempty"`
	ReportPeriod string `json:"report_period,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate() error {
	if conf.Board.Model == "" {
		return errors.New("board.model: expected nonempty model")
	}
	if err := board.Validate("board.attributes", conf.Board.Model, conf.Board.Attributes); err != nil {
		return err
	}
	if _, err := conf.PinMap(); err != nil {
		return err
	}
	if _, err := conf.EmulatorConfig(); err != nil {
		return err
	}
	if conf.Serial.Path == "" {
		return errors.New("serial.path: expected nonempty path")
	}
	if _, err := conf.SerialOptions(); err != nil {
		return err
	}
	if _, err := conf.SideConfig(); err != nil {
		return err
	}
	if _, err := conf.Level(); err != nil {
		return err
	}
	return nil
}

// PinMap returns the output pins of each channel, keyed in the file by channel name.
func (conf *Config) PinMap() (map[emulator.Channel]sink.Pins, error) {
	byName := map[string]emulator.Channel{}
	for _, ch := range emulator.Channels {
		byName[ch.String()] = ch
	}
	pins := make(map[emulator.Channel]sink.Pins, len(conf.Pins))
	for name, p := range conf.Pins {
		ch, ok := byName[name]
		if !ok {
			return nil, errors.Errorf("pins.%s: unknown channel, expected one of %s", name, channelNames())
		}
		if err := p.Validate("pins." + name); err != nil {
			return nil, err
		}
		pins[ch] = p
	}
	for _, ch := range emulator.Channels {
		if _, ok := pins[ch]; !ok {
			return nil, errors.Errorf("pins.%s: missing output pins", ch)
		}
	}
	return pins, nil
}

func channelNames() string {
	names := make([]string, 0, len(emulator.Channels))
	for _, ch := range emulator.Channels {
		names = append(names, ch.String())
	}
	return strings.Join(names, ", ")
}

// EmulatorConfig returns the encoder defaults, filling in unset fields.
func (conf *Config) EmulatorConfig() (emulator.Config, error) {
	out := emulator.DefaultConfig()
	policy, err := encoder.UncertainPolicyFromString(conf.Encoders.UncertainPolicy)
	if err != nil {
		return emulator.Config{}, errors.Wrap(err, "encoders.uncertain_policy")
	}
	out.Policy = policy

	if d := conf.Encoders.WheelDiameter; d != 0 {
		out.Channel1.WheelDiameter = d
		out.Channel2.WheelDiameter = d
	}
	if conf.Encoders.PPR1 != 0 {
		out.Channel1.PPR = conf.Encoders.PPR1
	}
	if conf.Encoders.PPR2 != 0 {
		out.Channel2.PPR = conf.Encoders.PPR2
	}
	if err := out.Channel1.Validate(); err != nil {
		return emulator.Config{}, errors.Wrap(err, "encoders")
	}
	if err := out.Channel2.Validate(); err != nil {
		return emulator.Config{}, errors.Wrap(err, "encoders")
	}
	return out, nil
}

// SerialOptions returns the port options, filling in unset fields.
func (conf *Config) SerialOptions() (serial.Options, error) {
	opts := serial.DefaultOptions()
	s := conf.Serial
	if s.BaudRate != 0 {
		opts.BaudRate = s.BaudRate
	}
	if s.DataBits != 0 {
		opts.DataBits = s.DataBits
	}
	switch s.StopBits {
	case "", "1":
	case "1.5":
		opts.StopBits = serial.OnePointFiveStopBits
	case "2":
		opts.StopBits = serial.TwoStopBits
	default:
		return serial.Options{}, errors.Errorf("serial.stop_bits: expected 1, 1.5 or 2, got %q", s.StopBits)
	}
	parity, err := serial.ParityFromString(s.Parity)
	if err != nil {
		return serial.Options{}, errors.Wrap(err, "serial.parity")
	}
	opts.Parity = parity
	if s.ReadTimeout != "" {
		if opts.ReadTimeout, err = parseDuration("serial.read_timeout", s.ReadTimeout); err != nil {
			return serial.Options{}, err
		}
	}
	if err := opts.Validate("serial"); err != nil {
		return serial.Options{}, err
	}
	return opts, nil
}

// SideConfig returns the side loop periods, filling in unset fields.
func (conf *Config) SideConfig() (side.Config, error) {
	out := side.DefaultConfig()
	var err error
	if conf.Side.TickPeriod != "" {
		if out.TickPeriod, err = parseDuration("side.tick_period", conf.Side.TickPeriod); err != nil {
			return side.Config{}, err
		}
	}
	if conf.Side.ReportPeriod != "" {
		if out.ReportPeriod, err = parseDuration("side.report_period", conf.Side.ReportPeriod); err != nil {
			return side.Config{}, err
		}
	}
	if err := out.Validate("side"); err != nil {
		return side.Config{}, err
	}
	return out, nil
}

// Level returns the configured log level, INFO when unset.
func (conf *Config) Level() (logging.Level, error) {
	if conf.LogLevel == "" {
		return logging.INFO, nil
	}
	level, err := logging.LevelFromString(conf.LogLevel)
	if err != nil {
		return logging.INFO, errors.Wrap(err, "log_level")
	}
	return level, nil
}

func parseDuration(path, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrap(err, path)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s: must be positive, got %s", path, s)
	}
	return d, nil
}
