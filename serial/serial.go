// Package serial opens the serial port the GITSIM application talks to.
package serial

import (
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
)

// Options to be passed to Open(), closely mirrors ser.Mode.
type Options struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
	// ReadTimeout bounds every Read, after which Read returns zero bytes and no error.
	ReadTimeout time.Duration
}

// DefaultOptions are the settings of the GITSIM application link: 115200 baud, 8N1.
func DefaultOptions() Options {
	return Options{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    OneStopBit,
		Parity:      NoParity,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
	// MarkParity enable mark-parity (always 1) check.
	MarkParity
	// SpaceParity enable space-parity (always 0) check.
	SpaceParity
)

// ParityFromString parses "none", "odd", "even", "mark" or "space".
func ParityFromString(s string) (Parity, error) {
	switch s {
	case "", "none":
		return NoParity, nil
	case "odd":
		return OddParity, nil
	case "even":
		return EvenParity, nil
	case "mark":
		return MarkParity, nil
	case "space":
		return SpaceParity, nil
	}
	return NoParity, errors.Errorf("unknown parity %q", s)
}

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// Validate ensures the options can be handed to the driver.
func (o Options) Validate(path string) error {
	if o.BaudRate <= 0 {
		return errors.Errorf("%s.baud_rate: must be positive, got %d", path, o.BaudRate)
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return errors.Errorf("%s.data_bits: must be between 5 and 8, got %d", path, o.DataBits)
	}
	if o.StopBits < OneStopBit || o.StopBits > TwoStopBits {
		return errors.Errorf("%s.stop_bits: unknown setting %d", path, o.StopBits)
	}
	if o.Parity < NoParity || o.Parity > SpaceParity {
		return errors.Errorf("%s.parity: unknown setting %d", path, o.Parity)
	}
	if o.ReadTimeout <= 0 {
		return errors.Errorf("%s.read_timeout: must be positive, got %s", path, o.ReadTimeout)
	}
	return nil
}

func (o Options) mode() *ser.Mode {
	return &ser.Mode{
		BaudRate: o.BaudRate,
		Parity:   ser.Parity(o.Parity),
		DataBits: o.DataBits,
		StopBits: ser.StopBits(o.StopBits),
	}
}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (io.ReadWriteCloser, error) {
	if err := options.Validate("serial"); err != nil {
		return nil, err
	}
	device, err := ser.Open(devicePath, options.mode())
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", devicePath)
	}
	if err := device.SetReadTimeout(options.ReadTimeout); err != nil {
		return nil, closeOnError(err, device)
	}
	return device, nil
}

// SetOptions to change the configuration of a serial port already open.
var SetOptions = func(b io.ReadWriteCloser, options Options) error {
	p, ok := b.(ser.Port)
	if !ok {
		return errors.New("couldn't convert to underlying Port interface")
	}
	if err := p.SetMode(options.mode()); err != nil {
		return err
	}
	return p.SetReadTimeout(options.ReadTimeout)
}

// Ports lists the serial ports present on the system, sorted by name.
var Ports = func() ([]string, error) {
	ports, err := ser.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}

func closeOnError(err error, c io.Closer) error {
	if closeErr := c.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close port: %v", closeErr)
	}
	return err
}
