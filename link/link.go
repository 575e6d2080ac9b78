// Package link speaks the telegram protocol of the controlling application over a serial port and
// applies its commands to the emulator.
package link

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
)

// Emulator is the part of *emulator.Emulator the link drives.
type Emulator interface {
	SetVelocity(ch emulator.Channel, v float64) error
	SetAcceleration(ch emulator.Channel, a float64) error
	SetPPR(ch emulator.Channel, ppr int) error
	SetWheelDiameterAll(d float64) error
	StopMotion()
	Initialize()
	ResetOutputs(ctx context.Context) error
	Velocity(ch emulator.Channel) float64
	TakeEdgeTravel(ch emulator.Channel) int64
}

// A Link holds the session with the application. Telegrams are read by one goroutine (Serve or
// ReadTelegram) while responses may be sent from another.
type Link struct {
	rw     io.ReadWriter
	emu    Emulator
	logger logging.Logger

	mu        sync.Mutex
	connected bool
	handshake bool

	writeMu sync.Mutex
}

// New returns a disconnected link.
func New(rw io.ReadWriter, emu Emulator, logger logging.Logger) *Link {
	return &Link{rw: rw, emu: emu, logger: logger}
}

// Connected reports whether a connection telegram was accepted and no disconnect followed.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Serve reads telegrams until ctx is done or the port fails. Rejected and malformed telegrams are
// logged and do not stop it. A blocked read only returns once the port is closed or times out, so
// callers close the port to stop Serve promptly.
func (l *Link) Serve(ctx context.Context) error {
	for {
		err := l.ReadTelegram(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case isReadError(err):
			return err
		case errors.Is(err, ErrRejectedConnection):
			l.logger.Warnw("connection telegram rejected", "error", err)
		default:
			l.logger.Warnw("failed to apply telegram", "error", err)
		}
	}
}

type readError struct{ error }

func (e readError) Unwrap() error { return e.error }

func isReadError(err error) bool {
	var re readError
	return errors.As(err, &re)
}

// ReadTelegram reads one telegram, a connection telegram while disconnected and an operation
// telegram while connected, and applies it. Any complete read arms the next response, even when
// the telegram is then rejected.
func (l *Link) ReadTelegram(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "link::ReadTelegram")
	defer span.End()

	size := OperationTelegramLen
	if !l.Connected() {
		size = ConnectionTelegramLen
	}
	buf := make([]byte, size)
	if err := readFull(ctx, l.rw, buf); err != nil {
		return err
	}

	var err error
	if size == ConnectionTelegramLen {
		err = l.handleConnection(buf)
	} else {
		err = l.handleOperation(ctx, buf)
	}

	l.mu.Lock()
	l.handshake = true
	l.mu.Unlock()
	return err
}

func (l *Link) handleConnection(buf []byte) error {
	t, err := DecodeConnectionTelegram(buf)
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if err := multierr.Combine(
		l.emu.SetPPR(emulator.Channel1, int(t.PPR1)),
		l.emu.SetPPR(emulator.Channel2, int(t.PPR2)),
		l.emu.SetWheelDiameterAll(float64(t.WheelDiameter)),
	); err != nil {
		return errors.Wrap(err, "applying connection telegram")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	for _, ch := range emulator.Channels {
		l.emu.TakeEdgeTravel(ch)
	}
	l.logger.Infow("application connected",
		"wheel_diameter", t.WheelDiameter, "ppr1", t.PPR1, "ppr2", t.PPR2)
	return nil
}

func (l *Link) handleOperation(ctx context.Context, buf []byte) error {
	t, err := DecodeOperationTelegram(buf)
	if err != nil {
		return err
	}
	v1, v2 := float64(t.Value1), float64(t.Value2)

	switch t.ID {
	case IDNone:
	case IDVelocity1:
		err = l.emu.SetVelocity(emulator.Channel1, v1)
	case IDVelocity2:
		err = l.emu.SetVelocity(emulator.Channel2, v2)
	case IDVelocityBoth:
		err = multierr.Combine(
			l.emu.SetVelocity(emulator.Channel1, v1),
			l.emu.SetVelocity(emulator.Channel2, v2),
		)
	case IDAcceleration1:
		err = l.emu.SetAcceleration(emulator.Channel1, v1)
	case IDAcceleration2:
		err = l.emu.SetAcceleration(emulator.Channel2, v2)
	case IDAccelerationBoth:
		err = multierr.Combine(
			l.emu.SetAcceleration(emulator.Channel1, v1),
			l.emu.SetAcceleration(emulator.Channel2, v2),
		)
	case IDDisconnect:
		l.mu.Lock()
		l.connected = false
		l.handshake = false
		l.emu.Initialize()
		l.mu.Unlock()
		err = errors.Wrap(l.emu.ResetOutputs(ctx), "resetting outputs")
		l.logger.Info("application disconnected")
	case IDStop:
		l.emu.StopMotion()
	default:
		l.logger.Debugw("ignoring operation telegram", "id", byte(t.ID))
	}
	return errors.Wrapf(err, "operation %s", t.ID)
}

// SendResponse closes a report period. While connected it takes the edges each encoder passed in
// either direction during the period, and writes them with the velocities in a response telegram
// when a telegram was read since the previous response. Edges of a period without a response are
// dropped. It reports whether a telegram was written.
func (l *Link) SendResponse(ctx context.Context) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "link::SendResponse")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return false, nil
	}
	count1 := edgeCount(l.emu.TakeEdgeTravel(emulator.Channel1))
	count2 := edgeCount(l.emu.TakeEdgeTravel(emulator.Channel2))
	if !l.handshake {
		l.mu.Unlock()
		return false, nil
	}
	resp := ResponseTelegram{
		Velocity1: float32(l.emu.Velocity(emulator.Channel1)),
		Velocity2: float32(l.emu.Velocity(emulator.Channel2)),
		Count1:    count1,
		Count2:    count2,
	}
	l.handshake = false
	l.mu.Unlock()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.rw.Write(resp.Encode()); err != nil {
		return false, errors.Wrap(err, "writing response telegram")
	}
	return true, nil
}

// edgeCount saturates a period's edge travel to the wire field.
func edgeCount(travel int64) uint16 {
	if travel > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(travel)
}

// readFull fills buf. Unlike io.ReadFull it checks ctx between reads, so a port configured with a
// read timeout, which returns zero bytes and no error, does not spin forever.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	for n := 0; n < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				err = io.ErrUnexpectedEOF
			}
			return readError{errors.Wrapf(err, "read %d of %d telegram bytes", n, len(buf))}
		}
	}
	return nil
}
