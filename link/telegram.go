package link

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Telegram sizes in bytes.
const (
	ConnectionTelegramLen = 8
	OperationTelegramLen  = 14
	ResponseTelegramLen   = 13

	// the value section of an operation telegram, the addon section follows it
	valueSectionLen = 9
	addonSectionLen = OperationTelegramLen - valueSectionLen
)

// ResponseID terminates every response telegram.
const ResponseID byte = 0xDA

// Limits a connection telegram must respect to be accepted.
const (
	MinWheelDiameter = 0.8
	MaxWheelDiameter = 1.25
	MinPPR           = 80
	MaxPPR           = 128
)

var le = binary.LittleEndian

// ErrBadTelegram is returned for telegrams that cannot be decoded.
var ErrBadTelegram = errors.New("bad telegram")

// ErrRejectedConnection is returned for connection telegrams whose values are out of range.
var ErrRejectedConnection = errors.New("connection rejected")

// ConnectionTelegram opens a session: wheel diameter in meters for both encoders and the pulses
// per revolution of each.
type ConnectionTelegram struct {
	WheelDiameter float32
	PPR1          uint16
	PPR2          uint16
}

// DecodeConnectionTelegram decodes the 8 byte connection telegram.
func DecodeConnectionTelegram(b []byte) (ConnectionTelegram, error) {
	if len(b) != ConnectionTelegramLen {
		return ConnectionTelegram{}, errors.Wrapf(ErrBadTelegram, "connection telegram is %d bytes, got %d",
			ConnectionTelegramLen, len(b))
	}
	return ConnectionTelegram{
		WheelDiameter: math.Float32frombits(le.Uint32(b[0:4])),
		PPR1:          le.Uint16(b[4:6]),
		PPR2:          le.Uint16(b[6:8]),
	}, nil
}

// Encode returns the wire form of the telegram.
func (t ConnectionTelegram) Encode() []byte {
	b := make([]byte, ConnectionTelegramLen)
	le.PutUint32(b[0:4], math.Float32bits(t.WheelDiameter))
	le.PutUint16(b[4:6], t.PPR1)
	le.PutUint16(b[6:8], t.PPR2)
	return b
}

// Validate checks the values against the accepted ranges.
func (t ConnectionTelegram) Validate() error {
	d := float64(t.WheelDiameter)
	// NaN fails both comparisons, so test for acceptance
	if !(d >= MinWheelDiameter && d <= MaxWheelDiameter) {
		return errors.Wrapf(ErrRejectedConnection, "wheel diameter %v outside [%v, %v]", d, MinWheelDiameter, MaxWheelDiameter)
	}
	for i, ppr := range []uint16{t.PPR1, t.PPR2} {
		if ppr < MinPPR || ppr > MaxPPR {
			return errors.Wrapf(ErrRejectedConnection, "ppr %d of encoder %d outside [%d, %d]", ppr, i+1, MinPPR, MaxPPR)
		}
	}
	return nil
}

// Identifier selects the action of an operation telegram.
type Identifier byte

// Operation identifiers.
const (
	IDNone             Identifier = 0x00
	IDVelocity1        Identifier = 0x01
	IDVelocity2        Identifier = 0x02
	IDVelocityBoth     Identifier = 0x03
	IDAcceleration1    Identifier = 0x04
	IDAcceleration2    Identifier = 0x05
	IDAccelerationBoth Identifier = 0x06
	IDDisconnect       Identifier = 0x07
	IDStop             Identifier = 0x08
)

func (id Identifier) String() string {
	switch id {
	case IDNone:
		return "none"
	case IDVelocity1:
		return "velocity1"
	case IDVelocity2:
		return "velocity2"
	case IDVelocityBoth:
		return "velocity_both"
	case IDAcceleration1:
		return "acceleration1"
	case IDAcceleration2:
		return "acceleration2"
	case IDAccelerationBoth:
		return "acceleration_both"
	case IDDisconnect:
		return "disconnect"
	case IDStop:
		return "stop"
	}
	return "unknown"
}

// OperationTelegram carries a command while connected. Value1 applies to encoder 1 and Value2 to
// encoder 2; which of them are used depends on ID. The addon section is carried but unused.
type OperationTelegram struct {
	Value1 float32
	Value2 float32
	ID     Identifier
	Addon  [addonSectionLen]byte
}

// DecodeOperationTelegram decodes the 14 byte operation telegram.
func DecodeOperationTelegram(b []byte) (OperationTelegram, error) {
	if len(b) != OperationTelegramLen {
		return OperationTelegram{}, errors.Wrapf(ErrBadTelegram, "operation telegram is %d bytes, got %d",
			OperationTelegramLen, len(b))
	}
	t := OperationTelegram{
		Value1: math.Float32frombits(le.Uint32(b[0:4])),
		Value2: math.Float32frombits(le.Uint32(b[4:8])),
		ID:     Identifier(b[valueSectionLen-1]),
	}
	copy(t.Addon[:], b[valueSectionLen:])
	return t, nil
}

// Encode returns the wire form of the telegram.
func (t OperationTelegram) Encode() []byte {
	b := make([]byte, OperationTelegramLen)
	le.PutUint32(b[0:4], math.Float32bits(t.Value1))
	le.PutUint32(b[4:8], math.Float32bits(t.Value2))
	b[valueSectionLen-1] = byte(t.ID)
	copy(b[valueSectionLen:], t.Addon[:])
	return b
}

// ResponseTelegram reports both velocities and, per encoder, the edges passed in either direction
// during the last report period.
type ResponseTelegram struct {
	Velocity1 float32
	Velocity2 float32
	Count1    uint16
	Count2    uint16
}

// Encode returns the wire form of the telegram.
func (t ResponseTelegram) Encode() []byte {
	b := make([]byte, ResponseTelegramLen)
	le.PutUint32(b[0:4], math.Float32bits(t.Velocity1))
	le.PutUint32(b[4:8], math.Float32bits(t.Velocity2))
	le.PutUint16(b[8:10], t.Count1)
	le.PutUint16(b[10:12], t.Count2)
	b[12] = ResponseID
	return b
}

// DecodeResponseTelegram decodes the 13 byte response telegram.
func DecodeResponseTelegram(b []byte) (ResponseTelegram, error) {
	if len(b) != ResponseTelegramLen {
		return ResponseTelegram{}, errors.Wrapf(ErrBadTelegram, "response telegram is %d bytes, got %d",
			ResponseTelegramLen, len(b))
	}
	if b[12] != ResponseID {
		return ResponseTelegram{}, errors.Wrapf(ErrBadTelegram, "response identifier is %#x, got %#x", ResponseID, b[12])
	}
	return ResponseTelegram{
		Velocity1: math.Float32frombits(le.Uint32(b[0:4])),
		Velocity2: math.Float32frombits(le.Uint32(b[4:8])),
		Count1:    le.Uint16(b[8:10]),
		Count2:    le.Uint16(b[10:12]),
	}, nil
}
