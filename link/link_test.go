package link

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"
	"testing/iotest"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/gitsim/gitsim/components/board/fake"
	"github.com/gitsim/gitsim/components/encoder"
	"github.com/gitsim/gitsim/emulator"
	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/sink"
)

type discardSink struct{}

func (discardSink) SetSignalLevels(ctx context.Context, ch emulator.Channel, a, b bool) error {
	return nil
}

func (discardSink) ResetToIdle(ctx context.Context) error {
	return nil
}

type port struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *port) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *port) Write(b []byte) (int, error) { return p.out.Write(b) }

func newTestLink(t *testing.T) (*Link, *emulator.Emulator, *port, *clock.Mock) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	emu, err := emulator.New(emulator.DefaultConfig(), discardSink{}, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	p := &port{}
	return New(p, emu, logger), emu, p, clk
}

func readResponse(t *testing.T, p *port) ResponseTelegram {
	t.Helper()
	test.That(t, p.out.Len(), test.ShouldEqual, ResponseTelegramLen)
	resp, err := DecodeResponseTelegram(p.out.Next(ResponseTelegramLen))
	test.That(t, err, test.ShouldBeNil)
	return resp
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()
	l, emu, p, clk := newTestLink(t)

	sent, err := l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeFalse)

	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	test.That(t, l.Connected(), test.ShouldBeTrue)
	snap, err := emu.Snapshot(emulator.Channel2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snap.PPR, test.ShouldEqual, 100)
	test.That(t, snap.WheelDiameter, test.ShouldEqual, 1.0)

	sent, err = l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeTrue)
	test.That(t, readResponse(t, p), test.ShouldResemble, ResponseTelegram{})

	// nothing read since the last response
	sent, err = l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeFalse)

	p.in.Write(OperationTelegram{Value1: 1, Value2: -1, ID: IDVelocityBoth}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	clk.Add(time.Second)
	test.That(t, emu.Tick(ctx), test.ShouldBeNil)

	sent, err = l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeTrue)
	resp := readResponse(t, p)
	test.That(t, resp.Velocity1, test.ShouldEqual, float32(1))
	test.That(t, resp.Velocity2, test.ShouldEqual, float32(-1))
	// counts are edges passed either way, so reverse motion counts up too
	test.That(t, resp.Count1, test.ShouldBeGreaterThan, 0)
	test.That(t, int64(resp.Count1), test.ShouldEqual, emu.EdgeCount(emulator.Channel1))
	test.That(t, int64(resp.Count2), test.ShouldEqual, -emu.EdgeCount(emulator.Channel2))

	// a period without a response drops its edges
	clk.Add(100 * time.Millisecond)
	test.That(t, emu.Tick(ctx), test.ShouldBeNil)
	sent, err = l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeFalse)

	p.in.Write(OperationTelegram{ID: IDNone}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	forward, backward := emu.EdgeCount(emulator.Channel1), emu.EdgeCount(emulator.Channel2)
	clk.Add(100 * time.Millisecond)
	test.That(t, emu.Tick(ctx), test.ShouldBeNil)
	sent, err = l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeTrue)
	resp = readResponse(t, p)
	test.That(t, int64(resp.Count1), test.ShouldEqual, emu.EdgeCount(emulator.Channel1)-forward)
	test.That(t, int64(resp.Count2), test.ShouldEqual, backward-emu.EdgeCount(emulator.Channel2))
}

func TestReverseMotionCount(t *testing.T) {
	ctx := context.Background()
	l, emu, p, clk := newTestLink(t)

	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	p.in.Write(OperationTelegram{Value1: -1, ID: IDVelocity1}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	clk.Add(50 * time.Millisecond)
	test.That(t, emu.Tick(ctx), test.ShouldBeNil)

	sent, err := l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeTrue)
	resp := readResponse(t, p)
	test.That(t, resp.Velocity1, test.ShouldEqual, float32(-1))
	// 0.1 rad of a 100 ppr wheel is about 6 edges
	test.That(t, resp.Count1, test.ShouldBeGreaterThan, 0)
	test.That(t, resp.Count1, test.ShouldBeLessThan, 10)
	test.That(t, int64(resp.Count1), test.ShouldEqual, -emu.EdgeCount(emulator.Channel1))
	test.That(t, resp.Count2, test.ShouldEqual, uint16(0))
}

func TestEdgeCountSaturates(t *testing.T) {
	test.That(t, edgeCount(0), test.ShouldEqual, uint16(0))
	test.That(t, edgeCount(1234), test.ShouldEqual, uint16(1234))
	test.That(t, edgeCount(math.MaxUint16+5), test.ShouldEqual, uint16(math.MaxUint16))
}

func TestDisconnectDrivesOutputsLow(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	b, err := fake.NewBoard(ctx, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	out, err := sink.New(b, map[emulator.Channel]sink.Pins{
		emulator.Channel1: {A: "a1", B: "b1"},
		emulator.Channel2: {A: "a2", B: "b2"},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	clk := clock.NewMock()
	emu, err := emulator.New(emulator.DefaultConfig(), out, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	p := &port{}
	l := New(p, emu, logger)

	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	p.in.Write(OperationTelegram{Value1: 1, ID: IDVelocity1}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)

	pinHigh := func(name string) bool {
		high, err := b.Pin(name).Get(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		return high
	}
	for i := 0; i < 200 && !pinHigh("a1") && !pinHigh("b1"); i++ {
		clk.Add(time.Millisecond)
		test.That(t, emu.Tick(ctx), test.ShouldBeNil)
	}
	test.That(t, pinHigh("a1") || pinHigh("b1"), test.ShouldBeTrue)

	p.in.Write(OperationTelegram{ID: IDDisconnect}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	test.That(t, l.Connected(), test.ShouldBeFalse)
	test.That(t, emu.State(emulator.Channel1), test.ShouldEqual, encoder.Zero)
	for _, name := range []string{"a1", "b1", "a2", "b2"} {
		test.That(t, pinHigh(name), test.ShouldBeFalse)
	}
}

func TestRejectedConnection(t *testing.T) {
	ctx := context.Background()
	l, emu, p, _ := newTestLink(t)

	p.in.Write(ConnectionTelegram{WheelDiameter: 2, PPR1: 100, PPR2: 100}.Encode())
	err := l.ReadTelegram(ctx)
	test.That(t, errors.Is(err, ErrRejectedConnection), test.ShouldBeTrue)
	test.That(t, l.Connected(), test.ShouldBeFalse)
	test.That(t, emu.Snapshots()[0].WheelDiameter, test.ShouldEqual, encoder.DefaultConfig().WheelDiameter)

	sent, err := l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeFalse)

	// still waiting for a connection telegram
	p.in.Write(ConnectionTelegram{WheelDiameter: 0.9, PPR1: 80, PPR2: 90}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	test.That(t, l.Connected(), test.ShouldBeTrue)
	test.That(t, emu.Snapshots()[1].PPR, test.ShouldEqual, 90)
}

func TestOperations(t *testing.T) {
	ctx := context.Background()
	l, emu, p, _ := newTestLink(t)
	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 128, PPR2: 128}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)

	apply := func(op OperationTelegram) error {
		p.in.Write(op.Encode())
		return l.ReadTelegram(ctx)
	}

	test.That(t, apply(OperationTelegram{Value1: 3, Value2: 9, ID: IDVelocity1}), test.ShouldBeNil)
	test.That(t, emu.Velocity(emulator.Channel1), test.ShouldEqual, 3.0)
	test.That(t, emu.Velocity(emulator.Channel2), test.ShouldEqual, 0.0)

	test.That(t, apply(OperationTelegram{Value1: 9, Value2: 4, ID: IDVelocity2}), test.ShouldBeNil)
	test.That(t, emu.Velocity(emulator.Channel1), test.ShouldEqual, 3.0)
	test.That(t, emu.Velocity(emulator.Channel2), test.ShouldEqual, 4.0)

	test.That(t, apply(OperationTelegram{Value1: 0.5, Value2: 7, ID: IDAcceleration1}), test.ShouldBeNil)
	test.That(t, apply(OperationTelegram{Value1: 7, Value2: -0.5, ID: IDAcceleration2}), test.ShouldBeNil)
	snaps := emu.Snapshots()
	test.That(t, snaps[0].Acceleration, test.ShouldEqual, 0.5)
	test.That(t, snaps[1].Acceleration, test.ShouldEqual, -0.5)

	test.That(t, apply(OperationTelegram{Value1: 1, Value2: 2, ID: IDAccelerationBoth}), test.ShouldBeNil)
	snaps = emu.Snapshots()
	test.That(t, snaps[0].Acceleration, test.ShouldEqual, 1.0)
	test.That(t, snaps[1].Acceleration, test.ShouldEqual, 2.0)

	test.That(t, apply(OperationTelegram{Value1: 1, Value2: 2, ID: Identifier(0x42)}), test.ShouldBeNil)

	test.That(t, apply(OperationTelegram{ID: IDStop}), test.ShouldBeNil)
	snaps = emu.Snapshots()
	for _, s := range snaps {
		test.That(t, s.Velocity, test.ShouldEqual, 0.0)
		test.That(t, s.Acceleration, test.ShouldEqual, 0.0)
	}

	err := apply(OperationTelegram{Value1: float32(math.NaN()), ID: IDVelocity1})
	test.That(t, errors.Is(err, encoder.ErrInvalidConfiguration), test.ShouldBeTrue)
	test.That(t, l.Connected(), test.ShouldBeTrue)

	test.That(t, apply(OperationTelegram{Value1: 5, Value2: 5, ID: IDVelocityBoth}), test.ShouldBeNil)
	test.That(t, apply(OperationTelegram{ID: IDDisconnect}), test.ShouldBeNil)
	test.That(t, l.Connected(), test.ShouldBeFalse)
	test.That(t, emu.Velocity(emulator.Channel1), test.ShouldEqual, 0.0)
	test.That(t, emu.Snapshots()[0].PPR, test.ShouldEqual, encoder.DefaultConfig().PPR)

	sent, err := l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeFalse)
}

func TestDisconnectWhileReporting(t *testing.T) {
	ctx := context.Background()
	l, emu, p, clk := newTestLink(t)

	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	p.in.Write(OperationTelegram{Value1: 2, Value2: -2, ID: IDVelocityBoth}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	clk.Add(time.Second)
	test.That(t, emu.Tick(ctx), test.ShouldBeNil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := l.SendResponse(ctx)
			test.That(t, err, test.ShouldBeNil)
		}
	}()
	p.in.Write(OperationTelegram{ID: IDDisconnect}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	<-done

	test.That(t, l.Connected(), test.ShouldBeFalse)
	for _, ch := range emulator.Channels {
		test.That(t, emu.EdgeCount(ch), test.ShouldEqual, int64(0))
		test.That(t, emu.TakeEdgeTravel(ch), test.ShouldEqual, int64(0))
	}
	p.out.Reset()

	p.in.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, l.ReadTelegram(ctx), test.ShouldBeNil)
	sent, err := l.SendResponse(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent, test.ShouldBeTrue)
	test.That(t, readResponse(t, p), test.ShouldResemble, ResponseTelegram{})
}

func TestServe(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	emu, err := emulator.New(emulator.DefaultConfig(), discardSink{}, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)

	pr, pw := io.Pipe()
	var out bytes.Buffer
	l := New(struct {
		io.Reader
		io.Writer
	}{pr, &out}, emu, logger)

	done := make(chan error, 1)
	go func() {
		done <- l.Serve(context.Background())
	}()

	_, err = pw.Write(ConnectionTelegram{WheelDiameter: 5, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, err, test.ShouldBeNil)
	_, err = pw.Write(ConnectionTelegram{WheelDiameter: 1, PPR1: 100, PPR2: 100}.Encode())
	test.That(t, err, test.ShouldBeNil)
	_, err = pw.Write(OperationTelegram{Value1: float32(math.Inf(1)), ID: IDAcceleration1}.Encode())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pw.Close(), test.ShouldBeNil)

	err = <-done
	test.That(t, errors.Is(err, io.EOF), test.ShouldBeTrue)
	test.That(t, l.Connected(), test.ShouldBeTrue)
	test.That(t, logs.FilterMessageSnippet("connection telegram rejected").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("failed to apply telegram").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("application connected").Len(), test.ShouldEqual, 1)
}

type idleReader struct {
	reads  int
	cancel func()
}

func (r *idleReader) Read(b []byte) (int, error) {
	r.reads++
	if r.reads == 3 {
		r.cancel()
	}
	return 0, nil
}

func TestReadFullStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &idleReader{cancel: cancel}
	err := readFull(ctx, r, make([]byte, 8))
	test.That(t, err, test.ShouldEqual, context.Canceled)
	test.That(t, r.reads, test.ShouldEqual, 3)
}

func TestReadFullPartial(t *testing.T) {
	err := readFull(context.Background(), bytes.NewReader([]byte{1, 2, 3}), make([]byte, 8))
	test.That(t, errors.Is(err, io.ErrUnexpectedEOF), test.ShouldBeTrue)
	test.That(t, isReadError(err), test.ShouldBeTrue)

	buf := make([]byte, 3)
	test.That(t, readFull(context.Background(), iotest.OneByteReader(bytes.NewReader([]byte{4, 5, 6})), buf), test.ShouldBeNil)
	test.That(t, buf, test.ShouldResemble, []byte{4, 5, 6})
}
