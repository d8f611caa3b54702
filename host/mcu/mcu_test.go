package mcu

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/zap/zaptest"

	"ledwire/config"
	"ledwire/core"
	"ledwire/nrz"
	"ledwire/protocol"
)

// firmware runs the core command set over one end of a pipe, the way a
// target's main loop does.
type firmware struct {
	bus *core.RecordingBus
	ir  *core.SoftIR
}

func TestMain(m *testing.M) {
	core.InitLedStripCommands()
	core.InitIRCommands()
	os.Exit(m.Run())
}

func startFirmware(c *qt.C, conn net.Conn) *firmware {
	board, bus, ir := core.NewSoftBoard()
	core.SetBoard(board)
	core.ResetFirmwareState()

	out := protocol.NewScratchOutput()
	tr := protocol.NewTransport(out, core.DispatchCommand)
	core.SetGlobalTransport(tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		in := protocol.NewFifoBuffer(1024)
		buf := make([]byte, 128)
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
			n, err := conn.Read(buf)
			if n > 0 {
				in.Write(buf[:n])
				tr.Receive(in)
			}
			var ne net.Error
			if err != nil && !(errors.As(err, &ne) && ne.Timeout()) {
				return
			}
			core.IRTask()
			if out.CurPosition() > 0 {
				conn.SetWriteDeadline(time.Time{})
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()

	c.Cleanup(func() {
		conn.Close()
		<-done
		core.SetGlobalTransport(nil)
		core.ResetFirmwareState()
	})
	return &firmware{bus: bus, ir: ir}
}

func connect(c *qt.C) (*MCU, *firmware) {
	hostEnd, mcuEnd := net.Pipe()
	fw := startFirmware(c, mcuEnd)

	m := New(zaptest.NewLogger(c).Sugar())
	m.ConnectPort(hostEnd)
	c.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Assert(m.RetrieveDictionary(ctx), qt.IsNil)
	return m, fw
}

func testConfig(c *qt.C, doc string) *config.BoardConfig {
	cfg, err := config.LoadConfig([]byte(doc))
	c.Assert(err, qt.IsNil)
	return cfg
}

func TestRetrieveDictionary(t *testing.T) {
	c := qt.New(t)
	m, _ := connect(c)

	dict := m.Dictionary()
	c.Assert(dict, qt.Not(qt.IsNil))
	c.Assert(dict.Version, qt.Equals, "ledwire-0.1.0")
	_, ok := dict.Commands["ledstrip_send oid=%c"]
	c.Assert(ok, qt.IsTrue)
	v, ok := dict.Enum("chip", "ucs1903")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, int(nrz.UCS1903))
	freq, ok := dict.ConfigInt("CLOCK_FREQ")
	c.Assert(ok, qt.IsTrue)
	c.Assert(freq, qt.Equals, int64(core.ClockFreq))
}

func TestConfigureAndSendPixels(t *testing.T) {
	c := qt.New(t)
	m, fw := connect(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(c, `{strip: {oid: 0, pixels: 40, mode: 1, rate: "4MHz"}}`)
	c.Assert(m.Configure(ctx, cfg), qt.IsNil)

	pixels := make([]uint32, 40)
	for i := range pixels {
		pixels[i] = nrz.PackRGB(byte(i), byte(255-i), byte(i*3))
	}
	c.Assert(m.SendPixels(ctx, 0, pixels), qt.IsNil)

	sent := fw.bus.Bytes()
	c.Assert(len(sent), qt.Equals, nrz.WS2812B.EncodedLen(120)+nrz.WS2812B.ResetBytes())
	decoded, err := nrz.Decode(nrz.WS2812B, sent)
	c.Assert(err, qt.IsNil)
	got, err := nrz.Pixels(decoded)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, pixels)
}

func TestConfigureIsIdempotent(t *testing.T) {
	c := qt.New(t)
	m, _ := connect(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(c, `{strip: {oid: 0, pixels: 4}}`)
	c.Assert(m.Configure(ctx, cfg), qt.IsNil)

	state, err := m.Query(ctx, "get_config", nil, "config", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(state.Uint("is_config"), qt.Equals, uint32(1))
	crc := state.Uint("crc")

	c.Assert(m.Configure(ctx, cfg), qt.IsNil)
	state, err = m.Query(ctx, "get_config", nil, "config", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(state.Uint("crc"), qt.Equals, crc)
}

func TestIREvents(t *testing.T) {
	c := qt.New(t)
	m, fw := connect(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(c, `{
		strip: {oid: 0, pixels: 1},
		ir: {enabled: true, oid: 1, pin: 22, data_check: "all"},
	}`)
	c.Assert(m.Configure(ctx, cfg), qt.IsNil)

	const code = 0xF708FB04
	c.Assert(fw.ir.Receive(code, 32), qt.IsTrue)

	select {
	case ev := <-m.IREvents():
		c.Assert(ev, qt.Equals, IREvent{OID: 1, Code: code, Bits: 32})
		valid, addr, cmd := ev.NEC()
		c.Assert(valid, qt.IsTrue)
		c.Assert(addr, qt.Equals, uint16(0x0004))
		c.Assert(cmd, qt.Equals, byte(0x08))
	case <-ctx.Done():
		c.Fatal("no ir_event received")
	}

	state, err := m.QueryIR(ctx, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(state.Code, qt.Equals, uint32(code))

	// Reception stays off until re-armed
	c.Assert(fw.ir.RxInterruptEnabled(), qt.IsFalse)
	c.Assert(m.EnableIR(ctx, 1), qt.IsNil)
	c.Assert(fw.ir.RxInterruptEnabled(), qt.IsTrue)

	c.Assert(m.SetIRDataCheck(ctx, 1, core.DataCheckNone), qt.IsNil)
	c.Assert(fw.ir.Receive(0x12345678, 32), qt.IsTrue)
	select {
	case ev := <-m.IREvents():
		c.Assert(ev.Code, qt.Equals, uint32(0x12345678))
	case <-ctx.Done():
		c.Fatal("unchecked frame not forwarded")
	}
}

func TestSendErrors(t *testing.T) {
	c := qt.New(t)

	m := New(nil)
	c.Assert(m.Send(context.Background(), "get_config"), qt.Equals, ErrNotConnected)

	m, _ = connect(c)
	ctx := context.Background()
	c.Assert(m.Send(ctx, "no_such_command"), qt.ErrorMatches, `mcu: unknown command "no_such_command"`)
	c.Assert(m.Send(ctx, "ledstrip_send"), qt.ErrorMatches, `mcu: ledstrip_send takes 1 arguments, got 0`)
	c.Assert(m.Send(ctx, "ledstrip_update", 0, 0, 5), qt.ErrorMatches, `mcu: ledstrip_update data: want \[\]byte, got int`)
}

func TestQueryTimesOut(t *testing.T) {
	c := qt.New(t)
	m, _ := connect(c)

	// ledstrip_send on an unconfigured oid fails on the MCU, so no result comes back
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := m.Query(ctx, "ledstrip_send", []any{uint8(9)}, "ledstrip_result", nil)
	c.Assert(errors.Is(err, context.DeadlineExceeded), qt.IsTrue, qt.Commentf("%v", err))
}

func TestParseFormat(t *testing.T) {
	c := qt.New(t)

	f, err := parseFormat(7, "ledstrip_update oid=%c pos=%hu data=%*s")
	c.Assert(err, qt.IsNil)
	c.Assert(f.name, qt.Equals, "ledstrip_update")
	want := []param{{"oid", false}, {"pos", false}, {"data", true}}
	c.Assert(f.params, qt.HasLen, len(want))
	for i, p := range want {
		c.Check(f.params[i].name, qt.Equals, p.name)
		c.Check(f.params[i].bytes, qt.Equals, p.bytes, qt.Commentf("param %s", p.name))
	}

	_, err = parseFormat(1, "bad oid")
	c.Assert(err, qt.Not(qt.IsNil))
}
