package core

import (
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNECChecksums(t *testing.T) {
	c := qt.New(t)

	for hi := 0; hi < 256; hi++ {
		for lo := 0; lo < 256; lo++ {
			pair := uint32(hi)<<8 | uint32(lo)
			want := byte(hi)^byte(lo) == 0xFF

			// Noise in the other half must not matter.
			cmdWord := pair<<16 | 0x5AC3
			addrWord := 0x3C960000 | pair
			if CommandValid(cmdWord) != want {
				c.Fatalf("CommandValid(%08x) = %v, want %v", cmdWord, !want, want)
			}
			if AddressValid(addrWord) != want {
				c.Fatalf("AddressValid(%08x) = %v, want %v", addrWord, !want, want)
			}
		}
	}
}

func TestNECRawData(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		Code    uint32
		Address uint16
		Command uint8
	}{
		{0xBF40FF00, 0x0000, 0x40},
		{0xF708FB04, 0x0004, 0x08},
		{0xA9561234, 0x1234, 0x56},
		{0x00FF00FF, 0x00FF, 0xFF},
	}
	for _, data := range tests {
		name := fmt.Sprintf("Code:%08x Addr:%04x Cmd:%02x", data.Code, data.Address, data.Command)
		c.Run(name, func(c *qt.C) {
			valid, addr, cmd := SplitRawNECData(data.Code)
			c.Assert(valid, qt.IsTrue)
			c.Assert(addr, qt.Equals, data.Address)
			c.Assert(cmd, qt.Equals, data.Command)
			c.Assert(MakeRawNECData(data.Address, data.Command), qt.Equals, data.Code)
		})
	}

	valid, _, _ := SplitRawNECData(0x12345678)
	c.Assert(valid, qt.IsFalse)
}

// necEdges returns falling-edge times for one frame starting at t.
func necEdges(t uint32, word uint32) []uint32 {
	edges := []uint32{t}
	t += 13500
	edges = append(edges, t)
	for i := 0; i < 32; i++ {
		if word&(1<<i) != 0 {
			t += 2250
		} else {
			t += 1125
		}
		edges = append(edges, t)
	}
	return edges
}

func TestNECEdgeDecoder(t *testing.T) {
	c := qt.New(t)
	var d NECEdgeDecoder

	feed := func(edges []uint32) (words []uint32) {
		for _, e := range edges {
			if w, ok := d.FallingEdge(e); ok {
				words = append(words, w)
			}
		}
		return words
	}

	// The frame straddles the timer wrap.
	c.Assert(feed(necEdges(0xFFFFE000, 0xF708FB04)), qt.DeepEquals, []uint32{0xF708FB04})
	c.Assert(feed(necEdges(0x00100000, 0xBF40FF00)), qt.DeepEquals, []uint32{0xBF40FF00})

	// A glitch mid-frame drops it until the next leader.
	edges := necEdges(0x00200000, 0xA9561234)
	edges[10] = edges[9] + 300
	c.Assert(feed(edges), qt.HasLen, 0)
	c.Assert(feed(necEdges(0x00300000, 0xA9561234)), qt.DeepEquals, []uint32{0xA9561234})

	// Bits without a leader are ignored.
	d.Reset()
	c.Assert(feed(necEdges(0x00400000, 0xF708FB04)[1:]), qt.HasLen, 0)
}

func newIRHarness(c *qt.C, check DataCheck) (*IRReceiver, *SoftIR, *SoftIRQ) {
	irqc := NewSoftIRQ()
	periph := NewSoftIR(7, irqc)
	rx := NewIRReceiver(3, periph, irqc)
	c.Assert(rx.Init(22, IRControlNEC, check), qt.IsNil)
	c.Assert(periph.RxInterruptEnabled(), qt.IsTrue)
	return rx, periph, irqc
}

func TestIRReceiverPostsValidFrame(t *testing.T) {
	c := qt.New(t)
	rx, periph, _ := newIRHarness(c, DataCheckAll)

	code := MakeRawNECData(0x04, 0x08)
	c.Assert(periph.Receive(code, 32), qt.IsTrue)

	evt, ok := rx.Events().Poll()
	c.Assert(ok, qt.IsTrue)
	c.Assert(evt, qt.Equals, IREvent{OID: 3, Code: code, Bits: 32})
	c.Assert(rx.ReceivedData(), qt.Equals, code)
	c.Assert(rx.BitCount(), qt.Equals, uint8(32))

	// Posting leaves reception off until the consumer re-arms it.
	c.Assert(periph.RxInterruptEnabled(), qt.IsFalse)
	c.Assert(periph.Receive(code, 32), qt.IsFalse)
	rx.EnableRx()
	c.Assert(periph.Receive(code, 32), qt.IsTrue)
	_, ok = rx.Events().Poll()
	c.Assert(ok, qt.IsTrue)

	valid, addr, cmd := evt.NEC()
	c.Assert(valid, qt.IsTrue)
	c.Assert(addr, qt.Equals, uint16(0x04))
	c.Assert(cmd, qt.Equals, byte(0x08))
}

func TestIRReceiverDropsBadChecksum(t *testing.T) {
	c := qt.New(t)

	goodAddrBadCmd := uint32(0x1234FB04)
	goodCmdBadAddr := uint32(0xF7081234)

	tests := []struct {
		name   string
		check  DataCheck
		word   uint32
		posted bool
	}{
		{"command check rejects", DataCheckCommand, goodAddrBadCmd, false},
		{"command check ignores address", DataCheckCommand, goodCmdBadAddr, true},
		{"address check rejects", DataCheckAddress, goodCmdBadAddr, false},
		{"address check ignores command", DataCheckAddress, goodAddrBadCmd, true},
		{"both checks", DataCheckAll, goodAddrBadCmd, false},
		{"no checks", DataCheckNone, 0xDEADBEEF, true},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			rx, periph, _ := newIRHarness(c, tt.check)
			c.Assert(periph.Receive(tt.word, 32), qt.IsTrue)

			_, ok := rx.Events().Poll()
			c.Assert(ok, qt.Equals, tt.posted)
			// A dropped frame re-arms reception; a posted one does not.
			c.Assert(periph.RxInterruptEnabled(), qt.Equals, !tt.posted)
			if tt.posted {
				c.Assert(rx.Rejected(), qt.Equals, uint32(0))
			} else {
				c.Assert(rx.Rejected(), qt.Equals, uint32(1))
			}
		})
	}
}

func TestIRReceiverZeroWordBypassesChecks(t *testing.T) {
	c := qt.New(t)
	rx, periph, _ := newIRHarness(c, DataCheckAll)

	c.Assert(periph.Receive(0, 0), qt.IsTrue)

	evt, ok := rx.Events().Poll()
	c.Assert(ok, qt.IsTrue)
	c.Assert(evt.Code, qt.Equals, uint32(0))
	c.Assert(rx.Rejected(), qt.Equals, uint32(0))
	c.Assert(periph.RxInterruptEnabled(), qt.IsFalse)
}

func TestIRReceiverSetDataCheck(t *testing.T) {
	c := qt.New(t)
	rx, periph, _ := newIRHarness(c, DataCheckNone)

	bad := uint32(0x11223344)
	c.Assert(periph.Receive(bad, 32), qt.IsTrue)
	_, ok := rx.Events().Poll()
	c.Assert(ok, qt.IsTrue)

	rx.SetDataCheck(DataCheckCommand)
	c.Assert(rx.DataCheck(), qt.Equals, DataCheckCommand)
	rx.EnableRx()
	c.Assert(periph.Receive(bad, 32), qt.IsTrue)
	_, ok = rx.Events().Poll()
	c.Assert(ok, qt.IsFalse)
}

func TestIRReceiverLostContext(t *testing.T) {
	c := qt.New(t)
	rx, periph, irqc := newIRHarness(c, DataCheckNone)

	irqc.Register(periph.IRQ(), rx.handleRx, nil)
	c.Assert(periph.Receive(0xAABBCCDD, 32), qt.IsTrue)

	_, ok := rx.Events().Poll()
	c.Assert(ok, qt.IsFalse)
	// The handler bailed out before touching the peripheral.
	c.Assert(periph.RxInterruptEnabled(), qt.IsTrue)
}

func TestIRReceiverQueueOverflow(t *testing.T) {
	c := qt.New(t)
	rx, periph, _ := newIRHarness(c, DataCheckNone)

	for i := 0; i < IREventDepth+2; i++ {
		c.Assert(periph.Receive(uint32(i+1), 32), qt.IsTrue)
		rx.EnableRx()
	}
	c.Assert(rx.Events().Dropped(), qt.Equals, uint32(2))

	first, ok := rx.Events().Poll()
	c.Assert(ok, qt.IsTrue)
	c.Assert(first.Code, qt.Equals, uint32(1))
}

func TestIRReceiverWithoutPeripheral(t *testing.T) {
	c := qt.New(t)
	rx := NewIRReceiver(0, nil, NewSoftIRQ())
	c.Assert(rx.Init(1, IRControlNEC, DataCheckNone), qt.Equals, ErrNoIRPeripheral)
}
