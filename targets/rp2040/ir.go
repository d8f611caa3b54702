//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync/atomic"

	"ledwire/core"
)

const irIRQ core.IRQ = 1

// gpioIR decodes NEC from a demodulator wired to a plain GPIO. The edge
// interrupt only collects bits; Poll delivers finished words to the
// receiver from the main loop.
type gpioIR struct {
	*core.SoftIR
	dec   core.NECEdgeDecoder
	word  atomic.Uint32
	ready atomic.Bool
}

func newGPIOIR(irqc *core.SoftIRQ) *gpioIR {
	return &gpioIR{SoftIR: core.NewSoftIR(irIRQ, irqc)}
}

func (g *gpioIR) Configure(pin core.GPIOPin, control core.IRControl) error {
	if control != core.IRControlNEC {
		return errors.New("ir: only NEC is decoded on GPIO")
	}
	if err := g.SoftIR.Configure(pin, control); err != nil {
		return err
	}
	g.dec.Reset()
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return p.SetInterrupt(machine.PinFalling, g.edge)
}

func (g *gpioIR) edge(machine.Pin) {
	if word, ok := g.dec.FallingEdge(GetHardwareTime()); ok {
		g.word.Store(word)
		g.ready.Store(true)
	}
}

// Poll hands a completed frame to the receiver.
func (g *gpioIR) Poll() {
	if g.ready.Swap(false) {
		g.Receive(g.word.Load(), 32)
	}
}
