package core

import "sync"

// SoftIR is an IR peripheral whose received frames are injected by Receive.
type SoftIR struct {
	mu      sync.Mutex
	irq     IRQ
	ctrl    *SoftIRQ
	pin     GPIOPin
	control IRControl
	word    uint32
	bits    uint8
	rxInt   bool
}

// NewSoftIR returns a receiver raising irq on ctrl.
func NewSoftIR(irq IRQ, ctrl *SoftIRQ) *SoftIR {
	return &SoftIR{irq: irq, ctrl: ctrl}
}

func (p *SoftIR) Configure(pin GPIOPin, control IRControl) error {
	p.mu.Lock()
	p.pin, p.control = pin, control
	p.mu.Unlock()
	return nil
}

func (p *SoftIR) IRQ() IRQ { return p.irq }

func (p *SoftIR) ReceivedData() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.word
}

func (p *SoftIR) BitCount() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bits
}

func (p *SoftIR) SetRxInterrupt(enabled bool) {
	p.mu.Lock()
	p.rxInt = enabled
	p.mu.Unlock()
}

// RxInterruptEnabled reports the receive interrupt gate.
func (p *SoftIR) RxInterruptEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxInt
}

// Receive latches a frame and raises the interrupt if it is enabled. It
// reports whether a handler ran.
func (p *SoftIR) Receive(word uint32, bits uint8) bool {
	p.mu.Lock()
	p.word, p.bits = word, bits
	on := p.rxInt
	p.mu.Unlock()
	if !on {
		return false
	}
	return p.ctrl.Fire(p.irq)
}
