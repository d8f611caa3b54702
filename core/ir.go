package core

import (
	"errors"
	"sync/atomic"
)

// DataCheck selects which NEC checksums a frame must pass.
type DataCheck uint8

const (
	DataCheckNone    DataCheck = 0
	DataCheckCommand DataCheck = 1 << 0
	DataCheckAddress DataCheck = 1 << 1
	DataCheckAll               = DataCheckCommand | DataCheckAddress
)

// IREventDepth is the number of frames buffered for the consumer.
const IREventDepth = 8

var ErrNoIRPeripheral = errors.New("ir: no receiver on this board")

// IREvent is one frame handed to the consumer. A zero Code means the
// peripheral fired without a usable signal.
type IREvent struct {
	OID  uint8
	Code uint32
	Bits uint8
}

// NEC decodes the event as an NEC frame.
func (e IREvent) NEC() (valid bool, address uint16, command byte) {
	return SplitRawNECData(e.Code)
}

// IRReceiver validates frames from an IR peripheral in its interrupt
// handler and posts the accepted ones to a queue. After posting, the
// receive interrupt stays off until EnableRx.
type IRReceiver struct {
	oid    uint8
	periph IRPeripheral
	irqc   IRQController
	check  atomic.Uint32
	events *EventQueue[IREvent]

	rejected atomic.Uint32
}

// NewIRReceiver binds a receiver to its peripheral and interrupt controller.
func NewIRReceiver(oid uint8, periph IRPeripheral, irqc IRQController) *IRReceiver {
	return &IRReceiver{
		oid:    oid,
		periph: periph,
		irqc:   irqc,
		events: NewEventQueue[IREvent](IREventDepth),
	}
}

// Init configures the peripheral, installs the interrupt handler with this
// receiver as its context and enables reception.
func (r *IRReceiver) Init(pin GPIOPin, control IRControl, check DataCheck) error {
	if r.periph == nil {
		return ErrNoIRPeripheral
	}
	r.SetDataCheck(check)
	if err := r.periph.Configure(pin, control); err != nil {
		return err
	}
	irq := r.periph.IRQ()
	r.irqc.Register(irq, r.handleRx, r)
	r.irqc.Enable(irq)
	r.periph.SetRxInterrupt(true)
	return nil
}

// SetDataCheck replaces the checksum requirements. The handler reads the
// mask atomically, so it may be called while reception is live.
func (r *IRReceiver) SetDataCheck(check DataCheck) {
	r.check.Store(uint32(check))
}

// DataCheck returns the active checksum requirements.
func (r *IRReceiver) DataCheck() DataCheck {
	return DataCheck(r.check.Load())
}

// ReceivedData returns the raw word of the last frame.
func (r *IRReceiver) ReceivedData() uint32 {
	return r.periph.ReceivedData()
}

// BitCount returns the bit length of the last frame.
func (r *IRReceiver) BitCount() uint8 {
	return r.periph.BitCount()
}

// EnableRx re-arms the receive interrupt after a posted frame.
func (r *IRReceiver) EnableRx() {
	r.periph.SetRxInterrupt(true)
}

// Events returns the queue accepted frames are posted to.
func (r *IRReceiver) Events() *EventQueue[IREvent] {
	return r.events
}

// Rejected returns how many frames failed their checksum.
func (r *IRReceiver) Rejected() uint32 {
	return r.rejected.Load()
}

// handleRx is the receive interrupt handler.
func (r *IRReceiver) handleRx(irq IRQ) {
	v, ok := r.irqc.Context(irq)
	rx, _ := v.(*IRReceiver)
	if !ok || rx == nil {
		RecordEvent(EvtLostContext, r.oid, uint32(irq), 0)
		DebugAsync("[ir] no receiver for irq " + itoa(int(irq)))
		return
	}

	rx.periph.SetRxInterrupt(false)
	word := rx.periph.ReceivedData()
	bits := rx.periph.BitCount()

	if word != 0 && !rx.passes(word) {
		rx.rejected.Add(1)
		RecordEvent(EvtIRReject, rx.oid, word, uint32(bits))
		rx.periph.SetRxInterrupt(true)
		return
	}

	RecordEvent(EvtIRFrame, rx.oid, word, uint32(bits))
	rx.events.Post(IREvent{OID: rx.oid, Code: word, Bits: bits})
}

func (r *IRReceiver) passes(word uint32) bool {
	check := DataCheck(r.check.Load())
	if check&DataCheckCommand != 0 && !CommandValid(word) {
		return false
	}
	if check&DataCheckAddress != 0 && !AddressValid(word) {
		return false
	}
	return true
}

// Close stops reception and detaches the interrupt handler.
func (r *IRReceiver) Close() {
	if r.periph == nil {
		return
	}
	r.periph.SetRxInterrupt(false)
	irq := r.periph.IRQ()
	r.irqc.Disable(irq)
	r.irqc.Register(irq, nil, nil)
}
