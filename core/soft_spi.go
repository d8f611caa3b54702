package core

import (
	"errors"
	"sync"
)

// RecordingBus is an SPIBus that keeps every byte written to it.
type RecordingBus struct {
	mu      sync.Mutex
	cfg     SPIConfig
	enabled bool
	data    []byte
	writes  int
}

func NewRecordingBus() *RecordingBus {
	return &RecordingBus{}
}

func (b *RecordingBus) Configure(cfg SPIConfig) error {
	if cfg.Mode > 3 {
		return errors.New("spi: mode out of range")
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	return nil
}

func (b *RecordingBus) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

func (b *RecordingBus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return errors.New("spi: bus disabled")
	}
	b.data = append(b.data, w...)
	b.writes++
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (b *RecordingBus) Transfer(c byte) (byte, error) {
	return 0, b.Tx([]byte{c}, nil)
}

// Bytes returns a copy of everything written since the last Reset.
func (b *RecordingBus) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Writes returns how many Tx calls carried data.
func (b *RecordingBus) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Config returns the last applied configuration.
func (b *RecordingBus) Config() SPIConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Enabled reports the peripheral gate.
func (b *RecordingBus) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *RecordingBus) Reset() {
	b.mu.Lock()
	b.data = nil
	b.writes = 0
	b.mu.Unlock()
}

// NewSoftBoard wires a board entirely from the software peripherals: one
// recording bus, the goroutine DMA engine, an unlimited allocator and an
// IR receiver on irq 1.
func NewSoftBoard() (*Board, *RecordingBus, *SoftIR) {
	bus := NewRecordingBus()
	irqc := NewSoftIRQ()
	ir := NewSoftIR(1, irqc)
	b := &Board{
		Bus:    func(SPIBusID) (SPIBus, error) { return bus, nil },
		DMA:    NewSoftDMA(bus),
		Memory: NewSoftMemory(0),
		IRQ:    irqc,
		IR:     ir,
	}
	return b, bus, ir
}
