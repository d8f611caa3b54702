//go:build linux

package main

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"ledwire/core"
	"ledwire/nrz"
)

var errDisabled = errors.New("spi: bus disabled")

// txConn is the part of a periph connection the bus writes through.
type txConn interface {
	Tx(w, r []byte) error
}

type connectFunc func(f physic.Frequency, mode spi.Mode, bits int) (txConn, error)

// minTxSize is the largest block a strip hands the bus: a full chunk plus
// the longest reset padding. A split block leaves a gap on the wire long
// enough to latch WS2812B, so the port must take it in one transfer.
func minTxSize() int {
	reset := 0
	for _, chip := range []nrz.Chip{nrz.WS2812B, nrz.UCS1903} {
		if chip.ResetBytes() > reset {
			reset = chip.ResetBytes()
		}
	}
	return core.ChunkCapacity + reset
}

// spidevBus is a core.SPIBus on a Linux spidev port. The kernel caps each
// transfer at spidev's bufsiz (4096 by default), which is too small for a
// strip block: load spidev with bufsiz=8192 or more.
type spidevBus struct {
	mu      sync.Mutex
	name    string
	connect connectFunc
	conn    txConn
	cfg     core.SPIConfig
	maxTx   int
	enabled bool
}

// openSpidev opens a port by periph name, such as "SPI0.0" or "/dev/spidev0.0".
func openSpidev(name string) (*spidevBus, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("spi: open %s: %w", name, err)
	}
	return newSpidevBus(name, func(f physic.Frequency, mode spi.Mode, bits int) (txConn, error) {
		return port.Connect(f, mode, bits)
	}), nil
}

func newSpidevBus(name string, connect connectFunc) *spidevBus {
	return &spidevBus{name: name, connect: connect}
}

// Configure connects on first use. A port connects once, so later calls
// must ask for the same settings.
func (b *spidevBus) Configure(cfg core.SPIConfig) error {
	if cfg.Role != core.SPIMaster {
		return errors.New("spi: spidev is master only")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		if cfg.Mode != b.cfg.Mode || cfg.Rate != b.cfg.Rate {
			return fmt.Errorf("spi: %s already connected at mode %d %d Hz", b.name, b.cfg.Mode, b.cfg.Rate)
		}
		return nil
	}
	c, err := b.connect(physic.Frequency(cfg.Rate)*physic.Hertz, spi.Mode(cfg.Mode), core.SPIFrameBits)
	if err != nil {
		return fmt.Errorf("spi: connect %s: %w", b.name, err)
	}
	maxTx := 0
	if l, ok := c.(conn.Limits); ok {
		maxTx = l.MaxTxSize()
	}
	if maxTx > 0 && maxTx < minTxSize() {
		return fmt.Errorf("spi: %s transfers limited to %d bytes, need %d (raise spidev bufsiz)", b.name, maxTx, minTxSize())
	}
	b.conn, b.cfg, b.maxTx = c, cfg, maxTx
	return nil
}

func (b *spidevBus) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// Tx writes w. The strip never reads, so r is ignored.
func (b *spidevBus) Tx(w, r []byte) error {
	b.mu.Lock()
	c, enabled, max := b.conn, b.enabled, b.maxTx
	b.mu.Unlock()
	if !enabled || c == nil {
		return errDisabled
	}
	for len(w) > 0 {
		n := len(w)
		if max > 0 && n > max {
			n = max
		}
		if err := c.Tx(w[:n], nil); err != nil {
			return err
		}
		w = w[n:]
	}
	return nil
}

func (b *spidevBus) Transfer(c byte) (byte, error) {
	return 0, b.Tx([]byte{c}, nil)
}
