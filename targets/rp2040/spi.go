//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"

	"ledwire/core"
)

// Hardware SPI bus definitions, matching Klipper's RP2040 bus names.
// Only SCK and MOSI matter: the strip never reads.
type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	name string
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, name: "spi0c"},
	3: {spi: machine.SPI0, sck: machine.GPIO22, mosi: machine.GPIO23, name: "spi0d"},
	5: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, name: "spi1a"},
	6: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, name: "spi1b"},
	7: {spi: machine.SPI1, sck: machine.GPIO26, mosi: machine.GPIO27, name: "spi1c"},
}

// pioBusID selects a PIO state machine instead of a hardware controller,
// leaving both PL022 blocks free.
const (
	pioBusID core.SPIBusID = 16
	pioSCK                 = machine.GPIO20
	pioMOSI                = machine.GPIO21
)

var (
	errBusID    = errors.New("spi: unknown bus")
	errDisabled = errors.New("spi: bus disabled")
)

// hwBus drives one of the PL022 controllers.
type hwBus struct {
	cfg     spiBusConfig
	enabled bool
}

func (b *hwBus) Configure(cfg core.SPIConfig) error {
	if cfg.Role != core.SPIMaster {
		return errors.New("spi: slave role not supported")
	}
	return b.cfg.spi.Configure(machine.SPIConfig{
		Frequency: cfg.Rate,
		SCK:       b.cfg.sck,
		SDO:       b.cfg.mosi,
		SDI:       machine.NoPin,
		Mode:      uint8(cfg.Mode),
		LSBFirst:  false,
	})
}

func (b *hwBus) SetEnabled(enabled bool) { b.enabled = enabled }

func (b *hwBus) Tx(w, r []byte) error {
	if !b.enabled {
		return errDisabled
	}
	return b.cfg.spi.Tx(w, r)
}

func (b *hwBus) Transfer(c byte) (byte, error) {
	if !b.enabled {
		return 0, errDisabled
	}
	return b.cfg.spi.Transfer(c)
}

// pioBus shifts bytes out of a PIO state machine on any pair of pins.
type pioBus struct {
	spi     *piolib.SPI
	cfg     core.SPIConfig
	enabled bool
	scratch []byte
}

func (b *pioBus) Configure(cfg core.SPIConfig) error {
	if cfg.Role != core.SPIMaster {
		return errors.New("spi: slave role not supported")
	}
	// The program stays loaded, so only the first configuration sticks.
	if b.spi != nil {
		if cfg.Mode != b.cfg.Mode || cfg.Rate != b.cfg.Rate {
			return errors.New("spi: pio bus already configured")
		}
		return nil
	}
	sm, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return err
	}
	b.cfg = cfg
	b.spi, err = piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: cfg.Rate,
		SCK:       pioSCK,
		SDO:       pioMOSI,
		SDI:       machine.NoPin,
		Mode:      uint8(cfg.Mode),
	})
	return err
}

func (b *pioBus) SetEnabled(enabled bool) { b.enabled = enabled }

// Tx needs a receive buffer as long as w.
func (b *pioBus) Tx(w, r []byte) error {
	if !b.enabled || b.spi == nil {
		return errDisabled
	}
	if len(r) != len(w) {
		if cap(b.scratch) < len(w) {
			b.scratch = make([]byte, len(w))
		}
		r = b.scratch[:len(w)]
	}
	return b.spi.Tx(w, r)
}

func (b *pioBus) Transfer(c byte) (byte, error) {
	if !b.enabled || b.spi == nil {
		return 0, errDisabled
	}
	return b.spi.Transfer(c)
}

// busRegistry hands out one instance per bus id. Each strip passes its own
// bus to the DMA engine as the channel sink.
type busRegistry struct {
	mu    sync.Mutex
	buses map[core.SPIBusID]core.SPIBus
}

func newBusRegistry() *busRegistry {
	return &busRegistry{buses: make(map[core.SPIBusID]core.SPIBus)}
}

// Open returns the bus for id, creating it on first use.
func (s *busRegistry) Open(id core.SPIBusID) (core.SPIBus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bus, ok := s.buses[id]
	if !ok {
		if id == pioBusID {
			bus = &pioBus{}
		} else if cfg, known := rp2040SPIBuses[id]; known {
			bus = &hwBus{cfg: cfg}
		} else {
			return nil, errBusID
		}
		s.buses[id] = bus
	}
	return bus, nil
}

// registerSPIBuses publishes the bus names to the host.
func registerSPIBuses() {
	names := make([]string, pioBusID+1)
	for i := range names {
		names[i] = "unused" + itoa(i)
	}
	for id, cfg := range rp2040SPIBuses {
		names[id] = cfg.name
	}
	names[pioBusID] = "pio0"
	core.RegisterEnumeration("spi_bus", names)
}
