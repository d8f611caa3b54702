package core

import "tinygo.org/x/drivers"

// SPIBusID identifies a hardware SPI bus configuration
type SPIBusID uint8

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIRole selects which end of the bus drives the clock.
type SPIRole uint8

const (
	SPIMaster SPIRole = iota
	SPISlave
)

// SPIConfig holds the configuration for an SPI bus
type SPIConfig struct {
	BusID SPIBusID // Hardware bus identifier
	Mode  SPIMode  // SPI mode (0-3)
	Rate  uint32   // Clock rate in Hz
	Role  SPIRole
	SCK   GPIOPin
	MOSI  GPIOPin
}

// Frame size is fixed: the encoders emit whole bytes.
const SPIFrameBits = 8

// SPIBus is one configured SPI peripheral used as the sink for DMA
// transfers. Tx and Transfer come from the tinygo drivers contract.
type SPIBus interface {
	drivers.SPI

	// Configure applies clock rate, polarity/phase and role.
	Configure(cfg SPIConfig) error

	// SetEnabled gates the peripheral. The strip enables it before each frame.
	SetEnabled(enabled bool)
}

// SPIClockDivider returns the divider that brings srcHz closest to rate
// without exceeding it. Peripherals with a plain integer prescaler use this.
func SPIClockDivider(srcHz, rate uint32) uint32 {
	if rate == 0 || rate >= srcHz {
		return 1
	}
	div := srcHz / rate
	if srcHz%rate != 0 {
		div++
	}
	return div
}
