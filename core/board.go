package core

// Board bundles the peripherals a target exposes to core code.
type Board struct {
	// Bus returns the SPI bus for a bus ID
	Bus    func(id SPIBusID) (SPIBus, error)
	DMA    DMAController
	Memory DMAMemory
	IRQ    IRQController
	IR     IRPeripheral // nil when the board has no receiver
}

// Global singleton used by core code.
var board *Board

// SetBoard is called by target-specific code to register its peripherals.
func SetBoard(b *Board) {
	board = b
}

// MustBoard returns the configured board or panics if missing.
func MustBoard() *Board {
	if board == nil {
		panic("board not configured")
	}
	return board
}
