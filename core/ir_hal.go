package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// IRControl selects the decoder the IR peripheral runs
type IRControl uint8

const (
	IRControlNEC IRControl = iota
	IRControlRC5
)

// IRPeripheral is the abstract infrared receiver block.
type IRPeripheral interface {
	// Configure routes pin to the receiver and selects the decoder
	Configure(pin GPIOPin, control IRControl) error

	// IRQ returns the interrupt the peripheral raises on a received frame
	IRQ() IRQ

	// ReceivedData returns the last decoded word
	ReceivedData() uint32

	// BitCount returns how many bits the last frame carried
	BitCount() uint8

	// SetRxInterrupt enables or disables the receive interrupt
	SetRxInterrupt(enabled bool)
}
