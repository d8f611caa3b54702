//go:build rp2040

package main

import "machine"

// InitUSB configures the USB CDC port the host talks to.
func InitUSB() {
	// Serial is USB CDC on the Pico; the runtime sets the descriptors.
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting to be read
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data and returns how much was accepted
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
