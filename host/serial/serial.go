// Package serial opens the link to the MCU.
package serial

import (
	"io"
	"time"
)

// Port is a byte stream to the MCU
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path, e.g. /dev/ttyACM0 or COM3
	Device string

	// USB CDC ignores it, UARTs do not
	Baud int

	// ReadTimeout bounds one poll of the port; Read itself keeps waiting
	// until data arrives or the port is closed
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings Klipper-style MCUs expect
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
