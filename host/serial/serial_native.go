//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tarm/serial"
)

// NativePort wraps a tarm/serial port
type NativePort struct {
	port   *serial.Port
	cfg    Config
	closed atomic.Bool
}

// Open opens a native serial port
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return &NativePort{port: port, cfg: *cfg}, nil
}

// Read blocks until data arrives. A poll that times out shows up as a
// zero-length read and is retried.
func (p *NativePort) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if n == 0 && (err == nil || err == io.EOF) && !p.closed.Load() {
			continue
		}
		if p.closed.Load() && n == 0 {
			return 0, io.EOF
		}
		return n, err
	}
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Device returns the path the port was opened on
func (p *NativePort) Device() string {
	return p.cfg.Device
}
