// Package config loads the board description shared by the host tool and
// the Linux target. Files are JSON5, so comments and trailing commas are
// allowed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"periph.io/x/conn/v3/physic"

	"ledwire/core"
	"ledwire/nrz"
)

// Defaults applied to fields left empty
const (
	DefaultChip       = "ws2812b"
	DefaultSPIMode    = 1
	DefaultRate       = "4MHz"
	DefaultDMAChannel = 0
	DefaultTimeout    = "1s"
	DefaultIRControl  = "nec"
	DefaultDataCheck  = "all"
	DefaultBaud       = 250000
)

var ErrNoPixels = errors.New("config: strip needs at least one pixel")

// SerialConfig names the port the host talks to the MCU on.
type SerialConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// StripConfig describes the LED strip. Rate and Timeout are strings such
// as "4MHz" and "1s".
type StripConfig struct {
	OID        uint8  `json:"oid"`
	Chip       string `json:"chip"`
	Bus        uint8  `json:"bus"`
	Device     string `json:"device"` // spidev path on Linux
	Mode       *uint8 `json:"mode"`
	Rate       string `json:"rate"`
	DMAChannel uint8  `json:"dma_channel"`
	Pixels     uint16 `json:"pixels"`
	Timeout    string `json:"timeout"`

	chip    nrz.Chip
	rate    physic.Frequency
	timeout time.Duration
}

// IRConfig describes the infrared receiver. It is ignored unless Enabled.
type IRConfig struct {
	Enabled   bool   `json:"enabled"`
	OID       uint8  `json:"oid"`
	Pin       uint32 `json:"pin"`
	Control   string `json:"control"`
	DataCheck string `json:"data_check"`

	control core.IRControl
	check   core.DataCheck
}

// BoardConfig is the top-level configuration file.
type BoardConfig struct {
	Serial SerialConfig `json:"serial"`
	Strip  StripConfig  `json:"strip"`
	IR     IRConfig     `json:"ir"`
}

// LoadConfig parses a JSON5 document and applies defaults.
func LoadConfig(data []byte) (*BoardConfig, error) {
	var cfg BoardConfig
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfig(data)
}

// Default returns the configuration used when no file is given.
func Default() *BoardConfig {
	cfg := &BoardConfig{Strip: StripConfig{Pixels: 1}}
	if err := cfg.resolve(); err != nil {
		panic(err)
	}
	return cfg
}

func (c *BoardConfig) resolve() error {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaud
	}
	if err := c.Strip.resolve(); err != nil {
		return err
	}
	if c.IR.Enabled {
		return c.IR.resolve()
	}
	return nil
}

func (s *StripConfig) resolve() error {
	if s.Pixels == 0 {
		return ErrNoPixels
	}
	if s.Chip == "" {
		s.Chip = DefaultChip
	}
	if s.Mode == nil {
		m := uint8(DefaultSPIMode)
		s.Mode = &m
	}
	if *s.Mode > 3 {
		return fmt.Errorf("config: spi mode %d out of range", *s.Mode)
	}
	if s.Rate == "" {
		s.Rate = DefaultRate
	}
	if s.Timeout == "" {
		s.Timeout = DefaultTimeout
	}

	var err error
	if s.chip, err = nrz.ParseChip(s.Chip); err != nil {
		return fmt.Errorf("config: chip %q: %w", s.Chip, err)
	}
	if err := s.rate.Set(s.Rate); err != nil {
		return fmt.Errorf("config: rate %q: %w", s.Rate, err)
	}
	if s.rate <= 0 {
		return fmt.Errorf("config: rate %q must be positive", s.Rate)
	}
	if s.timeout, err = time.ParseDuration(s.Timeout); err != nil {
		return fmt.Errorf("config: timeout: %w", err)
	}
	return nil
}

func (r *IRConfig) resolve() error {
	if r.Control == "" {
		r.Control = DefaultIRControl
	}
	if r.DataCheck == "" {
		r.DataCheck = DefaultDataCheck
	}
	switch strings.ToLower(r.Control) {
	case "nec":
		r.control = core.IRControlNEC
	case "rc5":
		r.control = core.IRControlRC5
	default:
		return fmt.Errorf("config: unknown ir control %q", r.Control)
	}
	check, err := ParseDataCheck(r.DataCheck)
	if err != nil {
		return err
	}
	r.check = check
	return nil
}

// ParseDataCheck maps none, command, address or all to a check mask.
func ParseDataCheck(s string) (core.DataCheck, error) {
	switch strings.ToLower(s) {
	case "none":
		return core.DataCheckNone, nil
	case "command":
		return core.DataCheckCommand, nil
	case "address":
		return core.DataCheckAddress, nil
	case "all":
		return core.DataCheckAll, nil
	}
	return 0, fmt.Errorf("config: unknown data check %q", s)
}

// ChipType returns the parsed chip.
func (s *StripConfig) ChipType() nrz.Chip { return s.chip }

// Frequency returns the SPI clock.
func (s *StripConfig) Frequency() physic.Frequency { return s.rate }

// RateHz returns the SPI clock in hertz.
func (s *StripConfig) RateHz() uint32 { return uint32(s.rate / physic.Hertz) }

// SPIMode returns the clock polarity and phase.
func (s *StripConfig) SPIMode() core.SPIMode { return core.SPIMode(*s.Mode) }

// FrameTimeout returns the per-frame timeout.
func (s *StripConfig) FrameTimeout() time.Duration { return s.timeout }

// Core builds the strip configuration the driver takes.
func (s *StripConfig) Core() core.StripConfig {
	return core.StripConfig{
		OID:  s.OID,
		Chip: s.chip,
		SPI: core.SPIConfig{
			BusID: core.SPIBusID(s.Bus),
			Mode:  s.SPIMode(),
			Rate:  s.RateHz(),
			Role:  core.SPIMaster,
		},
		Channel: core.DMAChannel(s.DMAChannel),
		Timeout: s.timeout,
	}
}

// ControlType returns the parsed decoder selection.
func (r *IRConfig) ControlType() core.IRControl { return r.control }

// Check returns the parsed checksum mask.
func (r *IRConfig) Check() core.DataCheck { return r.check }
