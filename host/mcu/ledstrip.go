package mcu

import (
	"context"
	"errors"
	"fmt"

	"ledwire/config"
	"ledwire/nrz"
)

// maxUpdateData is the color payload carried by one ledstrip_update
const maxUpdateData = 48

var ErrTransmitFailed = errors.New("mcu: strip transmit failed")

// command is one config command with its arguments, in format order.
type command struct {
	name string
	args []any
}

func (c command) String() string {
	return fmt.Sprint(c.name, c.args)
}

func (m *MCU) stripCommand(s *config.StripConfig) (command, error) {
	dict := m.Dictionary()
	if dict == nil {
		return command{}, ErrNoDictionary
	}
	chip, ok := dict.Enum("chip", s.ChipType().String())
	if !ok {
		return command{}, fmt.Errorf("mcu: firmware does not support %s", s.ChipType())
	}
	return command{"config_ledstrip", []any{
		s.OID, s.Bus, uint8(chip), uint8(s.SPIMode()), s.RateHz(), s.DMAChannel, s.Pixels,
	}}, nil
}

// ConfigureStrip sends config_ledstrip for s.
func (m *MCU) ConfigureStrip(ctx context.Context, s *config.StripConfig) error {
	cmd, err := m.stripCommand(s)
	if err != nil {
		return err
	}
	return m.Send(ctx, cmd.name, cmd.args...)
}

func matchOID(oid uint8) func(Response) bool {
	return func(r Response) bool { return r.Uint("oid") == uint32(oid) }
}

// SendPixels stages pixels on the MCU in ledstrip_update chunks, then
// sends the frame and waits for its result.
func (m *MCU) SendPixels(ctx context.Context, oid uint8, pixels []uint32) error {
	frame := make([]byte, 0, len(pixels)*nrz.PixelBytes)
	for _, p := range pixels {
		frame = append(frame, byte(p>>16), byte(p>>8), byte(p))
	}
	if len(frame) > 0xFFFF {
		return fmt.Errorf("mcu: frame of %d pixels too long", len(pixels))
	}

	for pos := 0; pos < len(frame); pos += maxUpdateData {
		end := min(pos+maxUpdateData, len(frame))
		if err := m.Send(ctx, "ledstrip_update", oid, uint16(pos), frame[pos:end]); err != nil {
			return err
		}
	}

	resp, err := m.Query(ctx, "ledstrip_send", []any{oid}, "ledstrip_result", matchOID(oid))
	if err != nil {
		return err
	}
	if resp.Uint("success") == 0 {
		return ErrTransmitFailed
	}
	m.log.Debugw("frame sent", "oid", oid, "pixels", len(pixels))
	return nil
}
