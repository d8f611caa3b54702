package mcu

import (
	"context"

	"ledwire/config"
	"ledwire/core"
)

// IREvent is a frame reported by the MCU's receiver
type IREvent struct {
	OID  uint8
	Code uint32
	Bits uint8
}

// NEC decodes the frame as NEC.
func (e IREvent) NEC() (valid bool, address uint16, command byte) {
	return core.SplitRawNECData(e.Code)
}

func irCommand(r *config.IRConfig) command {
	return command{"config_ir", []any{r.OID, r.Pin, uint8(r.ControlType()), uint8(r.Check())}}
}

// ConfigureIR sends config_ir for r.
func (m *MCU) ConfigureIR(ctx context.Context, r *config.IRConfig) error {
	cmd := irCommand(r)
	return m.Send(ctx, cmd.name, cmd.args...)
}

// SetIRDataCheck changes which NEC checksums the receiver enforces.
func (m *MCU) SetIRDataCheck(ctx context.Context, oid uint8, check core.DataCheck) error {
	return m.Send(ctx, "ir_set_data_check", oid, uint8(check))
}

// EnableIR re-arms reception after an event.
func (m *MCU) EnableIR(ctx context.Context, oid uint8) error {
	return m.Send(ctx, "ir_enable_rx", oid)
}

// QueryIR reads the last word the receiver latched.
func (m *MCU) QueryIR(ctx context.Context, oid uint8) (IREvent, error) {
	resp, err := m.Query(ctx, "ir_query", []any{oid}, "ir_state", matchOID(oid))
	if err != nil {
		return IREvent{}, err
	}
	return IREvent{OID: oid, Code: resp.Uint("code"), Bits: uint8(resp.Uint("bits"))}, nil
}

// IREvents delivers ir_event reports. Events are dropped when nobody reads.
func (m *MCU) IREvents() <-chan IREvent {
	return m.irEvents
}
