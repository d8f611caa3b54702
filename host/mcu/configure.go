package mcu

import (
	"context"
	"hash/crc32"
	"strings"

	"go.uber.org/multierr"

	"ledwire/config"
)

// Configure brings the MCU to cfg. An MCU that already reports the same
// configuration CRC is left untouched.
func (m *MCU) Configure(ctx context.Context, cfg *config.BoardConfig) error {
	cmds, err := m.configCommands(cfg)
	if err != nil {
		return err
	}
	crc := configCRC(cmds)

	state, err := m.Query(ctx, "get_config", nil, "config", nil)
	if err != nil {
		return err
	}
	if state.Uint("is_config") == 1 && state.Uint("crc") == crc && state.Uint("is_shutdown") == 0 {
		m.log.Infow("mcu already configured", "crc", crc)
		return nil
	}

	if err := m.Send(ctx, "config_reset"); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err = m.Send(ctx, cmd.name, cmd.args...); err != nil {
			// Leave nothing half configured
			return multierr.Append(err, m.Send(ctx, "config_reset"))
		}
	}
	if err := m.Send(ctx, "finalize_config", crc); err != nil {
		return err
	}
	m.log.Infow("mcu configured", "crc", crc, "commands", len(cmds))
	return nil
}

func (m *MCU) configCommands(cfg *config.BoardConfig) ([]command, error) {
	oids := cfg.Strip.OID
	if cfg.IR.Enabled && cfg.IR.OID > oids {
		oids = cfg.IR.OID
	}
	strip, err := m.stripCommand(&cfg.Strip)
	if err != nil {
		return nil, err
	}
	cmds := []command{{"allocate_oids", []any{oids + 1}}, strip}
	if cfg.IR.Enabled {
		cmds = append(cmds, irCommand(&cfg.IR))
	}
	return cmds, nil
}

func configCRC(cmds []command) uint32 {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return crc32.ChecksumIEEE([]byte(b.String()))
}
