//go:build !wasm

package serial

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Baud != 250000 {
		t.Errorf("Expected baud 250000, got %d", cfg.Baud)
	}
	if cfg.ReadTimeout != 100*time.Millisecond {
		t.Errorf("Expected 100ms read timeout, got %v", cfg.ReadTimeout)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	missing := filepath.Join(t.TempDir(), "no-such-tty")
	if _, err := Open(DefaultConfig(missing)); err == nil {
		t.Errorf("Expected error opening %s", missing)
	}
}
