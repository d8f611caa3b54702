//go:build tinygo

package core

import "runtime/interrupt"

// critical holds the interrupt mask saved when a critical section began.
type critical struct {
	state interrupt.State
}

// enterCritical masks interrupts until exit is called.
func enterCritical() critical {
	return critical{state: interrupt.Disable()}
}

func (c critical) exit() {
	interrupt.Restore(c.state)
}
