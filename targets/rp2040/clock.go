//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"ledwire/core"
)

// TIMERAWL is the unlatched low word of the RP2040's free-running 1MHz
// timer. core's clock counts in the same units, so it is fed directly.
const timerRAWLAddr = 0x40054000 + 0x0C

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRAWLAddr)))

// GetHardwareTime returns the timer's low 32 bits
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime feeds the hardware timer into core's clock. Called at
// least once per wrap period; core extends it to 64 bits.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
