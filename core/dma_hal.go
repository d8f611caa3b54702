package core

import "tinygo.org/x/drivers"

// DMAChannel is a DMA controller channel number
type DMAChannel uint8

// DMADirection is the transfer direction of a channel
type DMADirection uint8

const (
	DMAMemToPeriph DMADirection = iota
	DMAPeriphToMem
	DMAMemToMem
)

// DMAConfig describes a channel's static routing.
type DMAConfig struct {
	Direction  DMADirection
	SrcRequest uint8   // peripheral request line feeding the channel
	DstRequest uint8   // peripheral request line draining the channel
	DstAddr    uintptr // peripheral FIFO register, zero when the engine knows its sink

	// Sink receives the blocks on engines that move the data in software.
	// Nil selects the engine's default.
	Sink drivers.SPI
}

// DMADescriptor is one linked-list item: a source block and the item the
// engine loads after it. A nil Next terminates the chain.
type DMADescriptor struct {
	Src  []byte
	Dst  uintptr
	Next *DMADescriptor
}

// DMAHandler runs in interrupt context when a channel finishes a descriptor.
type DMAHandler func(ch DMAChannel)

// DMAController is the abstract DMA engine that core code uses.
// Platform-specific implementations handle actual hardware control.
type DMAController interface {
	// Configure sets a channel's direction and request lines
	Configure(ch DMAChannel, cfg DMAConfig) error

	// Attach registers the completion handler and the session context
	// that the handler recovers through Context.
	Attach(ch DMAChannel, handler DMAHandler, ctx any)

	// Context returns the session attached to a channel
	Context(ch DMAChannel) (any, bool)

	// Start loads head and enables the channel
	Start(ch DMAChannel, head *DMADescriptor) error

	// Stop disables the channel. No handler runs for it after Stop returns.
	Stop(ch DMAChannel)

	// ClearInterrupt acknowledges a pending completion interrupt
	ClearInterrupt(ch DMAChannel)

	// MaskInterrupt masks or unmasks the channel's completion interrupt
	MaskInterrupt(ch DMAChannel, masked bool)
}

// DMAMemory allocates memory reachable by the DMA engine.
type DMAMemory interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)

	// AllocDescriptors returns n zeroed linked-list items
	AllocDescriptors(n int) ([]DMADescriptor, error)
	FreeDescriptors(d []DMADescriptor)
}
