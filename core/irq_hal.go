package core

// IRQ identifies an interrupt source
type IRQ uint16

// IRQHandler runs in interrupt context.
type IRQHandler func(irq IRQ)

// IRQController is the abstract interrupt controller that core code uses.
type IRQController interface {
	// Register installs handler for irq together with an opaque context
	Register(irq IRQ, handler IRQHandler, ctx any)

	// Context returns the context registered for irq
	Context(irq IRQ) (any, bool)

	Enable(irq IRQ)
	Disable(irq IRQ)
}
