package core

import "sync"

// SoftIRQ is an interrupt controller whose sources are raised by Fire.
type SoftIRQ struct {
	mu      sync.Mutex
	entries map[IRQ]*softIRQ
}

type softIRQ struct {
	handler IRQHandler
	ctx     any
	enabled bool
}

func NewSoftIRQ() *SoftIRQ {
	return &SoftIRQ{entries: make(map[IRQ]*softIRQ)}
}

func (c *SoftIRQ) Register(irq IRQ, handler IRQHandler, ctx any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[irq]
	if !ok {
		e = &softIRQ{}
		c.entries[irq] = e
	}
	e.handler = handler
	e.ctx = ctx
}

func (c *SoftIRQ) Context(irq IRQ) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[irq]
	if !ok || e.ctx == nil {
		return nil, false
	}
	return e.ctx, true
}

func (c *SoftIRQ) Enable(irq IRQ)  { c.setEnabled(irq, true) }
func (c *SoftIRQ) Disable(irq IRQ) { c.setEnabled(irq, false) }

func (c *SoftIRQ) setEnabled(irq IRQ, on bool) {
	c.mu.Lock()
	if e, ok := c.entries[irq]; ok {
		e.enabled = on
	}
	c.mu.Unlock()
}

// Fire runs the handler for irq on the calling goroutine and reports
// whether it ran.
func (c *SoftIRQ) Fire(irq IRQ) bool {
	c.mu.Lock()
	e, ok := c.entries[irq]
	var h IRQHandler
	if ok && e.enabled {
		h = e.handler
	}
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(irq)
	return true
}
