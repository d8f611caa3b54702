package core

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

var (
	ErrDMABusy = errors.New("dma: channel busy")
	errNoSink  = errors.New("dma: channel has no sink")
)

// SoftDMA is a DMA engine run by a goroutine. It walks a descriptor chain,
// writes each block to an SPI sink and raises the channel's completion
// handler after every block. Targets without a usable DMA linked-list mode
// use it, and so do the tests.
type SoftDMA struct {
	mu    sync.Mutex
	sink  drivers.SPI
	chans map[DMAChannel]*softChannel
}

type softChannel struct {
	cfg        DMAConfig
	handler    DMAHandler
	ctx        any
	hasCtx     bool
	masked     bool
	pending    bool
	stallAfter int
	blocks     int
	stop       chan struct{}
	done       chan struct{}
}

// NewSoftDMA returns an engine that drains channels into sink unless
// their DMAConfig names their own.
func NewSoftDMA(sink drivers.SPI) *SoftDMA {
	return &SoftDMA{
		sink:  sink,
		chans: make(map[DMAChannel]*softChannel),
	}
}

// channel must be called with d.mu held
func (d *SoftDMA) channel(ch DMAChannel) *softChannel {
	c, ok := d.chans[ch]
	if !ok {
		c = &softChannel{masked: true, stallAfter: -1}
		d.chans[ch] = c
	}
	return c
}

func (d *SoftDMA) Configure(ch DMAChannel, cfg DMAConfig) error {
	if cfg.Direction != DMAMemToPeriph {
		return errors.New("dma: only memory to peripheral transfers are supported")
	}
	d.mu.Lock()
	d.channel(ch).cfg = cfg
	d.mu.Unlock()
	return nil
}

func (d *SoftDMA) Attach(ch DMAChannel, handler DMAHandler, ctx any) {
	d.mu.Lock()
	c := d.channel(ch)
	c.handler = handler
	c.ctx = ctx
	c.hasCtx = ctx != nil
	d.mu.Unlock()
}

func (d *SoftDMA) Context(ch DMAChannel) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chans[ch]
	if !ok || !c.hasCtx {
		return nil, false
	}
	return c.ctx, true
}

// ForgetContext drops the session bound to a channel while keeping its
// handler, which is what a corrupted context table looks like.
func (d *SoftDMA) ForgetContext(ch DMAChannel) {
	d.mu.Lock()
	c := d.channel(ch)
	c.ctx = nil
	c.hasCtx = false
	d.mu.Unlock()
}

// StallAfter makes the channel hang after n blocks until it is stopped.
// A negative n disables the stall.
func (d *SoftDMA) StallAfter(ch DMAChannel, n int) {
	d.mu.Lock()
	d.channel(ch).stallAfter = n
	d.mu.Unlock()
}

func (d *SoftDMA) Start(ch DMAChannel, head *DMADescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.channel(ch)
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return ErrDMABusy
		}
	}
	sink := c.cfg.Sink
	if sink == nil {
		sink = d.sink
	}
	if sink == nil {
		return errNoSink
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.blocks = 0
	go d.run(ch, c, sink, head, c.stop, c.done, c.stallAfter)
	return nil
}

func (d *SoftDMA) run(ch DMAChannel, c *softChannel, sink drivers.SPI, head *DMADescriptor, stop, done chan struct{}, stallAfter int) {
	defer close(done)

	var rx []byte
	for cur, n := head, 0; cur != nil; n++ {
		if n == stallAfter {
			<-stop
			return
		}
		select {
		case <-stop:
			return
		default:
		}

		// The engine latches the link when it loads a descriptor.
		next := cur.Next
		if cap(rx) < len(cur.Src) {
			rx = make([]byte, len(cur.Src))
		}
		if err := sink.Tx(cur.Src, rx[:len(cur.Src)]); err != nil {
			DebugAsync("[dma] channel " + itoa(int(ch)) + " write failed: " + err.Error())
		}

		d.mu.Lock()
		c.blocks++
		c.pending = true
		handler, masked := c.handler, c.masked
		d.mu.Unlock()
		if handler != nil && !masked {
			handler(ch)
		}
		cur = next
	}
}

func (d *SoftDMA) Stop(ch DMAChannel) {
	d.mu.Lock()
	c := d.channel(ch)
	stop, done := c.stop, c.done
	c.stop = nil
	c.done = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (d *SoftDMA) ClearInterrupt(ch DMAChannel) {
	d.mu.Lock()
	d.channel(ch).pending = false
	d.mu.Unlock()
}

func (d *SoftDMA) MaskInterrupt(ch DMAChannel, masked bool) {
	d.mu.Lock()
	d.channel(ch).masked = masked
	d.mu.Unlock()
}

// Pending reports whether a completion interrupt is waiting to be cleared.
func (d *SoftDMA) Pending(ch DMAChannel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel(ch).pending
}

// Blocks returns how many descriptors the last run transferred.
func (d *SoftDMA) Blocks(ch DMAChannel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel(ch).blocks
}
