package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ledwire/nrz"
)

// ChunkCapacity is the encoded payload one ping-pong buffer holds.
const ChunkCapacity = 4080

// DefaultStripTimeout bounds a frame when StripConfig.Timeout is zero.
const DefaultStripTimeout = time.Second

var (
	ErrNoMemory      = errors.New("ledstrip: out of DMA memory")
	ErrTimeout       = errors.New("ledstrip: DMA did not complete in time")
	ErrNotConfigured = errors.New("ledstrip: transport not configured")
	ErrClosed        = errors.New("ledstrip: strip closed")
)

// StripConfig describes one LED strip driven through an SPI bus.
type StripConfig struct {
	OID       uint8
	Chip      nrz.Chip
	SPI       SPIConfig
	Channel   DMAChannel
	TxRequest uint8         // DMA request line of the SPI transmit FIFO
	TxFIFO    uintptr       // SPI transmit FIFO register
	Timeout   time.Duration // per frame, DefaultStripTimeout when zero
	Clock     clock.Clock   // wall clock when nil
}

type bufferOwner uint8

const (
	ownerSoftware bufferOwner = iota
	ownerHardware
)

// chunk is one ping-pong buffer. Software may only write it while it owns it.
type chunk struct {
	buf   []byte
	owner bufferOwner
}

// StripState is a snapshot of the session counters.
type StripState struct {
	BufFlag    int
	DataIdx    int // color bytes encoded so far
	LeftSize   int // color bytes still to encode
	EndFlag    bool
	Interrupts int
	Frames     uint32
	Timeouts   uint32
}

// Strip streams pixel frames to a one-wire LED chain by feeding SPI from a
// pair of DMA buffers that are refilled from the completion interrupt.
type Strip struct {
	mu     sync.Mutex
	cfg    StripConfig
	bus    SPIBus
	dma    DMAController
	mem    DMAMemory
	clock  clock.Clock
	conv   *nrz.Converter
	chunks [2]chunk
	done   *Event

	configured bool
	closed     bool

	// Session state. The transmitting task owns it until the channel is
	// started; from then on only the completion handler touches it until
	// done is set or the channel is stopped.
	pixels   []uint32
	total    int
	dataIdx  int
	leftSize int
	endFlag  bool
	bufFlag  int
	lli      []DMADescriptor
	irqs     int

	frames   uint32
	timeouts uint32
}

// NewStrip allocates the ping-pong buffers and the completion event.
func NewStrip(cfg StripConfig, bus SPIBus, dma DMAController, mem DMAMemory) (*Strip, error) {
	if !cfg.Chip.Valid() {
		return nil, nrz.ErrUnknownChip
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStripTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	size := ChunkCapacity + cfg.Chip.ResetBytes()
	buf0, err := mem.Alloc(size)
	if err != nil {
		return nil, ErrNoMemory
	}
	buf1, err := mem.Alloc(size)
	if err != nil {
		mem.Free(buf0)
		return nil, ErrNoMemory
	}

	s := &Strip{
		cfg:   cfg,
		bus:   bus,
		dma:   dma,
		mem:   mem,
		clock: clk,
		conv:  nrz.NewConverter(cfg.Chip),
		done:  NewEvent(),
	}
	s.chunks[0].buf = buf0
	s.chunks[1].buf = buf1
	return s, nil
}

// Configure sets up the SPI peripheral and the DMA channel. It is done once
// before the first Transmit.
func (s *Strip) Configure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.bus.Configure(s.cfg.SPI); err != nil {
		return err
	}
	ch := s.cfg.Channel
	if owner, ok := s.dma.Context(ch); ok && owner != s {
		return ErrDMABusy
	}
	err := s.dma.Configure(ch, DMAConfig{
		Direction:  DMAMemToPeriph,
		DstRequest: s.cfg.TxRequest,
		DstAddr:    s.cfg.TxFIFO,
		Sink:       s.bus,
	})
	if err != nil {
		return err
	}
	s.dma.Attach(ch, s.dmaComplete, s)
	s.dma.MaskInterrupt(ch, false)
	s.configured = true
	return nil
}

// Transmit sends one frame and blocks until the DMA has drained it, the
// per-frame timeout expires, or ctx is done. Calls are serialized.
func (s *Strip) Transmit(ctx context.Context, pixels []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.configured {
		return ErrNotConfigured
	}
	if len(pixels) == 0 {
		return nil
	}

	ch := s.cfg.Channel
	s.dma.Stop(ch)
	s.dma.ClearInterrupt(ch)
	s.bus.SetEnabled(true)

	if err := s.arm(pixels); err != nil {
		return err
	}
	defer s.disarm()

	s.done.Clear()
	if err := s.dma.Start(ch, &s.lli[0]); err != nil {
		s.releaseChunks()
		return err
	}

	timer := s.clock.Timer(s.cfg.Timeout)
	defer timer.Stop()

	var err error
	select {
	case <-s.done.C():
		s.frames++
		return nil
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.dma.Stop(ch)
	s.dma.ClearInterrupt(ch)
	// The last interrupt may have landed together with the deadline.
	if s.done.IsSet() {
		s.done.Clear()
		s.frames++
		return nil
	}
	s.releaseChunks()
	s.timeouts++
	RecordEvent(EvtTimeout, s.cfg.OID, uint32(s.leftSize), 0)
	DebugPrintln("[ledstrip] frame abandoned: " + err.Error())
	return err
}

// arm resets the session, takes the descriptor pair and schedules the
// first chunks. Nothing is started.
func (s *Strip) arm(pixels []uint32) error {
	s.endFlag = false
	s.bufFlag = 0
	s.dataIdx = 0
	s.irqs = 0
	s.pixels = pixels
	s.total = len(pixels) * nrz.PixelBytes
	s.leftSize = s.total

	lli, err := s.mem.AllocDescriptors(2)
	if err != nil {
		s.pixels = nil
		return ErrNoMemory
	}
	for i := range lli {
		lli[i].Dst = s.cfg.TxFIFO
	}
	s.lli = lli
	queued := s.schedule()
	RecordEvent(EvtTransmit, s.cfg.OID, uint32(s.total), uint32(queued))
	return nil
}

// disarm returns the descriptors and drops the caller's pixels.
func (s *Strip) disarm() {
	if s.lli != nil {
		s.mem.FreeDescriptors(s.lli)
		s.lli = nil
	}
	s.pixels = nil
}

func (s *Strip) releaseChunks() {
	s.chunks[0].owner = ownerSoftware
	s.chunks[1].owner = ownerSoftware
}

// State returns the counters of the last session.
func (s *Strip) State() StripState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StripState{
		BufFlag:    s.bufFlag,
		DataIdx:    s.dataIdx,
		LeftSize:   s.leftSize,
		EndFlag:    s.endFlag,
		Interrupts: s.irqs,
		Frames:     s.frames,
		Timeouts:   s.timeouts,
	}
}

// Chip returns the protocol the strip emits.
func (s *Strip) Chip() nrz.Chip {
	return s.cfg.Chip
}

// Close stops the channel and frees the ping-pong buffers.
func (s *Strip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.configured {
		s.dma.Stop(s.cfg.Channel)
		s.dma.MaskInterrupt(s.cfg.Channel, true)
		s.dma.Attach(s.cfg.Channel, nil, nil)
	}
	s.bus.SetEnabled(false)
	for i := range s.chunks {
		s.mem.Free(s.chunks[i].buf)
		s.chunks[i] = chunk{}
	}
	return nil
}
