package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"ledwire/nrz"
)

type stripHarness struct {
	strip *Strip
	bus   *RecordingBus
	dma   *SoftDMA
	mem   *SoftMemory
}

func newStripHarness(t *testing.T, chip nrz.Chip, mem *SoftMemory, clk clock.Clock) *stripHarness {
	t.Helper()
	bus := NewRecordingBus()
	dma := NewSoftDMA(bus)
	cfg := StripConfig{
		OID:     1,
		Chip:    chip,
		SPI:     SPIConfig{Mode: 1, Rate: 4000000},
		Channel: 2,
		Timeout: 200 * time.Millisecond,
		Clock:   clk,
	}
	s, err := NewStrip(cfg, bus, dma, mem)
	if err != nil {
		t.Fatalf("NewStrip failed: %v", err)
	}
	if err := s.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return &stripHarness{strip: s, bus: bus, dma: dma, mem: mem}
}

func testPixels(n int) ([]uint32, []byte) {
	px := make([]uint32, n)
	raw := make([]byte, 0, n*3)
	for i := range px {
		r, g, b := byte(i), byte(i>>8)^0x5A, byte(i*31)
		px[i] = nrz.PackRGB(r, g, b)
		raw = append(raw, r, g, b)
	}
	return px, raw
}

func TestStripSinglePixel(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)

	if err := h.strip.Transmit(context.Background(), []uint32{0}); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}

	out := h.bus.Bytes()
	if len(out) != 15+26 {
		t.Fatalf("Expected 41 bytes on the bus, got %d", len(out))
	}
	if out[0] != 0xC6 {
		t.Errorf("Expected first byte 0xC6, got 0x%02X", out[0])
	}
	if !bytes.Equal(out[15:], make([]byte, 26)) {
		t.Error("Expected 26 reset bytes after the payload")
	}

	st := h.strip.State()
	if st.Interrupts != 1 || st.EndFlag || st.LeftSize != 0 || st.BufFlag != 1 {
		t.Errorf("Unexpected state after single chunk: %+v", st)
	}
	if st.Frames != 1 {
		t.Errorf("Expected 1 frame, got %d", st.Frames)
	}
	if !h.bus.Enabled() {
		t.Error("Expected SPI to be enabled by Transmit")
	}
	if h.bus.Config().Rate != 4000000 {
		t.Errorf("Expected bus configured at 4MHz, got %d", h.bus.Config().Rate)
	}
}

func TestStripSplitBoundary(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	s := h.strip

	// 272 pixels expand to exactly one chunk.
	px, _ := testPixels(272)
	if err := s.arm(px); err != nil {
		t.Fatal(err)
	}
	if s.lli[0].Next != nil || s.endFlag || s.leftSize != 0 {
		t.Errorf("Expected single terminated chunk, next=%p end=%v left=%d", s.lli[0].Next, s.endFlag, s.leftSize)
	}
	if len(s.lli[0].Src) != ChunkCapacity+26 {
		t.Errorf("Expected full chunk plus reset, got %d bytes", len(s.lli[0].Src))
	}
	s.releaseChunks()
	s.disarm()

	// One more pixel spills into the second buffer.
	px, _ = testPixels(273)
	if err := s.arm(px); err != nil {
		t.Fatal(err)
	}
	if s.lli[0].Next != &s.lli[1] || s.lli[1].Next != nil {
		t.Error("Expected buffer 0 chained to a terminated buffer 1")
	}
	if len(s.lli[0].Src) != ChunkCapacity {
		t.Errorf("Expected unpadded first chunk of %d bytes, got %d", ChunkCapacity, len(s.lli[0].Src))
	}
	if len(s.lli[1].Src) != 15+26 {
		t.Errorf("Expected one pixel plus reset in buffer 1, got %d bytes", len(s.lli[1].Src))
	}
	if s.endFlag || s.leftSize != 0 {
		t.Errorf("Expected no refill pending, end=%v left=%d", s.endFlag, s.leftSize)
	}
	s.releaseChunks()
	s.disarm()
}

func TestStripLongFrames(t *testing.T) {
	tests := []struct {
		chip   nrz.Chip
		pixels int
		chunks int
	}{
		{nrz.WS2812B, 273, 2},
		{nrz.WS2812B, 544, 2},
		{nrz.WS2812B, 545, 3},
		{nrz.WS2812B, 272*5 + 17, 6},
		{nrz.UCS1903, 136, 1},
		{nrz.UCS1903, 137, 2},
		{nrz.UCS1903, 1000, 8},
	}

	for _, tt := range tests {
		t.Run(tt.chip.String()+"/"+itoa(tt.pixels), func(t *testing.T) {
			h := newStripHarness(t, tt.chip, NewSoftMemory(0), nil)
			px, raw := testPixels(tt.pixels)

			if err := h.strip.Transmit(context.Background(), px); err != nil {
				t.Fatalf("Transmit failed: %v", err)
			}

			if h.bus.Writes() != tt.chunks {
				t.Errorf("Expected %d chunks on the bus, got %d", tt.chunks, h.bus.Writes())
			}
			out := h.bus.Bytes()
			want := len(raw)*tt.chip.Coefficient() + tt.chip.ResetBytes()
			if len(out) != want {
				t.Errorf("Expected %d bytes, got %d", want, len(out))
			}
			back, err := nrz.Decode(tt.chip, out)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !bytes.Equal(back, raw) {
				t.Error("Bus stream does not decode to the frame")
			}

			st := h.strip.State()
			if st.Interrupts != tt.chunks {
				t.Errorf("Expected %d interrupts, got %d", tt.chunks, st.Interrupts)
			}
			if st.LeftSize != 0 || st.EndFlag {
				t.Errorf("Expected drained session, got %+v", st)
			}
			if h.mem.InUse() != 2*(ChunkCapacity+tt.chip.ResetBytes()) {
				t.Errorf("Expected descriptors released, %d bytes in use", h.mem.InUse())
			}
		})
	}
}

func TestStripPingPongAlternates(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	s := h.strip

	px, _ := testPixels(272 * 12)
	if err := s.arm(px); err != nil {
		t.Fatal(err)
	}
	defer s.disarm()

	for n := 1; n <= 8; n++ {
		if !s.endFlag || s.leftSize <= 0 {
			t.Fatalf("Expected refill pending before interrupt %d", n)
		}
		prevLeft := s.leftSize
		s.chunkDrained()
		if s.bufFlag != n%2 {
			t.Errorf("After %d interrupts expected bufFlag %d, got %d", n, n%2, s.bufFlag)
		}
		if s.leftSize > prevLeft {
			t.Errorf("leftSize grew from %d to %d", prevLeft, s.leftSize)
		}
	}
	if s.done.IsSet() {
		t.Error("Completion signalled while data remained")
	}
}

func TestStripRefillOfBusyBufferPanics(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	s := h.strip

	px, _ := testPixels(272 * 3)
	if err := s.arm(px); err != nil {
		t.Fatal(err)
	}
	defer s.disarm()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when refilling a buffer owned by the DMA")
		}
	}()
	s.refill(0)
}

func TestStripDescriptorAllocationFailure(t *testing.T) {
	chunkSize := ChunkCapacity + 26
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(2*chunkSize), nil)
	px, _ := testPixels(10)

	err := h.strip.Transmit(context.Background(), px)
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Expected ErrNoMemory, got %v", err)
	}
	if h.dma.Blocks(2) != 0 || len(h.bus.Bytes()) != 0 {
		t.Error("Expected nothing armed after allocation failure")
	}
	if h.mem.InUse() != 2*chunkSize {
		t.Errorf("Expected only the chunk buffers allocated, got %d bytes", h.mem.InUse())
	}
}

func TestNewStripReleasesFirstBufferOnFailure(t *testing.T) {
	mem := NewSoftMemory(ChunkCapacity + 26 + 1)
	bus := NewRecordingBus()
	_, err := NewStrip(StripConfig{Chip: nrz.WS2812B}, bus, NewSoftDMA(bus), mem)
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Expected ErrNoMemory, got %v", err)
	}
	if mem.InUse() != 0 {
		t.Errorf("Expected first buffer freed, %d bytes still in use", mem.InUse())
	}
}

// transmitWithMock runs Transmit while advancing the mock clock until it returns.
func transmitWithMock(ctx context.Context, s *Strip, mock *clock.Mock, px []uint32) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Transmit(ctx, px) }()
	for {
		select {
		case err := <-errc:
			return err
		default:
			mock.Add(50 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStripTimeoutOnHungDMA(t *testing.T) {
	mock := clock.NewMock()
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), mock)
	px, raw := testPixels(600)

	h.dma.StallAfter(2, 1)
	err := transmitWithMock(context.Background(), h.strip, mock, px)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if st := h.strip.State(); st.Timeouts != 1 || st.Frames != 0 {
		t.Errorf("Unexpected counters after timeout: %+v", st)
	}
	if h.mem.InUse() != 2*(ChunkCapacity+26) {
		t.Errorf("Expected descriptors released after timeout, %d bytes in use", h.mem.InUse())
	}

	// The next frame starts from a clean session.
	h.dma.StallAfter(2, -1)
	h.bus.Reset()
	if err := h.strip.Transmit(context.Background(), px); err != nil {
		t.Fatalf("Transmit after timeout failed: %v", err)
	}
	back, err := nrz.Decode(nrz.WS2812B, h.bus.Bytes())
	if err != nil || !bytes.Equal(back, raw) {
		t.Errorf("Recovered frame does not match (err=%v)", err)
	}
}

func TestStripCancel(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	h.dma.StallAfter(2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := h.strip.Transmit(ctx, []uint32{1, 2, 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if h.dma.Pending(2) {
		t.Error("Expected interrupt cleared after cancel")
	}
}

func TestStripLostContextTimesOut(t *testing.T) {
	ClearTraceRing()
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	h.dma.ForgetContext(2)

	err := h.strip.Transmit(context.Background(), []uint32{1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	found := false
	for _, evt := range TraceEvents() {
		if evt.EventType == EvtLostContext && evt.Value1 == 2 {
			found = true
		}
	}
	if !found {
		t.Error("Expected a lost-context trace event")
	}
}

func TestStripEmptyAndUnconfigured(t *testing.T) {
	bus := NewRecordingBus()
	s, err := NewStrip(StripConfig{Chip: nrz.UCS1903}, bus, NewSoftDMA(bus), NewSoftMemory(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Transmit(context.Background(), []uint32{1}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if err := s.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := s.Transmit(context.Background(), nil); err != nil {
		t.Errorf("Expected empty frame to succeed, got %v", err)
	}
	if bus.Writes() != 0 {
		t.Errorf("Expected no bus traffic for an empty frame, got %d writes", bus.Writes())
	}
}

func TestStripClose(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	if err := h.strip.Close(); err != nil {
		t.Fatal(err)
	}
	if h.mem.InUse() != 0 {
		t.Errorf("Expected all memory released, %d bytes in use", h.mem.InUse())
	}
	if err := h.strip.Transmit(context.Background(), []uint32{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if h.bus.Enabled() {
		t.Error("Expected SPI disabled after Close")
	}
}

func TestStripSerializesTransmit(t *testing.T) {
	h := newStripHarness(t, nrz.WS2812B, NewSoftMemory(0), nil)
	pxA, rawA := testPixels(700)
	pxB := make([]uint32, 300)
	rawB := make([]byte, 900)
	for i := range pxB {
		pxB[i] = 0xFFFFFF
	}
	for i := range rawB {
		rawB[i] = 0xFF
	}

	var wg sync.WaitGroup
	for _, px := range [][]uint32{pxA, pxB} {
		wg.Add(1)
		go func(px []uint32) {
			defer wg.Done()
			if err := h.strip.Transmit(context.Background(), px); err != nil {
				t.Errorf("Transmit failed: %v", err)
			}
		}(px)
	}
	wg.Wait()

	// Each frame ends with its own reset run; split there.
	out := h.bus.Bytes()
	first := len(rawA)*5 + 26
	if out[0] == 0xE7 {
		first = len(rawB)*5 + 26
	}
	a, errA := nrz.Decode(nrz.WS2812B, out[:first])
	b, errB := nrz.Decode(nrz.WS2812B, out[first:])
	if errA != nil || errB != nil {
		t.Fatalf("Decode failed: %v %v", errA, errB)
	}
	ok := (bytes.Equal(a, rawA) && bytes.Equal(b, rawB)) || (bytes.Equal(a, rawB) && bytes.Equal(b, rawA))
	if !ok {
		t.Error("Frames were interleaved on the bus")
	}
	if st := h.strip.State(); st.Frames != 2 {
		t.Errorf("Expected 2 frames, got %d", st.Frames)
	}
}

func TestStripChannelOwnership(t *testing.T) {
	bus := NewRecordingBus()
	dma := NewSoftDMA(bus)
	mem := NewSoftMemory(0)
	cfg := StripConfig{Chip: nrz.WS2812B, SPI: SPIConfig{Mode: 1, Rate: 4000000}, Channel: 2}

	first, err := NewStrip(cfg, bus, dma, mem)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Configure(); err != nil {
		t.Fatal(err)
	}
	second, err := NewStrip(cfg, bus, dma, mem)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Configure(); !errors.Is(err, ErrDMABusy) {
		t.Fatalf("Expected ErrDMABusy, got %v", err)
	}
	if owner, _ := dma.Context(2); owner != first {
		t.Error("Expected the first strip to keep the channel")
	}
	if err := first.Transmit(context.Background(), []uint32{0x123456}); err != nil {
		t.Fatalf("Transmit on the owner failed: %v", err)
	}

	// Configure again on the owner is harmless, and Close frees the channel.
	if err := first.Configure(); err != nil {
		t.Errorf("Expected reconfigure of the owner to succeed, got %v", err)
	}
	first.Close()
	if err := second.Configure(); err != nil {
		t.Errorf("Expected Configure after the owner closed to succeed, got %v", err)
	}
}

func TestStripChannelsKeepTheirBus(t *testing.T) {
	fallback := NewRecordingBus()
	dma := NewSoftDMA(fallback)
	mem := NewSoftMemory(0)

	buses := []*RecordingBus{NewRecordingBus(), NewRecordingBus()}
	var strips []*Strip
	for i, bus := range buses {
		s, err := NewStrip(StripConfig{
			Chip:    nrz.WS2812B,
			SPI:     SPIConfig{Mode: 1, Rate: 4000000},
			Channel: DMAChannel(i + 1),
		}, bus, dma, mem)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Configure(); err != nil {
			t.Fatal(err)
		}
		strips = append(strips, s)
	}

	px, raw := testPixels(400)
	if err := strips[0].Transmit(context.Background(), px); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	back, err := nrz.Decode(nrz.WS2812B, buses[0].Bytes())
	if err != nil || !bytes.Equal(back, raw) {
		t.Errorf("Frame did not arrive on its own bus (err=%v)", err)
	}
	if buses[1].Writes() != 0 || fallback.Writes() != 0 {
		t.Errorf("Expected no traffic elsewhere, got %d and %d writes", buses[1].Writes(), fallback.Writes())
	}
}

// syncDMA returns from Start only once the strip has seen completion, so
// the frame is done before Transmit starts waiting.
type syncDMA struct {
	*SoftDMA
	strip *Strip
}

func (d *syncDMA) Start(ch DMAChannel, head *DMADescriptor) error {
	if err := d.SoftDMA.Start(ch, head); err != nil {
		return err
	}
	for !d.strip.done.IsSet() {
		time.Sleep(time.Microsecond)
	}
	return nil
}

func TestStripCompletionBeatsDeadline(t *testing.T) {
	bus := NewRecordingBus()
	dma := &syncDMA{SoftDMA: NewSoftDMA(bus)}
	s, err := NewStrip(StripConfig{
		Chip:    nrz.WS2812B,
		SPI:     SPIConfig{Mode: 1, Rate: 4000000},
		Channel: 2,
		Timeout: time.Nanosecond,
	}, bus, dma, NewSoftMemory(0))
	if err != nil {
		t.Fatal(err)
	}
	dma.strip = s
	if err := s.Configure(); err != nil {
		t.Fatal(err)
	}

	// Both the deadline and the completion are ready when Transmit waits.
	const frames = 20
	for i := 0; i < frames; i++ {
		if err := s.Transmit(context.Background(), []uint32{uint32(i)}); err != nil {
			t.Fatalf("Frame %d: expected success, got %v", i, err)
		}
	}
	if st := s.State(); st.Frames != frames || st.Timeouts != 0 {
		t.Errorf("Expected %d frames and no timeouts, got %+v", frames, st)
	}
}
