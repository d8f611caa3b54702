package core

import (
	"context"
	"errors"
	"sync"

	"ledwire/nrz"
	"ledwire/protocol"
)

var errFrameRange = errors.New("ledstrip: update past end of frame")

// ledStrip is one configured strip plus the frame the host stages into it
// with ledstrip_update.
type ledStrip struct {
	oid    uint8
	strip  *Strip
	frame  []byte
	pixels []uint32
}

func (l *ledStrip) shutdown() {
	_ = l.strip.Close()
}

var initLedStripOnce sync.Once

// InitLedStripCommands registers the strip commands
func InitLedStripCommands() {
	InitCoreCommands()
	initLedStripOnce.Do(func() {
		RegisterCommand("config_ledstrip",
			"oid=%c bus=%u chip=%c mode=%c rate=%u dma_channel=%c pixels=%hu",
			handleConfigLedStrip)
		RegisterCommand("ledstrip_update", "oid=%c pos=%hu data=%*s", handleLedStripUpdate)
		RegisterCommand("ledstrip_send", "oid=%c", handleLedStripSend)
		RegisterResponse("ledstrip_result", "oid=%c success=%c")

		RegisterEnumeration("chip", []string{nrz.WS2812B.String(), nrz.UCS1903.String()})
		RegisterConstant("LEDSTRIP_CHUNK_CAPACITY", uint32(ChunkCapacity))
	})
}

func handleConfigLedStrip(data *[]byte) error {
	var oid, bus, chip, mode, rate, ch, pixels uint32
	if err := decodeArgs(data, &oid, &bus, &chip, &mode, &rate, &ch, &pixels); err != nil {
		return err
	}
	if IsShutdown() {
		return errShutdown
	}
	// A strip being reconfigured gives up its DMA channel first.
	dropLedStrip(oid)

	b := MustBoard()
	spi, err := b.Bus(SPIBusID(bus))
	if err != nil {
		return err
	}
	strip, err := NewStrip(StripConfig{
		OID:  uint8(oid),
		Chip: nrz.Chip(chip),
		SPI: SPIConfig{
			BusID: SPIBusID(bus),
			Mode:  SPIMode(mode),
			Rate:  rate,
			Role:  SPIMaster,
		},
		Channel: DMAChannel(ch),
	}, spi, b.DMA, b.Memory)
	if err != nil {
		return err
	}
	if err := strip.Configure(); err != nil {
		strip.Close()
		return err
	}

	l := &ledStrip{
		oid:    uint8(oid),
		strip:  strip,
		frame:  make([]byte, int(pixels)*nrz.PixelBytes),
		pixels: make([]uint32, pixels),
	}
	if err := addObject(oid, l); err != nil {
		strip.Close()
		return err
	}
	return nil
}

func dropLedStrip(oid uint32) {
	objMu.Lock()
	l, ok := objects[uint8(oid)].(*ledStrip)
	if ok {
		delete(objects, uint8(oid))
	}
	objMu.Unlock()
	if ok {
		l.shutdown()
	}
}

// handleLedStripUpdate copies color bytes into the staged frame at pos
func handleLedStripUpdate(data *[]byte) error {
	var oid, pos uint32
	if err := decodeArgs(data, &oid, &pos); err != nil {
		return err
	}
	b, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	l, err := lookupObject[*ledStrip](oid)
	if err != nil {
		return err
	}
	if int(pos)+len(b) > len(l.frame) {
		return errFrameRange
	}
	copy(l.frame[pos:], b)
	return nil
}

// handleLedStripSend transmits the staged frame and reports the outcome
func handleLedStripSend(data *[]byte) error {
	var oid uint32
	if err := decodeArgs(data, &oid); err != nil {
		return err
	}
	l, err := lookupObject[*ledStrip](oid)
	if err != nil {
		return err
	}

	err = l.send()
	SendResponse("ledstrip_result", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, boolArg(err == nil))
	})
	return nil
}

func (l *ledStrip) send() error {
	if IsShutdown() {
		return errShutdown
	}
	f := l.frame
	for i := range l.pixels {
		l.pixels[i] = nrz.PackRGB(f[i*3], f[i*3+1], f[i*3+2])
	}
	err := l.strip.Transmit(context.Background(), l.pixels)
	if err != nil {
		DebugPrintln("[ledstrip] oid " + itoa(int(l.oid)) + ": " + err.Error())
	}
	return err
}
