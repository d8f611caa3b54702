// Package nrz expands pixel data into SPI byte streams that reproduce the
// one-wire timing of addressable LED chips.
//
// Every data bit becomes a fixed-width SPI code whose leading run of ones
// sets the high time of the pulse. Clocked at the right rate the MOSI line
// then looks like the chip's native waveform.
package nrz

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrNotWholePixels = errors.New("nrz: input length is not a multiple of 3 bytes")
	ErrShortBuffer    = errors.New("nrz: output buffer too small")
	ErrUnknownChip    = errors.New("nrz: unknown chip")
	ErrBadCode        = errors.New("nrz: stream contains an invalid bit code")
)

// PixelBytes is the size of one packed 24-bit color word on the wire.
const PixelBytes = 3

// Chip selects the one-wire protocol to emulate.
type Chip uint8

const (
	WS2812B Chip = iota
	UCS1903
)

// code describes how one data bit is expanded.
type code struct {
	zero, one uint32
	width     uint // SPI bits per data bit
	reset     int  // trailing zero bytes that latch the frame
}

var codes = [...]code{
	WS2812B: {zero: 0b11000, one: 0b11100, width: 5, reset: 26},
	UCS1903: {zero: 0b1100000000, one: 0b1111111100, width: 10, reset: 13},
}

func (c Chip) code() code {
	if !c.Valid() {
		panic("nrz: unknown chip " + c.String())
	}
	return codes[c]
}

// Valid reports whether c names a supported chip.
func (c Chip) Valid() bool {
	return int(c) < len(codes)
}

// Coefficient is the number of output bytes produced per input byte.
func (c Chip) Coefficient() int {
	return int(c.code().width)
}

// ResetBytes is the length of the zero padding that ends a frame.
func (c Chip) ResetBytes() int {
	return c.code().reset
}

// EncodedLen returns the payload size for n input bytes, without reset padding.
func (c Chip) EncodedLen(n int) int {
	return n * c.Coefficient()
}

func (c Chip) String() string {
	switch c {
	case WS2812B:
		return "ws2812b"
	case UCS1903:
		return "ucs1903"
	}
	return "chip(" + strconv.Itoa(int(c)) + ")"
}

// ParseChip maps a chip name, case-insensitively, to its Chip value.
func ParseChip(name string) (Chip, error) {
	switch strings.ToLower(name) {
	case "ws2812b", "ws2812":
		return WS2812B, nil
	case "ucs1903":
		return UCS1903, nil
	}
	return 0, ErrUnknownChip
}

// Encode expands src into dst and returns the number of bytes written. src
// must hold whole pixels. Nothing is written when an error is returned.
func Encode(chip Chip, dst, src []byte) (int, error) {
	if len(src)%PixelBytes != 0 {
		return 0, ErrNotWholePixels
	}
	cd := chip.code()
	n := len(src) * int(cd.width)
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	w := NewBitWriter(dst)
	for _, b := range src {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				w.WriteBits(cd.one, cd.width)
			} else {
				w.WriteBits(cd.zero, cd.width)
			}
		}
	}
	if !w.Aligned() || w.Len() != n {
		panic("nrz: encoder ended off a byte boundary")
	}
	return n, nil
}

// AppendReset appends the chip's latch padding to b.
func AppendReset(chip Chip, b []byte) []byte {
	for i := 0; i < chip.ResetBytes(); i++ {
		b = append(b, 0)
	}
	return b
}

// Decode reverses Encode. Trailing zero bytes are treated as reset padding
// and dropped.
func Decode(chip Chip, stream []byte) ([]byte, error) {
	cd := chip.code()
	end := len(stream)
	for end > 0 && stream[end-1] == 0 {
		end--
	}
	payload := stream[:end]
	if rem := len(payload) % int(cd.width); rem != 0 {
		// A run of zero bits inside the last code may have been trimmed.
		end += int(cd.width) - rem
		if end > len(stream) {
			return nil, ErrBadCode
		}
		payload = stream[:end]
	}
	out := make([]byte, 0, len(payload)/int(cd.width))
	var cur byte
	nbits := 0
	bitAt := func(i int) uint32 {
		return uint32(payload[i/8]>>(7-uint(i%8))) & 1
	}
	total := len(payload) * 8
	for i := 0; i < total; i += int(cd.width) {
		var v uint32
		for j := 0; j < int(cd.width); j++ {
			v = v<<1 | bitAt(i+j)
		}
		cur <<= 1
		switch v {
		case cd.one:
			cur |= 1
		case cd.zero:
		default:
			return nil, ErrBadCode
		}
		nbits++
		if nbits == 8 {
			out = append(out, cur)
			cur, nbits = 0, 0
		}
	}
	return out, nil
}
