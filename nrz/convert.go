package nrz

// GroupPixels is how many pixel words the Converter stages per pass.
const GroupPixels = 100

// Converter encodes pixel words by unpacking them into a fixed scratch
// buffer a group at a time, which bounds the working memory regardless of
// the strip length.
type Converter struct {
	chip    Chip
	scratch [GroupPixels * PixelBytes]byte
}

// NewConverter returns a Converter for chip.
func NewConverter(chip Chip) *Converter {
	return &Converter{chip: chip}
}

// Chip returns the protocol the converter emits.
func (c *Converter) Chip() Chip {
	return c.chip
}

// Convert encodes pixels (0x00RRGGBB, top byte ignored) into dst and returns
// the number of bytes written.
func (c *Converter) Convert(dst []byte, pixels []uint32) (int, error) {
	need := c.chip.EncodedLen(len(pixels) * PixelBytes)
	if len(dst) < need {
		return 0, ErrShortBuffer
	}
	out := 0
	full := len(pixels) / GroupPixels
	for g := 0; g < full; g++ {
		n, err := c.group(dst[out:], pixels[g*GroupPixels:(g+1)*GroupPixels])
		if err != nil {
			return out, err
		}
		out += n
	}
	if tail := len(pixels) % GroupPixels; tail != 0 {
		n, err := c.group(dst[out:], pixels[full*GroupPixels:])
		if err != nil {
			return out, err
		}
		out += n
	}
	return out, nil
}

func (c *Converter) group(dst []byte, pixels []uint32) (int, error) {
	src := c.scratch[:len(pixels)*PixelBytes]
	for i, p := range pixels {
		src[i*3] = byte(p >> 16)
		src[i*3+1] = byte(p >> 8)
		src[i*3+2] = byte(p)
	}
	return Encode(c.chip, dst, src)
}

// PackRGB builds a pixel word from its components.
func PackRGB(r, g, b byte) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Pixels packs a byte stream of whole pixels into pixel words.
func Pixels(b []byte) ([]uint32, error) {
	if len(b)%PixelBytes != 0 {
		return nil, ErrNotWholePixels
	}
	out := make([]uint32, len(b)/PixelBytes)
	for i := range out {
		out[i] = PackRGB(b[i*3], b[i*3+1], b[i*3+2])
	}
	return out, nil
}
