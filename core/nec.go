package core

// NEC frames carry each byte next to its complement:
//
//	[31:24] ^command  [23:16] command  [15:8] address high  [7:0] address low
//
// Standard 8-bit addresses send the complement in the high byte too.

// CommandValid reports whether the command byte matches its complement.
func CommandValid(word uint32) bool {
	return byte(word>>24)^byte(word>>16) == 0xFF
}

// AddressValid reports whether the address byte matches its complement.
func AddressValid(word uint32) bool {
	return byte(word>>8)^byte(word) == 0xFF
}

// SplitRawNECData breaks a raw NEC word into address and command. valid
// reflects the command check only, since extended addresses have no
// complement.
func SplitRawNECData(word uint32) (valid bool, address uint16, command byte) {
	command = byte(word >> 16)
	address = MakeNECAddress(byte(word), byte(word>>8))
	return CommandValid(word), address, command
}

// MakeRawNECData assembles the raw word for an address and command.
func MakeRawNECData(address uint16, command byte) uint32 {
	lo, hi := SplitNECAddress(address)
	return uint32(^command)<<24 | uint32(command)<<16 | uint32(hi)<<8 | uint32(lo)
}

// SplitNECAddress returns the two address bytes, filling the high byte with
// the complement for 8-bit addresses.
func SplitNECAddress(address uint16) (lo, hi byte) {
	lo = byte(address)
	hi = byte(address >> 8)
	if hi == 0 {
		hi = ^lo
	}
	return lo, hi
}

// MakeNECAddress joins the two address bytes. A complemented high byte
// means an 8-bit address.
func MakeNECAddress(lo, hi byte) uint16 {
	if hi == ^lo {
		return uint16(lo)
	}
	return uint16(hi)<<8 | uint16(lo)
}

// NEC burst timing in microseconds, measured between falling edges of an
// active-low demodulator output.
const (
	necLeaderMin = 12500 // 9ms mark + 4.5ms space
	necLeaderMax = 14500
	necZeroMin   = 900 // 562us mark + 562us space
	necZeroMax   = 1400
	necOneMin    = 1900 // 562us mark + 1687us space
	necOneMax    = 2600
)

// NECEdgeDecoder turns falling-edge timestamps into NEC words for boards
// that sample the demodulator on a plain GPIO instead of an IR block.
type NECEdgeDecoder struct {
	last   uint32
	seen   bool
	active bool
	bits   uint8
	word   uint32
}

// FallingEdge feeds one edge taken at now (microseconds, wrapping). It
// returns the word once all 32 bits have arrived.
func (d *NECEdgeDecoder) FallingEdge(now uint32) (word uint32, ok bool) {
	dt := now - d.last
	d.last = now
	if !d.seen {
		d.seen = true
		return 0, false
	}

	switch {
	case dt >= necLeaderMin && dt <= necLeaderMax:
		d.active, d.bits, d.word = true, 0, 0
		return 0, false
	case !d.active:
		return 0, false
	case dt >= necZeroMin && dt <= necZeroMax:
	case dt >= necOneMin && dt <= necOneMax:
		d.word |= 1 << d.bits
	default:
		d.active = false
		return 0, false
	}

	d.bits++
	if d.bits < 32 {
		return 0, false
	}
	d.active = false
	return d.word, true
}

// Reset drops any partial frame.
func (d *NECEdgeDecoder) Reset() {
	*d = NECEdgeDecoder{}
}
