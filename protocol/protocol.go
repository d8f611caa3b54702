// Package protocol implements the Klipper-style framed command protocol
// spoken between ledwire firmware and its host tools.
//
// A frame is: length, sequence, payload, CRC16 (big endian), sync byte.
// The payload is a run of VLQ-encoded command IDs each followed by its
// arguments.
package protocol

import "errors"

// Version is the protocol implementation version
const Version = "0.1.0"

// Framing constants
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Sequence numbers cycle through the low nibble
	MessageSeqMask = 0x0F

	// MessagePayloadMax is the room left for command data in one frame
	MessagePayloadMax = MessageLengthMax - MessageLengthMin

	// MessageMax bounds one scratch output, which may hold several frames
	MessageMax = 512
)

// NextSequence returns the sequence that follows seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

var errHandlerPanic = errors.New("command handler panicked")
