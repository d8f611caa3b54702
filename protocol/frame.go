package protocol

import (
	"bytes"
	"errors"
)

var ErrFrameTooLarge = errors.New("frame payload exceeds message length")

// Message is one validated frame. Payload excludes header and trailer.
type Message struct {
	Sequence uint8
	Payload  []byte
}

// IsAck reports whether the frame carries no commands.
func (m *Message) IsAck() bool { return len(m.Payload) == 0 }

// CommandID decodes the leading command ID and returns the remaining args.
func (m *Message) CommandID() (uint16, []byte, error) {
	data := m.Payload
	id, err := DecodeVLQUint(&data)
	if err != nil {
		return 0, nil, err
	}
	return uint16(id), data, nil
}

type scanEvent uint8

const (
	scanNeedMore scanEvent = iota
	scanFrame
	scanResync // a sync byte ended a run of garbage
)

// frameScanner splits a byte stream into frames. It is shared by both
// transport ends; only the MCU checks the destination bits.
type frameScanner struct {
	synced    bool
	checkDest bool
}

// scan looks at data and returns what it found plus the number of bytes
// the caller should discard. A returned Message aliases data.
func (s *frameScanner) scan(data []byte) (scanEvent, Message, int) {
	pos := 0
	for {
		if !s.synced {
			i := bytes.IndexByte(data[pos:], MessageValueSync)
			if i < 0 {
				return scanNeedMore, Message{}, len(data)
			}
			s.synced = true
			return scanResync, Message{}, pos + i + 1
		}

		rest := data[pos:]
		if len(rest) > 0 && rest[0] == MessageValueSync {
			pos++
			continue
		}
		if len(rest) < MessageLengthMin {
			return scanNeedMore, Message{}, pos
		}

		msgLen := int(rest[MessagePositionLen])
		seq := rest[MessagePositionSeq]
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax ||
			(s.checkDest && seq&^MessageSeqMask != MessageDest) {
			s.synced = false
			continue
		}
		if len(rest) < msgLen {
			return scanNeedMore, Message{}, pos
		}
		if rest[msgLen-MessageTrailerSync] != MessageValueSync {
			s.synced = false
			continue
		}
		crc := uint16(rest[msgLen-MessageTrailerCRC])<<8 | uint16(rest[msgLen-MessageTrailerCRC+1])
		if crc != CRC16(rest[:msgLen-MessageTrailerSize]) {
			s.synced = false
			continue
		}

		msg := Message{
			Sequence: seq,
			Payload:  rest[MessageHeaderSize : msgLen-MessageTrailerSize],
		}
		return scanFrame, msg, pos + msgLen
	}
}

// AppendFrame wraps payload in a frame with the given sequence byte.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return dst, ErrFrameTooLarge
	}
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageValueSync), nil
}
