package protocol

import "sync/atomic"

// CommandHandler decodes and runs one command. It must consume its
// arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates host frames,
// dispatches their commands and acknowledges every frame with the next
// expected sequence.
type Transport struct {
	scanner      frameScanner
	nextSequence atomic.Uint32
	output       OutputBuffer
	handler      CommandHandler
	dropped      atomic.Uint32

	resetCallback func()
	flushCallback func()
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		scanner: frameScanner{synced: true, checkDest: true},
		output:  output,
		handler: handler,
	}
	t.nextSequence.Store(MessageDest)
	return t
}

// Receive consumes whole frames from input. A partial frame is left in
// place for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	consumed := 0
	for {
		ev, msg, n := t.scanner.scan(data[consumed:])
		consumed += n
		if ev == scanNeedMore {
			break
		}
		if ev == scanResync {
			t.encodeAckNak()
			continue
		}
		t.handleFrame(msg)
	}
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) handleFrame(msg Message) {
	expected := uint8(t.nextSequence.Load())

	// Sequence back at the start means the host restarted
	if msg.Sequence == MessageDest && expected != MessageDest {
		expected = MessageDest
		t.nextSequence.Store(MessageDest)
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if msg.Sequence == expected {
		t.nextSequence.Store(uint32(NextSequence(expected)))
		if err := t.parseFrame(msg.Payload); err != nil {
			t.dropped.Add(1)
		}
	}
	// Out-of-order frames get the same reply, which the host reads as a NAK
	t.encodeAckNak()
}

// parseFrame runs every command in the payload. A panicking handler
// forces a resync instead of taking down the firmware.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.synced = false
			err = errHandlerPanic
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.synced = false
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) encodeAckNak() {
	ns := uint8(t.nextSequence.Load())
	t.output.Output(appendTrailer([]byte{MessageLengthMin, ns}))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// Responses carry the current acknowledgement sequence.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSequence.Load())})
	frameData(t.output)

	n := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(n+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand frames a single command and its arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state.
func (t *Transport) Reset() {
	t.scanner.synced = true
	t.nextSequence.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Dropped counts frames whose commands failed to run.
func (t *Transport) Dropped() uint32 { return t.dropped.Load() }

func (t *Transport) SetResetCallback(callback func()) { t.resetCallback = callback }

// SetFlushCallback installs a hook that pushes acknowledgements out
// immediately.
func (t *Transport) SetFlushCallback(callback func()) { t.flushCallback = callback }
