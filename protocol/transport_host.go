package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout applies when SendCommand's context has no deadline
const DefaultAckTimeout = 2 * time.Second

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrNak             = errors.New("frame not acknowledged")
)

// ResponseHandler receives every response frame's command ID and args
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. It numbers outgoing frames,
// waits for their acknowledgement and routes response frames.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu     sync.Mutex
	currentSeq atomic.Uint32

	scanner frameScanner
	input   *FifoBuffer

	ackChan      chan Message
	responseChan chan Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	closeOnce sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
	readErr   error
}

// NewHostTransport starts a reader on port. Close stops it.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		scanner:      frameScanner{synced: true},
		input:        NewFifoBuffer(4 * MessageMax),
		ackChan:      make(chan Message, 1),
		responseChan: make(chan Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.currentSeq.Store(MessageDest)
	go t.readLoop()
	return t
}

// SendCommand frames one command, writes it and waits for the MCU to
// acknowledge it.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	if out.Overflow() > 0 {
		return ErrFrameTooLarge
	}
	return t.SendPayload(ctx, out.Result())
}

// SendPayload sends an already encoded command payload.
func (t *HostTransport) SendPayload(ctx context.Context, payload []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultAckTimeout)
		defer cancel()
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := uint8(t.currentSeq.Load())
	frame, err := AppendFrame(nil, seq, payload)
	if err != nil {
		return err
	}

	// A late ACK from an earlier timeout must not satisfy this frame
	select {
	case <-t.ackChan:
	default:
	}

	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	want := NextSequence(seq)
	select {
	case ack := <-t.ackChan:
		if ack.Sequence != want {
			return fmt.Errorf("%w: expected sequence 0x%02x, got 0x%02x", ErrNak, want, ack.Sequence)
		}
		t.currentSeq.Store(uint32(want))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for ack: %w", ctx.Err())
	case <-t.doneChan:
		return t.closedErr()
	}
}

// ReceiveResponse waits for the next response frame.
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.doneChan:
		return Message{}, t.closedErr()
	}
}

// SetResponseHandler installs a callback run on the reader goroutine for
// every response. Responses are still queued for ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			for rest := buf[:n]; len(rest) > 0; {
				w := t.input.Write(rest)
				rest = rest[w:]
				t.processMessages()
				if w == 0 && t.input.Free() == 0 {
					// Full of bytes that never formed a frame
					t.input.Reset()
					t.scanner.synced = false
				}
			}
		}
		if err != nil {
			select {
			case <-t.stopChan:
			default:
				t.readErr = err
			}
			return
		}
	}
}

func (t *HostTransport) processMessages() {
	data := t.input.Data()
	consumed := 0
	for {
		ev, msg, n := t.scanner.scan(data[consumed:])
		consumed += n
		if ev == scanNeedMore {
			break
		}
		if ev == scanFrame {
			// Frames outlive the input buffer
			msg.Payload = append([]byte(nil), msg.Payload...)
			t.dispatch(msg)
		}
	}
	t.input.Pop(consumed)
}

func (t *HostTransport) dispatch(msg Message) {
	if msg.IsAck() {
		select {
		case t.ackChan <- msg:
		default:
			// Unclaimed ACK; keep the newest
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		if id, args, err := msg.CommandID(); err == nil {
			_ = handler(id, &args)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Drop the oldest queued response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

func (t *HostTransport) closedErr() error {
	if t.readErr != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, t.readErr)
	}
	return ErrTransportClosed
}

// Close shuts the port, which unblocks the reader, and waits for it.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}

// CurrentSequence returns the sequence the next frame will carry.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(t.currentSeq.Load())
}
