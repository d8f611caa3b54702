// Package mcu drives a ledwire MCU from the host: it fetches the data
// dictionary, configures strips and the IR receiver, and streams frames.
package mcu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ledwire/host/serial"
	"ledwire/protocol"
)

// DefaultQueryTimeout applies to requests whose context has no deadline
const DefaultQueryTimeout = 2 * time.Second

// identifyChunk is the dictionary chunk size requested per identify
const identifyChunk = 40

var (
	ErrNotConnected = errors.New("mcu: not connected")
	ErrNoDictionary = errors.New("mcu: dictionary not loaded")
)

// Response is one decoded MCU response
type Response struct {
	Name  string
	Ints  map[string]int32
	Bytes map[string][]byte
}

// Uint returns an integer argument as unsigned
func (r Response) Uint(name string) uint32 {
	return uint32(r.Ints[name])
}

type waiter struct {
	name  string
	match func(Response) bool
	ch    chan Response
}

// MCU is a connection to one ledwire microcontroller
type MCU struct {
	log       *zap.SugaredLogger
	port      io.ReadWriteCloser
	transport *protocol.HostTransport

	mu        sync.Mutex
	dict      *Dictionary
	commands  map[string]format
	responses map[uint16]format
	waiters   []*waiter

	irEvents chan IREvent
}

// New creates an unconnected MCU. A nil logger discards output.
func New(logger *zap.SugaredLogger) *MCU {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MCU{
		log:       logger,
		responses: map[uint16]format{identifyResponse.id: identifyResponse},
		irEvents:  make(chan IREvent, 32),
	}
}

// Connect opens the serial device and starts the transport.
func (m *MCU) Connect(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.log.Infow("serial port open", "device", cfg.Device, "baud", cfg.Baud)
	m.ConnectPort(port)
	return nil
}

// ConnectPort runs the transport over an already open stream.
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
}

// Close stops the transport and releases the port.
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	// The transport closes the port too; both port types ignore a second Close
	err := multierr.Append(m.transport.Close(), m.port.Close())
	m.transport = nil
	return err
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// RetrieveDictionary fetches the dictionary with identify and indexes it.
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	if m.transport == nil {
		return ErrNotConnected
	}
	var raw []byte
	for {
		offset := uint32(len(raw))
		resp, err := m.query(ctx, identify, []any{offset, uint32(identifyChunk)},
			"identify_response", func(r Response) bool { return r.Uint("offset") == offset })
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", len(raw), err)
		}
		chunk := resp.Bytes["data"]
		if len(chunk) == 0 {
			break
		}
		raw = append(raw, chunk...)
	}

	dict, commands, responses, err := parseDictionary(raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.dict = dict
	m.commands = commands
	m.responses = responses
	m.mu.Unlock()

	m.log.Infow("dictionary loaded", "bytes", len(raw), "version", dict.Version,
		"commands", len(commands), "responses", len(responses))
	return nil
}

// Dictionary returns the loaded dictionary or nil
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

func (m *MCU) lookup(name string) (format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commands == nil {
		return format{}, ErrNoDictionary
	}
	f, ok := m.commands[name]
	if !ok {
		return format{}, fmt.Errorf("mcu: unknown command %q", name)
	}
	return f, nil
}

// Send encodes a command by name and waits for it to be acknowledged.
// Arguments are integers or []byte, in format order.
func (m *MCU) Send(ctx context.Context, name string, args ...any) error {
	if m.transport == nil {
		return ErrNotConnected
	}
	f, err := m.lookup(name)
	if err != nil {
		return err
	}
	return m.send(ctx, f, args)
}

func (m *MCU) send(ctx context.Context, f format, args []any) error {
	if len(args) != len(f.params) {
		return fmt.Errorf("mcu: %s takes %d arguments, got %d", f.name, len(f.params), len(args))
	}
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(f.id))
	for i, p := range f.params {
		if err := encodeArg(out, p, args[i]); err != nil {
			return fmt.Errorf("mcu: %s %s: %w", f.name, p.name, err)
		}
	}
	if out.Overflow() > 0 {
		return fmt.Errorf("mcu: %s: %w", f.name, protocol.ErrFrameTooLarge)
	}
	if err := m.transport.SendPayload(ctx, out.Result()); err != nil {
		return fmt.Errorf("mcu: send %s: %w", f.name, err)
	}
	return nil
}

func encodeArg(out protocol.OutputBuffer, p param, v any) error {
	if p.bytes {
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("want []byte, got %T", v)
		}
		protocol.EncodeVLQBytes(out, b)
		return nil
	}
	switch n := v.(type) {
	case int:
		protocol.EncodeVLQInt(out, int32(n))
	case int32:
		protocol.EncodeVLQInt(out, n)
	case uint8:
		protocol.EncodeVLQUint(out, uint32(n))
	case uint16:
		protocol.EncodeVLQUint(out, uint32(n))
	case uint32:
		protocol.EncodeVLQUint(out, n)
	case bool:
		if n {
			protocol.EncodeVLQUint(out, 1)
		} else {
			protocol.EncodeVLQUint(out, 0)
		}
	default:
		return fmt.Errorf("want integer, got %T", v)
	}
	return nil
}

// Query sends a command and waits for the named response. match, when
// set, filters responses, e.g. by oid.
func (m *MCU) Query(ctx context.Context, name string, args []any, response string, match func(Response) bool) (Response, error) {
	if m.transport == nil {
		return Response{}, ErrNotConnected
	}
	f, err := m.lookup(name)
	if err != nil {
		return Response{}, err
	}
	return m.query(ctx, f, args, response, match)
}

func (m *MCU) query(ctx context.Context, f format, args []any, response string, match func(Response) bool) (Response, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	w := &waiter{name: response, match: match, ch: make(chan Response, 1)}
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	defer m.removeWaiter(w)

	if err := m.send(ctx, f, args); err != nil {
		return Response{}, err
	}
	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("mcu: wait for %s: %w", response, ctx.Err())
	}
}

func (m *MCU) removeWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// handleResponse runs on the transport's reader goroutine.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	f, ok := m.responses[cmdID]
	m.mu.Unlock()
	if !ok {
		m.log.Debugw("unknown response", "id", cmdID)
		return nil
	}

	resp, err := decodeResponse(f, *data)
	if err != nil {
		m.log.Warnw("malformed response", "name", f.name, "error", err)
		return err
	}

	if resp.Name == "ir_event" {
		ev := IREvent{OID: uint8(resp.Uint("oid")), Code: resp.Uint("code"), Bits: uint8(resp.Uint("bits"))}
		select {
		case m.irEvents <- ev:
		default:
			m.log.Warnw("ir event dropped", "oid", ev.OID, "code", ev.Code)
		}
	}

	m.mu.Lock()
	for i, w := range m.waiters {
		if w.name == resp.Name && (w.match == nil || w.match(resp)) {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			w.ch <- resp
			break
		}
	}
	m.mu.Unlock()
	return nil
}

func decodeResponse(f format, data []byte) (Response, error) {
	r := Response{Name: f.name, Ints: map[string]int32{}, Bytes: map[string][]byte{}}
	for _, p := range f.params {
		if p.bytes {
			b, err := protocol.DecodeVLQBytes(&data)
			if err != nil {
				return r, err
			}
			r.Bytes[p.name] = append([]byte(nil), b...)
			continue
		}
		v, err := protocol.DecodeVLQInt(&data)
		if err != nil {
			return r, err
		}
		r.Ints[p.name] = v
	}
	return r, nil
}
