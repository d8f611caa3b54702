package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures a driver event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	OID       uint8  // Object ID (strip, IR receiver)
	Seq       uint32 // Monotonic event number
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtTransmit     = 1 // frame armed: v1=color bytes, v2=chunks queued
	EvtChunkDrained = 2 // DMA finished a chunk: v1=buffer, v2=bytes left
	EvtRefill       = 3 // chunk refilled: v1=buffer, v2=color bytes encoded
	EvtComplete     = 4 // frame drained: v1=interrupts taken
	EvtTimeout      = 5 // frame abandoned: v1=bytes left
	EvtIRFrame      = 6 // IR frame posted: v1=code, v2=bits
	EvtIRReject     = 7 // IR frame failed its checksum: v1=code
	EvtLostContext  = 8 // interrupt with no session: v1=channel or irq
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Trace ring buffer (non-blocking, for post-mortem)
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceSeq      uint32

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Safe from interrupt handlers: drops the message if the channel is full
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the trace ring
func RecordEvent(eventType, oid uint8, value1, value2 uint32) {
	cs := enterCritical()
	idx := traceRingHead
	traceSeq++
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		OID:       oid,
		Seq:       traceSeq,
		Value1:    value1,
		Value2:    value2,
	}
	traceRingHead = (idx + 1) % TraceRingSize
	cs.exit()
}

// TraceEvents returns the recorded events, oldest first
func TraceEvents() []TraceEvent {
	cs := enterCritical()
	defer cs.exit()

	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(traceRingHead+i)%TraceRingSize]
		if evt.EventType != 0 {
			out = append(out, evt)
		}
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtTransmit:
		return "TRANSMIT"
	case EvtChunkDrained:
		return "DRAINED"
	case EvtRefill:
		return "REFILL"
	case EvtComplete:
		return "COMPLETE"
	case EvtTimeout:
		return "TIMEOUT!"
	case EvtIRFrame:
		return "IR_FRAME"
	case EvtIRReject:
		return "IR_REJECT"
	case EvtLostContext:
		return "NO_CONTEXT!"
	}
	return "UNKNOWN"
}

// DumpTraceRing outputs the trace ring (call on shutdown/error)
func DumpTraceRing() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range TraceEvents() {
		debugPrintln("[TRACE] " + eventName(evt.EventType) +
			" seq=" + utoa(evt.Seq) +
			" oid=" + itoa(int(evt.OID)) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTraceRing clears the trace buffer
func ClearTraceRing() {
	cs := enterCritical()
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
	cs.exit()
}
