package core

import (
	"sync"

	"ledwire/protocol"
)

// IRFlushUS is the period of the timer that forwards queued IR frames.
const IRFlushUS = 2000

type irObject struct {
	rx *IRReceiver
}

func (o *irObject) shutdown() {
	o.rx.Close()
	CancelTimer(&irFlushTimer)
}

var irFlushTimer = Timer{Handler: irFlushEvent}

func irFlushEvent(t *Timer) uint8 {
	IRTask()
	t.WakeTime = GetTime() + TimerFromUS(IRFlushUS)
	return SF_RESCHEDULE
}

var initIROnce sync.Once

// InitIRCommands registers the IR receiver commands
func InitIRCommands() {
	InitCoreCommands()
	initIROnce.Do(func() {
		RegisterCommand("config_ir", "oid=%c pin=%u control=%c data_check=%c", handleConfigIR)
		RegisterCommand("ir_set_data_check", "oid=%c data_check=%c", handleIRSetDataCheck)
		RegisterCommand("ir_enable_rx", "oid=%c", handleIREnableRx)
		RegisterCommand("ir_query", "oid=%c", handleIRQuery)
		RegisterResponse("ir_state", "oid=%c code=%u bits=%c")
		RegisterResponse("ir_event", "oid=%c code=%u bits=%c")

		RegisterEnumeration("ir_control", []string{"nec", "rc5"})
		RegisterConstant("IR_EVENT_DEPTH", uint32(IREventDepth))
	})
}

func handleConfigIR(data *[]byte) error {
	var oid, pin, control, check uint32
	if err := decodeArgs(data, &oid, &pin, &control, &check); err != nil {
		return err
	}
	if IsShutdown() {
		return errShutdown
	}

	b := MustBoard()
	if b.IR == nil {
		return ErrNoIRPeripheral
	}
	// The peripheral has a single receiver; drop the one already bound
	objMu.Lock()
	for id, obj := range objects {
		if ir, ok := obj.(*irObject); ok {
			ir.shutdown()
			delete(objects, id)
		}
	}
	objMu.Unlock()

	rx := NewIRReceiver(uint8(oid), b.IR, b.IRQ)
	if err := rx.Init(GPIOPin(pin), IRControl(control), DataCheck(check)); err != nil {
		return err
	}
	if err := addObject(oid, &irObject{rx: rx}); err != nil {
		rx.Close()
		return err
	}
	irFlushTimer.WakeTime = GetTime() + TimerFromUS(IRFlushUS)
	ScheduleTimer(&irFlushTimer)
	return nil
}

func handleIRSetDataCheck(data *[]byte) error {
	var oid, check uint32
	if err := decodeArgs(data, &oid, &check); err != nil {
		return err
	}
	o, err := lookupObject[*irObject](oid)
	if err != nil {
		return err
	}
	o.rx.SetDataCheck(DataCheck(check))
	return nil
}

func handleIREnableRx(data *[]byte) error {
	var oid uint32
	if err := decodeArgs(data, &oid); err != nil {
		return err
	}
	o, err := lookupObject[*irObject](oid)
	if err != nil {
		return err
	}
	o.rx.EnableRx()
	return nil
}

// handleIRQuery reports the last word the peripheral latched
func handleIRQuery(data *[]byte) error {
	var oid uint32
	if err := decodeArgs(data, &oid); err != nil {
		return err
	}
	o, err := lookupObject[*irObject](oid)
	if err != nil {
		return err
	}
	code, bits := o.rx.ReceivedData(), o.rx.BitCount()
	SendResponse("ir_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, code)
		protocol.EncodeVLQUint(output, uint32(bits))
	})
	return nil
}

// IRTask forwards queued IR frames to the host as ir_event responses and
// returns how many it sent. irFlushTimer runs it periodically.
func IRTask() int {
	objMu.Lock()
	defer objMu.Unlock()

	sent := 0
	for _, obj := range objects {
		ir, ok := obj.(*irObject)
		if !ok {
			continue
		}
		for {
			ev, ok := ir.rx.Events().Poll()
			if !ok {
				break
			}
			SendResponse("ir_event", func(output protocol.OutputBuffer) {
				protocol.EncodeVLQUint(output, uint32(ev.OID))
				protocol.EncodeVLQUint(output, ev.Code)
				protocol.EncodeVLQUint(output, uint32(ev.Bits))
			})
			sent++
		}
	}
	return sent
}
