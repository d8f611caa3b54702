package core

import (
	"sync/atomic"

	"ledwire/protocol"
)

// ClockFreq is the tick rate targets feed into SetTime.
const ClockFreq = 1000000

var (
	systemTicks atomic.Uint32
	uptimeHigh  atomic.Uint32
)

// GetTime returns the current system time in ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime publishes the hardware counter. A value below the previous one
// is taken as a wrap of the 32-bit counter.
func SetTime(ticks uint32) {
	if prev := systemTicks.Swap(ticks); ticks < prev {
		uptimeHigh.Add(1)
	}
}

// GetUptime returns the 64-bit tick count since boot
func GetUptime() uint64 {
	return uint64(uptimeHigh.Load())<<32 | uint64(GetTime())
}

// TimerFromUS converts microseconds to ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * ClockFreq / 1000000)
}

// timeBefore compares tick values across counter wrap.
func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

func registerClockCommands() {
	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("clock", "clock=%u")
	RegisterConstant("CLOCK_FREQ", uint32(ClockFreq))
}

func handleGetUptime(data *[]byte) error {
	up := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(up>>32))
		protocol.EncodeVLQUint(output, uint32(up))
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	now := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
	return nil
}

// Timer is a scheduled callback. Handler returns SF_RESCHEDULE after
// moving WakeTime forward to run again.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	next     *Timer
	queued   bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var timerList *Timer

// ScheduleTimer adds t to the schedule. Adding a queued timer is a no-op.
func ScheduleTimer(t *Timer) {
	cs := enterCritical()
	defer cs.exit()
	insertTimer(t)
}

func insertTimer(t *Timer) {
	if t.queued {
		return
	}
	t.queued = true
	if timerList == nil || timeBefore(t.WakeTime, timerList.WakeTime) {
		t.next = timerList
		timerList = t
		return
	}
	cur := timerList
	for cur.next != nil && !timeBefore(t.WakeTime, cur.next.WakeTime) {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

// CancelTimer removes t from the schedule if it is queued.
func CancelTimer(t *Timer) {
	cs := enterCritical()
	defer cs.exit()
	for p := &timerList; *p != nil; p = &(*p).next {
		if *p == t {
			*p = t.next
			t.next = nil
			t.queued = false
			return
		}
	}
}

// popDue removes the first timer due at now.
func popDue(now uint32) *Timer {
	cs := enterCritical()
	defer cs.exit()
	t := timerList
	if t == nil || timeBefore(now, t.WakeTime) {
		return nil
	}
	timerList = t.next
	t.next = nil
	t.queued = false
	return t
}

// TimerDispatch runs every timer due at the current time. Handlers run
// with interrupts enabled.
func TimerDispatch() int {
	now := GetTime()
	ran := 0
	for t := popDue(now); t != nil; t = popDue(now) {
		ran++
		if t.Handler(t) == SF_RESCHEDULE {
			if !timeBefore(now, t.WakeTime) {
				// Do not spin on a handler that fell behind
				t.WakeTime = now + 1
			}
			ScheduleTimer(t)
		}
	}
	return ran
}
