package core

import "sync/atomic"

// Event is a binary flag that interrupt handlers set and one task waits on.
// Taking the flag clears it.
type Event struct {
	ch chan struct{}
}

// NewEvent returns a cleared event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set raises the flag. It never blocks and is safe from interrupt context.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
		// Already set
	}
}

// Clear drops a pending flag without waiting.
func (e *Event) Clear() {
	select {
	case <-e.ch:
	default:
	}
}

// IsSet reports whether the flag is raised, without taking it.
func (e *Event) IsSet() bool {
	return len(e.ch) > 0
}

// C returns the channel a waiter receives from to take the flag.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

// EventQueue is a bounded queue fed from interrupt context. Posting never
// blocks; when the queue is full the new item is dropped and counted.
type EventQueue[T any] struct {
	ch      chan T
	dropped atomic.Uint32
}

// NewEventQueue creates a queue holding up to depth items.
func NewEventQueue[T any](depth int) *EventQueue[T] {
	return &EventQueue[T]{ch: make(chan T, depth)}
}

// Post enqueues v and reports whether it was accepted.
func (q *EventQueue[T]) Post(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll returns the oldest queued item, if any.
func (q *EventQueue[T]) Poll() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the queue for select loops.
func (q *EventQueue[T]) C() <-chan T {
	return q.ch
}

// Dropped returns how many posts were rejected.
func (q *EventQueue[T]) Dropped() uint32 {
	return q.dropped.Load()
}
