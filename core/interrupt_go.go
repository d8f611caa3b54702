//go:build !tinygo

package core

import "sync"

// irqLock stands in for the interrupt mask so simulated handlers running on
// other goroutines serialize with the critical sections.
var irqLock sync.Mutex

type critical struct{}

// enterCritical holds irqLock until exit is called.
func enterCritical() critical {
	irqLock.Lock()
	return critical{}
}

func (critical) exit() {
	irqLock.Unlock()
}
