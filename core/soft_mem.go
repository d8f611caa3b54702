package core

import (
	"errors"
	"sync"
	"unsafe"
)

var errOutOfMemory = errors.New("memory: budget exhausted")

// SoftMemory hands out heap memory against an optional byte budget.
type SoftMemory struct {
	mu     sync.Mutex
	budget int // zero means unlimited
	inUse  int
}

// NewSoftMemory returns an allocator limited to budget bytes, or unlimited
// when budget is zero.
func NewSoftMemory(budget int) *SoftMemory {
	return &SoftMemory{budget: budget}
}

func (m *SoftMemory) take(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.budget > 0 && m.inUse+n > m.budget {
		return errOutOfMemory
	}
	m.inUse += n
	return nil
}

func (m *SoftMemory) give(n int) {
	m.mu.Lock()
	m.inUse -= n
	m.mu.Unlock()
}

func (m *SoftMemory) Alloc(n int) ([]byte, error) {
	if err := m.take(n); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

func (m *SoftMemory) Free(b []byte) {
	if b != nil {
		m.give(cap(b))
	}
}

var descriptorSize = int(unsafe.Sizeof(DMADescriptor{}))

func (m *SoftMemory) AllocDescriptors(n int) ([]DMADescriptor, error) {
	if err := m.take(n * descriptorSize); err != nil {
		return nil, err
	}
	return make([]DMADescriptor, n), nil
}

func (m *SoftMemory) FreeDescriptors(d []DMADescriptor) {
	if d != nil {
		m.give(cap(d) * descriptorSize)
	}
}

// InUse returns the bytes currently allocated.
func (m *SoftMemory) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}
