package spill

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// MemoryMedium keeps values in process memory under a total byte quota.
// Both keys and values count against the quota.
type MemoryMedium struct {
	mu    sync.Mutex
	data  map[string]string
	used  int
	quota int
}

// NewMemoryMedium creates a medium holding at most quota bytes. A quota of
// zero or less means unlimited.
func NewMemoryMedium(quota int) *MemoryMedium {
	return &MemoryMedium{data: make(map[string]string), quota: quota}
}

func (m *MemoryMedium) Read(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryMedium) Write(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used
	if old, ok := m.data[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if m.quota > 0 && used > m.quota {
		return fmt.Errorf("write %q (%s of %s used): %w",
			key, humanize.Bytes(uint64(used)), humanize.Bytes(uint64(m.quota)), ErrQuotaExceeded)
	}
	m.data[key] = value
	m.used = used
	return nil
}

func (m *MemoryMedium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

// Used returns the number of bytes currently held.
func (m *MemoryMedium) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
