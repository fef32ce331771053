package eviction

import "fmt"

/*
This file defines how the paged cache decides which pages to let go of,
either because the in-memory page bound is reached or because a durable
snapshot has to shrink to fit its size cap.
*/

/*
Policy is the interface that all eviction strategies must follow.
The cache does NOT care how eviction works internally. It only calls these
methods. Implementations are not safe for concurrent use; the paged cache
guards its policy with its own mutex.
*/
type Policy interface {

	// OnGet is called whenever a page is served from memory.
	OnGet(string)

	// OnPut is called whenever a page entry is stored.
	OnPut(string)

	// Remove is called when a key is dropped for any reason other than Evict.
	Remove(string)

	// Evict picks the key to drop next, removes it from tracking and returns it.
	// It returns "" when nothing is tracked.
	Evict() string

	// Order lists tracked keys from the first to be evicted to the last,
	// without changing any state.
	Order() []string

	// Len returns how many keys are tracked.
	Len() int
}

// PolicyType is a simple identifier for supported eviction strategies.
type PolicyType string

const (
	// LRU (Least Recently Used): drops the page nobody has looked at for the longest time.
	LRU PolicyType = "LRU"

	// FIFO (First In First Out): drops the page that was cached first, regardless of access.
	FIFO PolicyType = "FIFO"
)

// NewEvictionPolicy is a small factory function.
func NewEvictionPolicy(t PolicyType) (Policy, error) {
	switch t {
	case LRU, "":
		return newLRU(), nil
	case FIFO:
		return newFIFO(), nil
	default:
		return nil, fmt.Errorf("eviction: unknown policy %q", t)
	}
}
