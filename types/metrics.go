package types

import "sync/atomic"

// This file defines how the cache reports what it is doing.

/*
Metrics is an interface that defines what the cache wants to measure.
Each method represents an event in the cache lifecycle.
*/
type Metrics interface {

	// Hit is called when a cached value is returned without waiting on the network.
	Hit()

	// Miss is called when the caller has to wait for a fetch.
	Miss()

	// Stale is called when a failed fetch was papered over with older data.
	Stale()

	// Refresh is called when a background refresh is started.
	Refresh()

	// RefreshFailed is called when a background refresh returns an error.
	RefreshFailed()

	// Discarded is called when a response loses against a newer stored entry
	// or against a clear issued after it.
	Discarded()

	// Eviction is called when an in-memory page is dropped to respect the page bound.
	Eviction()

	// SpillFailed is called when durable persistence did not store a snapshot.
	SpillFailed()
}

// NoopMetrics ignores every event. It is the default when no Metrics is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()           {}
func (NoopMetrics) Miss()          {}
func (NoopMetrics) Stale()         {}
func (NoopMetrics) Refresh()       {}
func (NoopMetrics) RefreshFailed() {}
func (NoopMetrics) Discarded()     {}
func (NoopMetrics) Eviction()      {}
func (NoopMetrics) SpillFailed()   {}

// CounterMetrics counts every event. Safe for concurrent use.
type CounterMetrics struct {
	Hits          atomic.Int64
	Misses        atomic.Int64
	Stales        atomic.Int64
	Refreshes     atomic.Int64
	RefreshErrors atomic.Int64
	Discards      atomic.Int64
	Evictions     atomic.Int64
	SpillFailures atomic.Int64
}

func (m *CounterMetrics) Hit()           { m.Hits.Add(1) }
func (m *CounterMetrics) Miss()          { m.Misses.Add(1) }
func (m *CounterMetrics) Stale()         { m.Stales.Add(1) }
func (m *CounterMetrics) Refresh()       { m.Refreshes.Add(1) }
func (m *CounterMetrics) RefreshFailed() { m.RefreshErrors.Add(1) }
func (m *CounterMetrics) Discarded()     { m.Discards.Add(1) }
func (m *CounterMetrics) Eviction()      { m.Evictions.Add(1) }
func (m *CounterMetrics) SpillFailed()   { m.SpillFailures.Add(1) }
