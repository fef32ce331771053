// This file defines how cache entries age over time.

package expiration

import "time"

/*
Strategy is the interface that all ageing rules must follow. The cache asks
it three questions about an entry's fetch time, and never looks at TTLs itself.
*/
type Strategy interface {

	// IsExpired reports whether data fetched at fetchedAt is too old to be
	// served without first trying the network.
	IsExpired(fetchedAt, now time.Time) bool

	// IsStale reports whether data fetched at fetchedAt is still servable but
	// old enough that a background refresh should start.
	IsStale(fetchedAt, now time.Time) bool

	// AcceptSnapshot reports whether a durable snapshot taken at fetchedAt may
	// be loaded into memory at startup.
	AcceptSnapshot(fetchedAt, now time.Time) bool
}
