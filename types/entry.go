package types

import "time"

/*
CacheEntry is one cached value together with the moment its fetch was issued.

Entries are immutable once stored. A refetch builds a new entry and the store
swaps it in as a whole, so readers never see a half-written value.

FetchedAt is the time the request was ISSUED, not the time it completed.
Ordering writes by issue time is what lets a slow background refresh lose
against a forced refetch that started after it.
*/
type CacheEntry[T any] struct {
	Key       string
	Data      T
	FetchedAt time.Time
}

// Age returns how old the entry is at now.
func (e *CacheEntry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}
