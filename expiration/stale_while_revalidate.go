package expiration

import "time"

// DefaultStaleDivisor makes data stale after one fifth of its TTL.
const DefaultStaleDivisor = 5

/*
StaleWhileRevalidate serves cached data until TTL and asks for a background
refresh once the data is older than TTL/StaleDivisor.

With TTL = 5m and the default divisor, a value is served instantly for its
whole life, refreshed in the background after 1m, and only waits on the
network again once it is 5m old.

A zero TTL disables ageing entirely.
*/
type StaleWhileRevalidate struct {
	TTL time.Duration

	// StaleDivisor splits TTL into the fresh window. Values below 1 mean
	// DefaultStaleDivisor.
	StaleDivisor int
}

// StaleAfter is the age after which a background refresh is triggered.
func (s *StaleWhileRevalidate) StaleAfter() time.Duration {
	d := s.StaleDivisor
	if d < 1 {
		d = DefaultStaleDivisor
	}
	return s.TTL / time.Duration(d)
}

func (s *StaleWhileRevalidate) IsExpired(fetchedAt, now time.Time) bool {
	return s.TTL > 0 && now.Sub(fetchedAt) >= s.TTL
}

func (s *StaleWhileRevalidate) IsStale(fetchedAt, now time.Time) bool {
	return s.TTL > 0 && now.Sub(fetchedAt) > s.StaleAfter()
}

// AcceptSnapshot only loads snapshots strictly younger than TTL.
func (s *StaleWhileRevalidate) AcceptSnapshot(fetchedAt, now time.Time) bool {
	return s.TTL <= 0 || now.Sub(fetchedAt) < s.TTL
}
