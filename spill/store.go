package spill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

/*
Snapshot is the persisted form of a cache entry:

	{"data": <collection or page map>, "timestamp": <epoch millis>, "total": <optional>}

Data is stored already trimmed to a whitelisted field set, so a hydrated
snapshot carries less than a live fetch does. Full fidelity comes back with
the next refresh.
*/
type Snapshot struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Total     *int            `json:"total,omitempty"`
}

// FetchedAt converts Timestamp back to a time.
func (s Snapshot) FetchedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Encode serialises v as a snapshot taken at fetchedAt.
func Encode(v any, fetchedAt time.Time, total *int) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot data: %w", err)
	}
	return json.Marshal(Snapshot{Data: data, Timestamp: fetchedAt.UnixMilli(), Total: total})
}

// Decode unmarshals the snapshot payload into a T.
func Decode[T any](s Snapshot) (T, error) {
	var v T
	if err := json.Unmarshal(s.Data, &v); err != nil {
		return v, fmt.Errorf("decode snapshot data: %w", err)
	}
	return v, nil
}

// Outcome classifies what a persistence call did.
type Outcome int

const (
	Stored Outcome = iota
	Removed
	// Disabled means no medium is configured.
	Disabled
	// TooLarge means the payload exceeded the per-entry cap and was not attempted.
	TooLarge
	QuotaExceeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Removed:
		return "removed"
	case Disabled:
		return "disabled"
	case TooLarge:
		return "too_large"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "failed"
	}
}

// Result is returned by every persistence call in place of an error. Callers
// may log or count it, but a failed Result never affects what the cache serves.
type Result struct {
	Outcome Outcome
	Key     string
	Bytes   int
	Err     error
}

// OK reports whether the call did what was asked, or had nothing to do.
func (r Result) OK() bool {
	return r.Outcome == Stored || r.Outcome == Removed || r.Outcome == Disabled
}

/*
Store is the durable spillover behind the in-memory caches.

It is a cache of a cache: losing any key only costs a refetch. Every method
therefore swallows medium failures, logs them at warning level and reports
them in a Result.
*/
type Store struct {
	medium   Medium
	maxEntry int
	log      logrus.FieldLogger
}

// NewStore wraps medium. A nil medium yields a disabled store that accepts
// and ignores everything. maxEntryBytes of zero or less disables the
// per-entry cap.
func NewStore(medium Medium, maxEntryBytes int, log logrus.FieldLogger) *Store {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Store{
		medium:   medium,
		maxEntry: maxEntryBytes,
		log:      log.WithField("module", "spill"),
	}
}

// Enabled reports whether a medium is configured.
func (s *Store) Enabled() bool { return s != nil && s.medium != nil }

// Fits reports whether a payload of n bytes is under the per-entry cap.
func (s *Store) Fits(n int) bool {
	return s.maxEntry <= 0 || n <= s.maxEntry
}

// Save encodes v and writes it under key.
func (s *Store) Save(ctx context.Context, key string, v any, fetchedAt time.Time, total *int) Result {
	if !s.Enabled() {
		return Result{Outcome: Disabled, Key: key}
	}
	payload, err := Encode(v, fetchedAt, total)
	if err != nil {
		return s.report(Result{Outcome: Failed, Key: key, Err: err})
	}
	return s.Write(ctx, key, payload)
}

// Write stores an already encoded snapshot.
func (s *Store) Write(ctx context.Context, key string, payload []byte) Result {
	if !s.Enabled() {
		return Result{Outcome: Disabled, Key: key}
	}
	res := Result{Key: key, Bytes: len(payload)}
	if !s.Fits(len(payload)) {
		res.Outcome = TooLarge
		res.Err = fmt.Errorf("snapshot of %s exceeds cap of %s",
			humanize.Bytes(uint64(len(payload))), humanize.Bytes(uint64(s.maxEntry)))
		return s.report(res)
	}
	if err := s.medium.Write(ctx, key, string(payload)); err != nil {
		res.Err = err
		res.Outcome = Failed
		if errors.Is(err, ErrQuotaExceeded) {
			res.Outcome = QuotaExceeded
		}
		return s.report(res)
	}
	res.Outcome = Stored
	s.log.WithFields(logrus.Fields{"key": key, "bytes": len(payload)}).Debug("snapshot stored")
	return res
}

// Load returns the snapshot under key. Unreadable or corrupt snapshots are
// treated as absent; corrupt ones are removed.
func (s *Store) Load(ctx context.Context, key string) (Snapshot, bool) {
	if !s.Enabled() {
		return Snapshot{}, false
	}
	raw, ok, err := s.medium.Read(ctx, key)
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key}).WithError(err).Warn("snapshot read failed")
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.Timestamp <= 0 {
		s.log.WithFields(logrus.Fields{"key": key}).Warn("discarding corrupt snapshot")
		s.Remove(ctx, key)
		return Snapshot{}, false
	}
	return snap, true
}

// Remove deletes key from the medium.
func (s *Store) Remove(ctx context.Context, key string) Result {
	if !s.Enabled() {
		return Result{Outcome: Disabled, Key: key}
	}
	if err := s.medium.Remove(ctx, key); err != nil {
		return s.report(Result{Outcome: Failed, Key: key, Err: err})
	}
	return Result{Outcome: Removed, Key: key}
}

func (s *Store) report(res Result) Result {
	s.log.WithFields(logrus.Fields{
		"key":     res.Key,
		"bytes":   res.Bytes,
		"outcome": res.Outcome.String(),
	}).WithError(res.Err).Warn("snapshot not persisted, continuing without durable cache")
	return res
}
