package spill

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by a Medium when a write does not fit in its
// remaining capacity.
var ErrQuotaExceeded = errors.New("spill: quota exceeded")

/*
Medium is a size-limited durable key/value store shared by every cache.

Any write may fail with ErrQuotaExceeded regardless of payload size, since
other keys compete for the same capacity. Read returns ok=false for an
absent key.
*/
type Medium interface {
	Read(ctx context.Context, key string) (value string, ok bool, err error)
	Write(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
