package types

import (
	"context"
	"errors"
)

// ErrUnauthorized marks a failure caused by a missing or expired credential.
// It is terminal for the session: caches never fall back to stale data for it
// and never retry it.
var ErrUnauthorized = errors.New("unauthorized")

// IsRetryable reports whether err is worth retrying or papering over with
// stale data.
func IsRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, context.Canceled)
}
