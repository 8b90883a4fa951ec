// Package state persists the collector's client-side state (session,
// collection progress) across restarts.
package state

import (
	"context"
	"errors"
)

// Persisted keys. Both are cleared on logout.
const (
	KeySession         = "session"
	KeyCollectionState = "collectionState"
)

var ErrNotFound = errors.New("state: key not found")

// Store is a small durable key-value surface. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
