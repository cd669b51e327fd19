package cache

import (
	"context"
	"time"
)

// Cache stores JSON snapshots under string keys. Implementations never hand
// out references to stored values.
type Cache interface {
	// Get decodes the value at key into dest and reports whether it was present.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
