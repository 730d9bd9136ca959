package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. A miss is (nil, false, nil);
// callers must tolerate the cache being absent entirely.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
