package cache

import (
	"context"
	"time"
)

// AnalyticsCache stores serialized analytics results namespaced by a
// generation. Invalidate starts a new generation; entries written under an
// older one are never served again.
//
// Readers take the generation once before computing and pass it to both Get
// and Set, so a result computed from rows older than an invalidation lands
// in the retired generation instead of the current one.
type AnalyticsCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, key string) ([]byte, bool, error)
	Set(ctx context.Context, gen int64, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopAnalyticsCache struct{}

func (NoopAnalyticsCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopAnalyticsCache) Get(_ context.Context, _ int64, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopAnalyticsCache) Set(_ context.Context, _ int64, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopAnalyticsCache) Invalidate(_ context.Context) error {
	return nil
}
