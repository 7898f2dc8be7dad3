package analytics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"rollyshop/backend/internal/cache"
	"rollyshop/backend/internal/domain"
)

// Engine resolves report date ranges in a fixed timezone and memoizes
// results in an AnalyticsCache until the next write invalidates it.
type Engine struct {
	loc    *time.Location
	cache  cache.AnalyticsCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewEngine(loc *time.Location, c cache.AnalyticsCache, ttl time.Duration, logger *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if c == nil {
		c = cache.NoopAnalyticsCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{loc: loc, cache: c, ttl: ttl, logger: logger}
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// Bounds turns an inclusive date range into the half-open instant range
// [from 00:00, to+1 00:00) in the report timezone.
func (e *Engine) Bounds(r domain.DateRange) (time.Time, time.Time) {
	fy, fm, fd := r.From.Date()
	ty, tm, td := r.To.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, e.loc)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, e.loc).AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// Today is the single-day range containing now in the report timezone.
func (e *Engine) Today(now time.Time) domain.DateRange {
	local := now.In(e.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return domain.DateRange{From: day, To: day}
}

func (e *Engine) Invalidate(ctx context.Context) {
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("analytics cache invalidate failed", zap.Error(err))
	}
}

// Cached returns the cached value under key or computes, stores and returns
// it. The generation is read before computing and the result is stored under
// that generation, so an invalidation that lands mid-computation retires the
// result instead of publishing it. Cache failures degrade to computing.
func Cached[T any](ctx context.Context, e *Engine, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	gen, err := e.cache.Generation(ctx)
	if err != nil {
		e.logger.Warn("analytics cache generation failed", zap.String("key", key), zap.Error(err))
		return compute(ctx)
	}

	if payload, ok, err := e.cache.Get(ctx, gen, key); err != nil {
		e.logger.Warn("analytics cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var hit T
		if err := json.Unmarshal(payload, &hit); err == nil {
			return hit, nil
		}
		e.logger.Warn("analytics cache entry unreadable", zap.String("key", key))
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		e.logger.Warn("analytics cache encode failed", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	if err := e.cache.Set(ctx, gen, key, payload, e.ttl); err != nil {
		e.logger.Warn("analytics cache set failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// RangeKey renders an optional date range for use in cache keys.
func RangeKey(r *domain.DateRange) string {
	if r == nil {
		return "all"
	}
	return r.From.Format("2006-01-02") + ".." + r.To.Format("2006-01-02")
}
