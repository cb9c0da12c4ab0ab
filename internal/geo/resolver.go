package geo

import (
	"context"
	"log/slog"
	"time"
)

// Tier is one step of the resolution chain. A tier reports absence instead
// of failing; errors are its own business.
type Tier interface {
	Lookup(ctx context.Context, c Coordinate) (string, bool)
}

// TierFunc adapts a function to Tier.
type TierFunc func(ctx context.Context, c Coordinate) (string, bool)

// Lookup calls f.
func (f TierFunc) Lookup(ctx context.Context, c Coordinate) (string, bool) {
	return f(ctx, c)
}

// Archive is the location history as seen by the resolver.
type Archive interface {
	Nearest(t time.Time, points []Point) (Coordinate, bool)
	Global() []Point
}

// Resolver walks cache, then the configured tiers, then gives up with
// UnknownCity. Names found by a tier are written back to the cache.
type Resolver struct {
	cache   *Cache
	tiers   []Tier
	archive Archive
	logger  *slog.Logger
}

// NewResolver composes the chain. archive may be nil when no location
// history is configured.
func NewResolver(cache *Cache, archive Archive, logger *slog.Logger, tiers ...Tier) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = OpenCache("", logger)
	}
	return &Resolver{
		cache:   cache,
		tiers:   tiers,
		archive: archive,
		logger:  logger,
	}
}

// ResolveByCoordinate names the place at c. Lookups already in flight run to
// completion even if ctx is cancelled afterwards; stopping a job never
// interrupts a geocode.
func (r *Resolver) ResolveByCoordinate(ctx context.Context, c Coordinate) string {
	if city, ok := r.cache.Lookup(c); ok {
		return city
	}

	ctx = context.WithoutCancel(ctx)
	for i, tier := range r.tiers {
		city, ok := tier.Lookup(ctx, c)
		if !ok || city == "" {
			continue
		}
		if err := r.cache.Store(c, city); err != nil {
			r.logger.Error("failed to persist geo cache", "coord", c.Key(), "error", err)
		}
		r.logger.Debug("coordinate resolved", "coord", c.Key(), "city", city, "tier", i+1)
		return city
	}
	return UnknownCity
}

// ResolveByTimestamp resolves the archive sample closest in time to t.
func (r *Resolver) ResolveByTimestamp(ctx context.Context, t time.Time, points []Point) string {
	if r.archive == nil {
		return UnknownCity
	}
	c, ok := r.archive.Nearest(t, points)
	if !ok {
		return UnknownCity
	}
	return r.ResolveByCoordinate(ctx, c)
}

// ResolveGlobal is ResolveByTimestamp over every archive sample. The answer
// is a best-effort label only.
func (r *Resolver) ResolveGlobal(ctx context.Context, t time.Time) string {
	if r.archive == nil {
		return UnknownCity
	}
	return r.ResolveByTimestamp(ctx, t, r.archive.Global())
}
