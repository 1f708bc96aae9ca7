package cve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/ecu-report/internal/model"
)

// TTL is how long a cached entry is served without asking NVD again.
const TTL = 24 * time.Hour

// Cache is the slice of the store the resolver needs.
type Cache interface {
	GetCVE(ctx context.Context, cveID string) (*model.CVECacheEntry, error)
	UpsertCVE(ctx context.Context, e *model.CVECacheEntry) error
}

// Fetcher looks a CVE up upstream. A nil record with a nil error means the id is unknown.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*Record, error)
}

type Resolver struct {
	cache   Cache
	fetcher Fetcher
	log     *zap.Logger
	now     func() time.Time
	group   singleflight.Group
}

func NewResolver(cache Cache, fetcher Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:   cache,
		fetcher: fetcher,
		log:     logger.Named("cve"),
		now:     time.Now,
	}
}

// Resolve returns CVE metadata for id, serving the cache when it is fresh and falling back to a
// stale entry when NVD cannot be reached. Concurrent calls for the same id share one upstream fetch.
func (r *Resolver) Resolve(ctx context.Context, id string) (*model.CVECacheEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: CVE ID is required", model.ErrInvalidInput)
	}

	// The shared call must not die with whichever caller happened to start it.
	ch := r.group.DoChan(id, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.CVECacheEntry), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, id string) (*model.CVECacheEntry, error) {
	cached, err := r.cache.GetCVE(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read cve cache: %w", err)
	}

	now := r.now()
	if cached != nil && now.Sub(cached.FetchedAt) < TTL {
		r.log.Debug("cache hit", zap.String("cve_id", id), zap.Time("fetched_at", cached.FetchedAt))
		return cached, nil
	}

	rec, err := r.fetcher.Fetch(ctx, id)
	if err != nil {
		if cached != nil {
			r.log.Warn("NVD unavailable, serving stale entry",
				zap.String("cve_id", id),
				zap.Duration("age", now.Sub(cached.FetchedAt)),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: CVE %s not found", model.ErrNotFound, id)
	}

	entry := rec.ToEntry(id, now)
	if err := r.cache.UpsertCVE(ctx, entry); err != nil {
		r.log.Error("failed to cache CVE", zap.String("cve_id", id), zap.Error(err))
	} else {
		r.log.Info("cached CVE", zap.String("cve_id", id))
	}
	return entry, nil
}
