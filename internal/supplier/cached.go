package supplier

import (
	"context"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Cache stores the last good batch per key.
type Cache interface {
	GetBatch(ctx context.Context, key string) (Batch, bool, error)
	SetBatch(ctx context.Context, key string, batch Batch) error
}

// Cached serves the last good batch when the wrapped supplier fails. The
// failure is kept on the returned batch so callers can still report it.
type Cached struct {
	inner Supplier
	cache Cache
}

func NewCached(inner Supplier, cache Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Name() string {
	return c.inner.Name()
}

func (c *Cached) FetchCategory(ctx context.Context, category string) (Batch, error) {
	return c.fetch(ctx, "category:"+category, func() (Batch, error) {
		return c.inner.FetchCategory(ctx, category)
	})
}

func (c *Cached) FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error) {
	id := ref.ID
	if id == "" {
		id = models.EventID(ref.Title, ref.Outcome)
	}
	return c.fetch(ctx, "event:"+id, func() (Batch, error) {
		return c.inner.FetchEvent(ctx, ref)
	})
}

func (c *Cached) fetch(ctx context.Context, key string, live func() (Batch, error)) (Batch, error) {
	batch, err := live()
	if err == nil {
		if serr := c.cache.SetBatch(context.WithoutCancel(ctx), key, batch); serr != nil {
			logger.Warn("Failed to cache batch %s: %v", key, serr)
		}
		return batch, nil
	}

	failure := wrap(c.inner.Name(), err)
	cached, ok, cerr := c.cache.GetBatch(context.WithoutCancel(ctx), key)
	if cerr != nil {
		logger.Warn("Failed to read cached batch %s: %v", key, cerr)
	}
	if !ok || cerr != nil {
		return Batch{}, failure
	}

	logger.Info("Serving cached batch for %s after %s", key, failure.Reason)
	cached.Source = models.SourceCache
	cached.Failure = failure
	return cached, nil
}

var _ Supplier = (*Cached)(nil)
