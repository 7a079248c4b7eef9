package cache

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// CachedCatalog is a read-through cache in front of a catalog. Only
// GetItemByID is cached; listing always goes to the backing catalog.
// Cache failures fall through to the backing catalog.
type CachedCatalog struct {
	next   catalog.Catalog
	cache  *Cache
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedCatalog wraps next with c
func NewCachedCatalog(next catalog.Catalog, c *Cache, ttl time.Duration, logger *logging.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCatalog{next: next, cache: c, ttl: ttl, logger: logger}
}

// ListVideoItems delegates to the backing catalog
func (cc *CachedCatalog) ListVideoItems(ctx context.Context, filter catalog.Filter) ([]*models.VideoItem, error) {
	return cc.next.ListVideoItems(ctx, filter)
}

// GetItemByID serves from redis when possible
func (cc *CachedCatalog) GetItemByID(ctx context.Context, id string) (*models.VideoItem, error) {
	item, err := cc.cache.GetItem(ctx, id)
	if err != nil {
		cc.logger.WithItemID(id).WarnWithErr("Catalog cache read failed", err)
	}
	metrics.RecordCacheAccess("catalog_item", item != nil)
	if item != nil {
		return item, nil
	}

	item, err = cc.next.GetItemByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := cc.cache.SetItem(ctx, item, cc.ttl); err != nil {
		cc.logger.WithItemID(id).WarnWithErr("Catalog cache write failed", err)
	}
	return item, nil
}

// Invalidate drops the cached copy of an item
func (cc *CachedCatalog) Invalidate(ctx context.Context, id string) error {
	return cc.cache.DeleteItem(ctx, id)
}
