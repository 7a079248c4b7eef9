package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, _ := setupTestCache(t)
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestCache_ItemOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	item := &models.VideoItem{
		ID:       "item-1",
		Name:     "Movie",
		Path:     "/media/movie.mkv",
		Type:     models.ItemTypeMovie,
		Protocol: models.ProtocolFile,
		Duration: 90 * time.Minute,
	}

	require.NoError(t, cache.SetItem(ctx, item, 5*time.Minute))
	assert.True(t, mr.Exists("trickplay:item:item-1"))

	got, err := cache.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.Path, got.Path)
	assert.Equal(t, item.Duration, got.Duration)

	missing, err := cache.GetItem(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	mr.FastForward(6 * time.Minute)
	expired, err := cache.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Nil(t, expired)

	require.NoError(t, cache.SetItem(ctx, item, time.Minute))
	require.NoError(t, cache.DeleteItem(ctx, "item-1"))
	assert.False(t, mr.Exists("trickplay:item:item-1"))
}

type countingCatalog struct {
	catalog.Catalog
	mu    sync.Mutex
	calls int
}

func (c *countingCatalog) GetItemByID(ctx context.Context, id string) (*models.VideoItem, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Catalog.GetItemByID(ctx, id)
}

func TestCachedCatalogReadThrough(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	backing := &countingCatalog{Catalog: catalog.NewStatic(&models.VideoItem{ID: "a", Type: models.ItemTypeMovie})}
	cc := NewCachedCatalog(backing, cache, time.Minute, logging.NewNopLogger())

	for i := 0; i < 3; i++ {
		item, err := cc.GetItemByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", item.ID)
	}
	assert.Equal(t, 1, backing.calls)

	_, err := cc.GetItemByID(ctx, "missing")
	assert.True(t, errors.Is(err, catalog.ErrItemNotFound))

	require.NoError(t, cc.Invalidate(ctx, "a"))
	_, err = cc.GetItemByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, backing.calls)

	// redis outage falls through to the backing catalog
	mr.Close()
	item, err := cc.GetItemByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", item.ID)

	items, err := cc.ListVideoItems(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

type recordingSubmitter struct {
	mu     sync.Mutex
	reqs   []models.GenerationRequest
	accept bool
}

func (r *recordingSubmitter) Submit(req models.GenerationRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.accept
}

func TestLockingTriggerDedupes(t *testing.T) {
	cache, mr := setupTestCache(t)

	next := &recordingSubmitter{accept: true}
	trigger := NewLockingTrigger(next, cache, time.Minute, logging.NewNopLogger())

	req := models.GenerationRequest{Kind: models.RequestKindItem, ItemID: "a"}
	assert.True(t, trigger.Submit(req))
	assert.True(t, trigger.Submit(req))
	assert.Len(t, next.reqs, 1)

	mr.FastForward(2 * time.Minute)
	assert.True(t, trigger.Submit(req))
	assert.Len(t, next.reqs, 2)
}

func TestLockingTriggerReleasesOnReject(t *testing.T) {
	cache, mr := setupTestCache(t)

	next := &recordingSubmitter{accept: false}
	trigger := NewLockingTrigger(next, cache, time.Minute, logging.NewNopLogger())

	assert.False(t, trigger.Submit(models.GenerationRequest{Kind: models.RequestKindItem, ItemID: "a"}))
	assert.False(t, mr.Exists("trickplay:lock:ondemand:a"))
}
