// Package catalog defines the read-only contract to the host library
// catalog that trickplay generation consumes.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ErrItemNotFound is returned when an id is unknown to the catalog
var ErrItemNotFound = errors.New("item not found")

// Filter narrows ListVideoItems
type Filter struct {
	Types        []models.ItemType
	UpdatedSince time.Time
	Limit        int
	Offset       int
}

// Match reports whether item passes the filter's type and time criteria
func (f Filter) Match(item *models.VideoItem) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if item.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedSince.IsZero() && item.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	return true
}

// VideoFilter selects every video-bearing item type
func VideoFilter() Filter {
	return Filter{Types: []models.ItemType{models.ItemTypeVideo, models.ItemTypeMovie, models.ItemTypeEpisode}}
}

// Catalog enumerates and looks up library items
type Catalog interface {
	ListVideoItems(ctx context.Context, filter Filter) ([]*models.VideoItem, error)
	GetItemByID(ctx context.Context, id string) (*models.VideoItem, error)
}

// ListAll pages through the catalog with the given page size
func ListAll(ctx context.Context, c Catalog, filter Filter, pageSize int) ([]*models.VideoItem, error) {
	if pageSize <= 0 {
		return c.ListVideoItems(ctx, filter)
	}

	var all []*models.VideoItem
	filter.Limit = pageSize
	filter.Offset = 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.ListVideoItems(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		filter.Offset += pageSize
	}
}

// Static is an in-memory catalog
type Static struct {
	mu    sync.RWMutex
	items map[string]*models.VideoItem
}

// NewStatic creates a catalog holding items
func NewStatic(items ...*models.VideoItem) *Static {
	s := &Static{items: make(map[string]*models.VideoItem)}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

// LoadFile reads a JSON array of items into a static catalog
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var items []*models.VideoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
	}

	return NewStatic(items...), nil
}

// Put adds or replaces an item
func (s *Static) Put(item *models.VideoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// Remove deletes an item
func (s *Static) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// ListVideoItems returns matching items ordered by id
func (s *Static) ListVideoItems(ctx context.Context, filter Filter) ([]*models.VideoItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]*models.VideoItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.Match(item) {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.VideoItem{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// GetItemByID returns the item or ErrItemNotFound
func (s *Static) GetItemByID(ctx context.Context, id string) (*models.VideoItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item, nil
}
