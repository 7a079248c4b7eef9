package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const itemColumns = `id, name, path, type, video_type, protocol, container, video_codec,
	duration_ms, is_shortcut, is_placeholder, is_virtual, metadata, updated_at`

const sourceColumns = `id, item_id, path, protocol, container, video_codec, duration_ms, width, height`

// CatalogRepository reads library items and their media sources.
// It implements catalog.Catalog.
type CatalogRepository struct {
	db     *DB
	logger *logging.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *DB, logger *logging.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

// buildListQuery renders the item query for filter with positional args
func buildListQuery(filter catalog.Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		where = append(where, fmt.Sprintf("type = ANY($%d)", len(args)))
	}

	if !filter.UpdatedSince.IsZero() {
		args = append(args, filter.UpdatedSince)
		where = append(where, fmt.Sprintf("updated_at >= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(itemColumns)
	b.WriteString(" FROM library_items")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id")

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return b.String(), args
}

// ListVideoItems lists items matching filter with their media sources
func (r *CatalogRepository) ListVideoItems(ctx context.Context, filter catalog.Filter) (items []*models.VideoItem, err error) {
	start := time.Now()
	defer func() {
		r.logger.WithField("items", len(items)).LogDatabaseOperation("list_items", time.Since(start), err)
	}()

	query, args := buildListQuery(filter)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	if err := r.loadSources(ctx, items); err != nil {
		return nil, err
	}

	return items, nil
}

// GetItemByID returns one item or catalog.ErrItemNotFound
func (r *CatalogRepository) GetItemByID(ctx context.Context, id string) (*models.VideoItem, error) {
	start := time.Now()
	query := `SELECT ` + itemColumns + ` FROM library_items WHERE id = $1`

	item, err := scanItem(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrItemNotFound
	}
	if err != nil {
		r.logger.WithItemID(id).LogDatabaseOperation("get_item", time.Since(start), err)
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	err = r.loadSources(ctx, []*models.VideoItem{item})
	r.logger.WithItemID(id).LogDatabaseOperation("get_item", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (r *CatalogRepository) loadSources(ctx context.Context, items []*models.VideoItem) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	byID := make(map[string]*models.VideoItem, len(items))
	for i, item := range items {
		ids[i] = item.ID
		byID[item.ID] = item
	}

	query := `SELECT ` + sourceColumns + ` FROM media_sources WHERE item_id = ANY($1) ORDER BY item_id, id`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to list media sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			src        models.MediaSource
			durationMs int64
			protocol   string
		)
		if err := rows.Scan(
			&src.ID, &src.ItemID, &src.Path, &protocol, &src.Container, &src.VideoCodec,
			&durationMs, &src.Width, &src.Height,
		); err != nil {
			return fmt.Errorf("failed to scan media source: %w", err)
		}
		src.Protocol = models.Protocol(protocol)
		src.Duration = time.Duration(durationMs) * time.Millisecond

		if item, ok := byID[src.ItemID]; ok {
			item.MediaSources = append(item.MediaSources, src)
		}
	}

	return rows.Err()
}

func scanItem(row pgx.Row) (*models.VideoItem, error) {
	var (
		item       models.VideoItem
		itemType   string
		videoType  string
		protocol   string
		durationMs *int64
	)

	err := row.Scan(
		&item.ID, &item.Name, &item.Path, &itemType, &videoType, &protocol,
		&item.Container, &item.VideoCodec, &durationMs,
		&item.IsShortcut, &item.IsPlaceholder, &item.IsVirtual,
		&item.Metadata, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Type = models.ItemType(itemType)
	item.VideoType = models.VideoType(videoType)
	item.Protocol = models.Protocol(protocol)
	if durationMs != nil {
		item.Duration = time.Duration(*durationMs) * time.Millisecond
	}

	return &item, nil
}
