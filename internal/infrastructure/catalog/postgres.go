// Package catalog reads and reconciles the source-of-truth product records.
// The schema (products, product_images) is owned by the main application;
// this package only queries it and upserts image references.
package catalog

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresCatalog implements ports.Catalog against the product database.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

var _ ports.Catalog = (*PostgresCatalog)(nil)

// NewPostgresCatalog connects a pgx pool to the catalog database.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect catalog: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

// Close releases the connection pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool so the Postgres lock backend can share
// the catalog connection instead of opening a second one.
func (c *PostgresCatalog) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies the catalog is reachable before a run starts.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	return nil
}

// EnumeratePending returns items that have a source URL and either no image
// reference or a reference whose key is absent from the object store. Both
// halves of that check matter: a dangling reference is pending work just as
// much as a missing one. The second return value counts candidates whose
// reference was intact; once the limit is reached the count stops with the
// scan.
func (c *PostgresCatalog) EnumeratePending(ctx context.Context, filter ports.PendingFilter) ([]domain.Item, int, error) {
	query, args, err := psql.
		Select("p.id", "p.source_url", "i.storage_key", "i.updated_at").
		From("products p").
		LeftJoin("product_images i ON i.product_id = p.id").
		Where(sq.And{
			sq.NotEq{"p.source_url": nil},
			sq.NotEq{"p.source_url": ""},
		}).
		OrderBy("p.id").
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build pending query: %w", err)
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query pending: %v", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var (
		items        []domain.Item
		skippedValid int
	)
	for rows.Next() {
		var (
			item      domain.Item
			key       *string
			updatedAt *time.Time
		)
		if err := rows.Scan(&item.ID, &item.SourceURL, &key, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan pending row: %w", err)
		}
		if key != nil {
			ref := domain.ImageRef{ItemID: item.ID, StorageKey: *key}
			if updatedAt != nil {
				ref.UpdatedAt = *updatedAt
			}
			item.Ref = &ref
		}
		if !isPending(item, filter.KeyExists) {
			skippedValid++
			continue
		}
		items = append(items, item)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: read pending rows: %v", domain.ErrCatalogUnavailable, err)
	}
	return items, skippedValid, nil
}

func isPending(item domain.Item, keyExists func(string) bool) bool {
	if item.Ref == nil || item.Ref.StorageKey == "" {
		return true
	}
	if keyExists == nil {
		return false
	}
	return !keyExists(item.Ref.StorageKey)
}

// UpsertImageRefs writes a batch of reconciled references, one idempotent
// upsert per item id.
func (c *PostgresCatalog) UpsertImageRefs(ctx context.Context, refs []domain.ImageRef) error {
	if len(refs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ref := range refs {
		query, args, err := psql.
			Insert("product_images").
			Columns("product_id", "storage_key", "updated_at").
			Values(ref.ItemID, ref.StorageKey, sq.Expr("now()")).
			Suffix(`ON CONFLICT (product_id) DO UPDATE
                    SET storage_key = EXCLUDED.storage_key,
                        updated_at = now()`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert for item %d: %w", ref.ItemID, err)
		}
		batch.Queue(query, args...)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range refs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert image ref: %w", err)
		}
	}
	return nil
}
