// Package lock implements the cross-replica processing locks. Every backend
// fails closed: when the store cannot confirm an acquisition, the item is
// skipped rather than double-processed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

// ErrNotHeld is returned by Renew when the caller no longer owns the lock,
// typically because the TTL expired and another worker reclaimed it.
var ErrNotHeld = errors.New("lock is not held by this owner")

// PostgresLocks keeps locks in a processing_locks table. Expiry is checked
// inside the same statement that inserts, so acquisition is a single atomic
// conditional write and a stale lock is reclaimed in place.
type PostgresLocks struct {
	pool *pgxpool.Pool
}

var _ ports.LockManager = (*PostgresLocks)(nil)

// NewPostgresLocks ensures the lock table exists and returns the manager.
// The table is created here (not by the catalog's migrations) because lock
// state belongs to this pipeline, not to the product schema.
func NewPostgresLocks(ctx context.Context, pool *pgxpool.Pool) (*PostgresLocks, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processing_locks (
			item_id     BIGINT PRIMARY KEY,
			owner_token TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("ensure lock table: %w", err)
	}
	return &PostgresLocks{pool: pool}, nil
}

// Ping verifies the lock store before a run starts.
func (l *PostgresLocks) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLockStoreUnavailable, err)
	}
	return nil
}

// Acquire atomically claims the item unless a non-expired lock exists. The
// ON CONFLICT arm only fires when the existing lock has expired, so a
// read-then-write race is impossible.
func (l *PostgresLocks) Acquire(ctx context.Context, itemID int64, owner string, ttl time.Duration) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO processing_locks (item_id, owner_token, acquired_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (item_id) DO UPDATE
		SET owner_token = EXCLUDED.owner_token,
		    acquired_at = now(),
		    expires_at  = EXCLUDED.expires_at
		WHERE processing_locks.expires_at < now()`,
		itemID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %d: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Renew extends the expiry while the caller still owns a live lock. An
// expired lock is renewable by nobody: it is up for reacquisition, and the
// stale holder gets ErrNotHeld like every other backend reports.
func (l *PostgresLocks) Renew(ctx context.Context, itemID int64, owner string, ttl time.Duration) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE processing_locks
		SET expires_at = now() + make_interval(secs => $3)
		WHERE item_id = $1 AND owner_token = $2 AND expires_at > now()`,
		itemID, owner, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("renew lock %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("renew lock %d: %w", itemID, ErrNotHeld)
	}
	return nil
}

// Release deletes the lock only when the owner still matches, so a worker
// that lost its lock to expiry cannot free someone else's reacquisition.
func (l *PostgresLocks) Release(ctx context.Context, itemID int64, owner string) error {
	_, err := l.pool.Exec(ctx, `
		DELETE FROM processing_locks
		WHERE item_id = $1 AND owner_token = $2`,
		itemID, owner)
	if err != nil {
		return fmt.Errorf("release lock %d: %w", itemID, err)
	}
	return nil
}
