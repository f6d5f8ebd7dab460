package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCommitFailed marks a transaction whose commit returned an error; the
// server may or may not have applied it.
var ErrCommitFailed = errors.New("platform/db: commit failed")

// WithTx executes a function within a read-committed transaction. Callers that
// need a consistent view across rows take row or advisory locks first; every
// later statement then observes the rows committed before the lock was granted.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	return nil
}

// AdvisoryXactLock takes a transaction-scoped advisory lock.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, key int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}
