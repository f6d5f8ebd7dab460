//go:build integration

// Package dbtest starts a disposable PostgreSQL for integration suites.
package dbtest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
)

// Postgres is a running container with the schema applied.
type Postgres struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
}

// Start runs postgres:16-alpine, connects and migrates.
func Start(ctx context.Context) (*Postgres, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("odyssey_wms"),
		postgres.WithUsername("odyssey"),
		postgres.WithPassword("odyssey"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, err
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 16})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	return &Postgres{Container: container, Pool: pool}, nil
}

// Truncate empties the given tables.
func (p *Postgres) Truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the pool and removes the container.
func (p *Postgres) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.Pool != nil {
		p.Pool.Close()
	}
	if p.Container != nil {
		return p.Container.Terminate(ctx)
	}
	return nil
}
