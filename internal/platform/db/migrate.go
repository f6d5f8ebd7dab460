package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema files in lexical order. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("platform/db: list schema: %w", err)
	}
	sort.Strings(files)
	for _, name := range files {
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("platform/db: read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("platform/db: apply %s: %w", name, err)
		}
	}
	return nil
}
