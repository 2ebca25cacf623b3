package pgtest

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrator applies an ordered sequence of schema migrations to a pool. The
// harness treats implementations as opaque beyond this single operation.
type Migrator interface {
	Run(ctx context.Context, pool *pgxpool.Pool) error
}

// DirMigrator runs the goose migrations found in Dir, in version order. Each
// ephemeral database keeps its own migration bookkeeping table, so tests
// migrating concurrently never contend on shared state.
type DirMigrator struct {
	Dir string
}

func (m DirMigrator) Run(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(m.Dir))
	if err != nil {
		return fmt.Errorf("failed to load migrations from %s: %w", m.Dir, err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations from %s: %w", m.Dir, err)
	}
	return nil
}
