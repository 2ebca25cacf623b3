package pgtest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandkit/pgtest/internal/trackdb"
)

// Per-test pools stay small and give up idle connections almost immediately:
// their connections compete for the same server-side capacity as every other
// concurrently running test.
const (
	testPoolMaxConns = 5
	testPoolIdleTime = time.Second
)

// TestContext carries everything one test needs to reach its private
// database: pool configuration, connect configuration, and the allocated
// name. Provisioning produces it once and the dispatcher consumes it once.
type TestContext struct {
	PoolConfig *pgxpool.Config
	ConnConfig *pgx.ConnConfig
	DBName     string
}

// provision allocates a fresh database for one test. It initializes the
// master pool on first use, makes sure the tracking schema exists, reclaims
// databases abandoned before this process started, and creates a new uniquely
// named database recorded against testPath. Any failure aborts the whole
// operation; a partial TestContext is never returned.
func provision(ctx context.Context, masterCfg *pgxpool.Config, testPath string) (*TestContext, error) {
	master, err := masters.getOrInit(ctx, masterCfg)
	if err != nil {
		return nil, err
	}

	conn, err := master.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire master connection: %w", err)
	}
	defer conn.Release()

	if err := trackdb.Setup(ctx, conn.Conn()); err != nil {
		return nil, err
	}

	// Garbage collection is amortized into the setup path so no separate
	// sweep has to run for a test suite to stay tidy.
	if _, err := reap(ctx, conn.Conn(), processEpoch()); err != nil {
		return nil, fmt.Errorf("failed to reap stale test databases: %w", err)
	}

	dbName, err := trackdb.Allocate(ctx, conn, testPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "create database "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		return nil, fmt.Errorf("failed to create database %q: %w", dbName, err)
	}

	poolCfg := master.Config()
	poolCfg.MaxConns = testPoolMaxConns
	poolCfg.MaxConnIdleTime = testPoolIdleTime
	poolCfg.ConnConfig.Database = dbName

	return &TestContext{
		PoolConfig: poolCfg,
		ConnConfig: poolCfg.ConnConfig,
		DBName:     dbName,
	}, nil
}

// dropTestDatabase removes a test's database and its tracking row after a
// successful run. The master pool must already have been initialized by the
// provision call that created the database.
func dropTestDatabase(ctx context.Context, dbName string) error {
	master := masters.get()
	if master == nil {
		return fmt.Errorf("master pool is not initialized")
	}
	if _, err := master.Exec(ctx, "drop database if exists "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", dbName, err)
	}
	if err := trackdb.ForgetOne(ctx, master, dbName); err != nil {
		return fmt.Errorf("failed to delete tracking row for %q: %w", dbName, err)
	}
	return nil
}
