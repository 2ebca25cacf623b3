package pgtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sandkit/pgtest/internal/pgenv"
)

// Run is the foundation entry: fn receives the configuration of the test's
// private database rather than a live pool, and fully owns whatever pool
// lifecycle it builds from it. Migrations and fixtures have already been
// applied, and the pool used to apply them is closed before fn starts, so its
// connections never count against the ones fn opens.
func Run(t testing.TB, args TestArgs, fn func(ctx context.Context, cfg *pgxpool.Config) error) {
	t.Helper()
	RunWithPool(t, args, func(ctx context.Context, pool *pgxpool.Pool) error {
		cfg := pool.Config()
		pool.Close()
		return fn(ctx, cfg)
	})
}

// RunWithPool provisions a database, applies the declared migrations and then
// each fixture in order, and invokes fn with an open pool against it. The
// pool stays open across the call and is closed afterwards. On success the
// database and its tracking row are removed; a failed test leaves both behind
// for post-mortem inspection until a later reaper pass reclaims them.
func RunWithPool(t testing.TB, args TestArgs, fn func(ctx context.Context, pool *pgxpool.Pool) error) {
	t.Helper()
	runTest(t, args.TestPath, func(ctx context.Context, cfg *pgxpool.Config) error {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			t.Fatalf("failed to open test database pool: %v", err)
		}
		defer pool.Close()

		if args.Migrator != nil {
			if err := args.Migrator.Run(ctx, pool); err != nil {
				t.Fatalf("failed to apply migrations: %v", err)
			}
		}
		for _, fixture := range args.Fixtures {
			if err := applyFixture(ctx, pool, fixture); err != nil {
				t.Fatalf("failed to apply fixture %s: %v", fixture.Path, err)
			}
		}
		return fn(ctx, pool)
	})
}

// RunWithConn wraps RunWithPool and hands fn a single connection acquired
// from the pool.
func RunWithConn(t testing.TB, args TestArgs, fn func(ctx context.Context, conn *pgxpool.Conn) error) {
	t.Helper()
	RunWithPool(t, args, func(ctx context.Context, pool *pgxpool.Pool) error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire connection: %w", err)
		}
		defer conn.Release()
		return fn(ctx, conn)
	})
}

// RunWithRawConn wraps RunWithConn and hands fn the borrowed underlying
// connection instead of the owning pool handle.
func RunWithRawConn(t testing.TB, args TestArgs, fn func(ctx context.Context, conn *pgx.Conn) error) {
	t.Helper()
	RunWithConn(t, args, func(ctx context.Context, conn *pgxpool.Conn) error {
		return fn(ctx, conn.Conn())
	})
}

// runTest resolves a TestContext and determines the test's outcome: fn
// returning nil with the test not otherwise marked failed counts as success.
// A body that never returns normally (t.Fatal, panic) unwinds past this
// function, so cleanup is skipped exactly as for an ordinary failure.
func runTest(t testing.TB, testPath string, fn func(ctx context.Context, cfg *pgxpool.Config) error) {
	t.Helper()
	ctx := context.Background()

	masterCfg, err := pgenv.MasterConfig()
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}

	tctx, err := provision(ctx, masterCfg, testPath)
	if err != nil {
		t.Fatalf("failed to provision test database: %v", err)
	}

	if err := fn(ctx, tctx.PoolConfig); err != nil {
		t.Errorf("%s: %v", testPath, err)
		return
	}
	if t.Failed() {
		return
	}

	// The test has already passed; a failed drop only means a little garbage
	// for the next reaper pass, so it is logged rather than surfaced.
	if err := dropTestDatabase(ctx, tctx.DBName); err != nil {
		log.Warn().Str("db_name", tctx.DBName).Err(err).
			Msg("failed to clean up test database")
	}
}

// applyFixture executes one fixture's SQL. Fixtures routinely hold several
// statements, so the whole block goes over the simple query protocol.
func applyFixture(ctx context.Context, pool *pgxpool.Pool, fixture TestFixture) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Conn().PgConn().Exec(ctx, fixture.Contents).ReadAll()
	return err
}
