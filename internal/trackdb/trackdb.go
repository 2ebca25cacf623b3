// Package trackdb owns the bookkeeping for ephemeral test databases: one row
// per database that is still believed to be needed by a live or abandoned
// test. The table, its creation-time index, and the name sequence live in the
// same database the master pool connects to.
package trackdb

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// NamePrefix starts every ephemeral database name. The rest of the name is a
// value drawn from the __test_database_ids sequence.
const NamePrefix = "__test_"

// DBTX is the subset of pgx execution methods the tracking queries need.
// It is satisfied by *pgx.Conn, pgx.Tx, *pgxpool.Pool, and *pgxpool.Conn.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Setup creates the tracking table, its index, and the name sequence if they
// do not exist yet. It takes a transaction-scoped advisory lock first, so it
// is safe to run concurrently and repeatedly from any number of processes.
func Setup(ctx context.Context, conn *pgx.Conn) error {
	// Lock ID is arbitrary but must be the same everywhere the schema is created.
	const lockID int64 = 740911

	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock($1)", lockID); err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to create tracking schema: %w", err)
		}
		return nil
	})
}

// Allocate reserves a new database name and records which test it belongs to.
// Insert and read-back are one statement, so a crash can never leave an
// allocated name without a tracking row.
func Allocate(ctx context.Context, db DBTX, testPath string) (string, error) {
	var name string
	err := db.QueryRow(ctx,
		`insert into __test_databases (db_name, test_path)
		 values ('__test_' || nextval('__test_database_ids'), $1)
		 returning db_name`,
		testPath,
	).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("failed to allocate test database name: %w", err)
	}
	return name, nil
}

// StaleNames returns the names of databases created strictly before cutoff.
func StaleNames(ctx context.Context, db DBTX, cutoff time.Time) ([]string, error) {
	rows, err := db.Query(ctx,
		"select db_name from __test_databases where created_at < $1", cutoff)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Forget removes the tracking rows for the given database names.
func Forget(ctx context.Context, db DBTX, names []string) error {
	_, err := db.Exec(ctx,
		"delete from __test_databases where db_name = any($1)", names)
	return err
}

// ForgetOne removes the tracking row for a single database name.
func ForgetOne(ctx context.Context, db DBTX, name string) error {
	_, err := db.Exec(ctx,
		"delete from __test_databases where db_name = $1", name)
	return err
}
