package pgtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/sandkit/pgtest/internal/trackdb"
)

// reap drops every tracked database created strictly before epoch and deletes
// the tracking rows of the ones that went away, returning how many were
// reclaimed. A database the server refuses to drop is assumed to belong to
// another live test process: the refusal is logged at trace level and its row
// kept, so any number of processes can run the sweep concurrently against the
// same master database.
func reap(ctx context.Context, conn *pgx.Conn, epoch time.Time) (int, error) {
	candidates, err := trackdb.StaleNames(ctx, conn, epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale test databases: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// One round trip for the whole batch. The simple query protocol reports
	// one result per statement in statement order, which is what lets a
	// refused drop be told apart from a dead connection.
	var batch strings.Builder
	for _, name := range candidates {
		batch.WriteString("drop database if exists ")
		batch.WriteString(pgx.Identifier{name}.Sanitize())
		batch.WriteString(";\n")
	}

	results := conn.PgConn().Exec(ctx, batch.String())

	dropped := make([]string, 0, len(candidates))
	i := 0
	for results.NextResult() {
		if i >= len(candidates) {
			_ = results.Close()
			return 0, fmt.Errorf("reap: got more results than the %d drops issued", len(candidates))
		}
		if _, err := results.ResultReader().Close(); err == nil {
			dropped = append(dropped, candidates[i])
		} else if !isDatabaseError(err) {
			_ = results.Close()
			return 0, fmt.Errorf("failed to drop test database %q: %w", candidates[i], err)
		} else {
			log.Trace().Str("db_name", candidates[i]).Err(err).
				Msg("could not drop test database, assuming it is in use")
		}
		i++
	}
	if err := results.Close(); err != nil {
		if !isDatabaseError(err) {
			return 0, fmt.Errorf("reap pass failed: %w", err)
		}
		// A refused drop aborts the rest of the batch on the server side.
		// Whatever is left keeps its row and gets another chance next pass.
		if i < len(candidates) {
			log.Trace().Str("db_name", candidates[i]).Err(err).
				Msg("could not drop test database, assuming it is in use")
		}
	}

	if len(dropped) == 0 {
		return 0, nil
	}
	if err := trackdb.Forget(ctx, conn, dropped); err != nil {
		return 0, fmt.Errorf("failed to delete tracking rows: %w", err)
	}
	return len(dropped), nil
}

// isDatabaseError reports whether err came from the server as a statement
// level error, as opposed to a protocol or connection failure.
func isDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

// CleanupTestDBs connects with the given connection string and reclaims every
// tracked test database older than the current wall-clock time. It is meant
// for operator use between CI runs; databases belonging to still-running
// processes refuse the drop and survive the pass.
func CleanupTestDBs(ctx context.Context, connString string) (int, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to master database: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if err := trackdb.Setup(ctx, conn); err != nil {
		return 0, err
	}
	return reap(ctx, conn, time.Now())
}
