package pgtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// masterMaxConns caps the master pool well below PostgreSQL's default limit
// of 100 connections, leaving headroom for other test processes hitting the
// same server at the same time.
const masterMaxConns = 20

// processEpoch is the cutoff for "created before this process started". It is
// captured once, on first need, and never refreshed: every database this
// process provisions is created at or after it, so a reaper pass with this
// cutoff can only ever touch leftovers from earlier runs.
var processEpoch = sync.OnceValue(time.Now)

// masterRegistry retains the one pool per process against the database that
// hosts the tracking table. Every test shares it; no test owns it, and it is
// never torn down before process exit.
type masterRegistry struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
}

var masters masterRegistry

// getOrInit returns the process-wide master pool, creating it on the first
// call. The candidate pool is built outside the critical section (pgxpool
// does not dial until a connection is first needed, so losing the race is
// cheap); the lock only covers handle assignment. A caller whose
// configuration names a different (host, database) pair than the retained
// pool indicates the connection string changed mid-process, which is a
// programming error rather than a runtime condition: it panics.
func (r *masterRegistry) getOrInit(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	cfg = cfg.Copy()
	cfg.MaxConns = masterMaxConns

	candidate, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build master pool: %w", err)
	}

	r.mu.Lock()
	if r.pool == nil {
		r.pool = candidate
		r.mu.Unlock()
		return candidate, nil
	}
	retained := r.pool
	r.mu.Unlock()

	candidate.Close()
	assertSameIdentity(retained.Config().ConnConfig, cfg.ConnConfig)
	return retained, nil
}

// get returns the retained master pool, or nil before first initialization.
func (r *masterRegistry) get() *pgxpool.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool
}

func assertSameIdentity(retained, offered *pgx.ConnConfig) {
	if retained.Host != offered.Host {
		panic(fmt.Sprintf("pgtest: connection string changed at runtime, host differs: had %q, got %q",
			retained.Host, offered.Host))
	}
	if retained.Database != offered.Database {
		panic(fmt.Sprintf("pgtest: connection string changed at runtime, database differs: had %q, got %q",
			retained.Database, offered.Database))
	}
}
