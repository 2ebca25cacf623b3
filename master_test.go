package pgtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseConfig(t *testing.T, connString string) *pgxpool.Config {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err, "failed to parse connection string")
	return cfg
}

func TestMasterRegistry_Concurrent(t *testing.T) {
	// The registry never dials, so a throwaway address is fine here.
	cfg := mustParseConfig(t, "postgres://postgres@db.invalid:5432/master")

	var reg masterRegistry
	ctx := context.Background()

	n := 10
	pools := make([]*pgxpool.Pool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			pool, err := reg.getOrInit(ctx, cfg)
			assert.NoError(t, err, "getOrInit should not fail")
			pools[i] = pool
		}()
	}
	wg.Wait()

	require.NotNil(t, pools[0])
	for i := 1; i < n; i++ {
		assert.Same(t, pools[0], pools[i], "every caller must observe the same pool")
	}
	assert.Equal(t, int32(masterMaxConns), pools[0].Config().MaxConns)
}

func TestMasterRegistry_IdentityMismatch(t *testing.T) {
	ctx := context.Background()

	var reg masterRegistry
	_, err := reg.getOrInit(ctx, mustParseConfig(t, "postgres://postgres@db.invalid:5432/master"))
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = reg.getOrInit(ctx, mustParseConfig(t, "postgres://postgres@db.invalid:5432/other"))
	}, "a different database must be a fatal consistency violation")

	assert.Panics(t, func() {
		_, _ = reg.getOrInit(ctx, mustParseConfig(t, "postgres://postgres@elsewhere.invalid:5432/master"))
	}, "a different host must be a fatal consistency violation")
}

func TestMasterRegistry_SameIdentityKeepsFirstPool(t *testing.T) {
	ctx := context.Background()

	var reg masterRegistry
	first, err := reg.getOrInit(ctx, mustParseConfig(t, "postgres://postgres@db.invalid:5432/master"))
	require.NoError(t, err)

	second, err := reg.getOrInit(ctx, mustParseConfig(t, "postgres://postgres@db.invalid:5432/master"))
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestProcessEpoch_Fixed(t *testing.T) {
	first := processEpoch()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, first, processEpoch(), "epoch must not be refreshed per call")
	assert.False(t, first.After(time.Now()), "epoch must not be in the future")
}
