package pgtest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandkit/pgtest/internal"
	"github.com/sandkit/pgtest/internal/pgenv"
	"github.com/sandkit/pgtest/internal/trackdb"
)

func provisionForTest(t *testing.T, testPath string) *TestContext {
	t.Helper()
	ctx := context.Background()

	masterCfg, err := pgenv.MasterConfig()
	require.NoError(t, err)

	tctx, err := provision(ctx, masterCfg, testPath)
	require.NoError(t, err, "provisioning should succeed against a reachable master")

	t.Cleanup(func() { _ = dropTestDatabase(ctx, tctx.DBName) })
	return tctx
}

func TestProvision_DistinctNames(t *testing.T) {
	conn := internal.MustGetConnectionWithCleanup(t)

	first := provisionForTest(t, "pgtest/provision/"+uuid.NewString())
	second := provisionForTest(t, "pgtest/provision/"+uuid.NewString())

	assert.NotEqual(t, first.DBName, second.DBName, "sequential provisions must yield distinct names")
	for _, tctx := range []*TestContext{first, second} {
		assert.True(t, strings.HasPrefix(tctx.DBName, trackdb.NamePrefix),
			"database names carry the fixed prefix: %s", tctx.DBName)
		assert.True(t, dbExists(t, conn, tctx.DBName), "allocated database must exist")
		assert.True(t, isTracked(t, conn, tctx.DBName), "allocated database must be tracked")
	}
}

func TestProvision_RecordsTestPath(t *testing.T) {
	conn := internal.MustGetConnectionWithCleanup(t)

	testPath := "pgtest/provision/" + uuid.NewString()
	tctx := provisionForTest(t, testPath)

	var recorded string
	err := conn.QueryRow(context.Background(),
		"select test_path from __test_databases where db_name = $1", tctx.DBName).Scan(&recorded)
	require.NoError(t, err)
	assert.Equal(t, testPath, recorded)
}

func TestProvision_TestContextShape(t *testing.T) {
	tctx := provisionForTest(t, "pgtest/provision/"+uuid.NewString())

	assert.Equal(t, tctx.DBName, tctx.PoolConfig.ConnConfig.Database,
		"pool configuration must point at the allocated database")
	assert.Equal(t, tctx.DBName, tctx.ConnConfig.Database,
		"connect configuration must point at the allocated database")
	assert.Equal(t, int32(testPoolMaxConns), tctx.PoolConfig.MaxConns,
		"per-test pools use the restrictive ceiling")
	assert.Equal(t, testPoolIdleTime, tctx.PoolConfig.MaxConnIdleTime,
		"per-test pools release idle connections quickly")
}

func TestDropTestDatabase(t *testing.T) {
	conn := internal.MustGetConnectionWithCleanup(t)
	ctx := context.Background()

	masterCfg, err := pgenv.MasterConfig()
	require.NoError(t, err)

	tctx, err := provision(ctx, masterCfg, "pgtest/provision/"+uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, dropTestDatabase(ctx, tctx.DBName))
	assert.False(t, dbExists(t, conn, tctx.DBName), "database should be gone")
	assert.False(t, isTracked(t, conn, tctx.DBName), "tracking row should be gone")
}
