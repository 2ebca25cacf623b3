// Package pgtest gives each integration test its own throwaway PostgreSQL
// database. It wires in schema migrations and fixture data, and reclaims
// databases abandoned by crashed or old test runs.
//
// All tests in a process share a single master pool against the database
// named by the DATABASE_URL environment variable (a .env file is honored).
// The credentials must be allowed to create and drop databases. Each test
// gets a database named __test_<n>, recorded in a __test_databases tracking
// table; every provisioning call also sweeps databases created before the
// current process started, so leftovers from earlier crashed runs disappear
// on their own.
//
// Basic usage:
//
//	func TestAccounts(t *testing.T) {
//		args, err := pgtest.NewArgs("mypkg.TestAccounts",
//			pgtest.WithFixtures("accounts"),
//		)
//		if err != nil {
//			t.Fatal(err)
//		}
//
//		pgtest.RunWithPool(t, args, func(ctx context.Context, pool *pgxpool.Pool) error {
//			var n int
//			return pool.QueryRow(ctx, "select count(*) from accounts").Scan(&n)
//		})
//	}
//
// By default migrations are discovered in a directory named "migrations" at
// the project root. Point the harness elsewhere with WithMigrations, or skip
// the step entirely with WithoutMigrations.
//
// Besides RunWithPool there are three more entry points, each adapting the
// same harness to a different test-function shape: Run hands over the pool
// and connect configuration so the body can own its pool lifecycle,
// RunWithConn hands over a single pooled connection, and RunWithRawConn hands
// over the borrowed underlying connection.
//
// A test that passes has its database dropped immediately. A test that fails
// keeps its database for post-mortem inspection; the next run (or the pgtest
// cleanup command) reclaims it.
package pgtest
