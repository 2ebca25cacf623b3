// Package pgenv resolves the master database configuration from the
// environment. The harness uses a single connection string variable; a .env
// file in the working directory is honored for local development.
package pgenv

import (
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// EnvVar is the environment variable that supplies the master connection
// string. The credentials it carries must be allowed to create and drop
// databases.
const EnvVar = "DATABASE_URL"

var loadDotenv = sync.OnceFunc(func() {
	_ = godotenv.Load()
})

// ConnString returns the master connection string from the environment.
func ConnString() (string, error) {
	loadDotenv()
	connString := os.Getenv(EnvVar)
	if connString == "" {
		return "", fmt.Errorf("%s must be set to use the test database harness", EnvVar)
	}
	return connString, nil
}

// MasterConfig parses the master connection string into a pool configuration.
func MasterConfig() (*pgxpool.Config, error) {
	connString, err := ConnString()
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", EnvVar, err)
	}
	return cfg, nil
}
