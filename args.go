package pgtest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FixturesDir is the directory fixture names are resolved against, relative
// to the package under test.
const FixturesDir = "testdata/fixtures"

// TestFixture is a named, static block of SQL applied to a freshly
// provisioned database before the test body runs.
type TestFixture struct {
	Path     string
	Contents string
}

// TestArgs is the declared setup of one test: its identifying path, an
// optional migrator, and fixtures applied in declared order after migrations.
type TestArgs struct {
	TestPath string
	Migrator Migrator
	Fixtures []TestFixture
}

// Option configures the TestArgs built by NewArgs.
type Option func(*argsBuilder) error

type migrationsMode int

const (
	migrationsInferred migrationsMode = iota
	migrationsExplicit
	migrationsDisabled
)

type argsBuilder struct {
	fixtures      []TestFixture
	fixturesSet   bool
	migrations    migrationsMode
	migrationsDir string
}

// NewArgs builds the TestArgs for one test invocation. testPath identifies
// the test, by convention its package-qualified name, and must not be empty.
// Configuration mistakes are reported here, before any database work starts.
//
// When no migrations option is given, a directory literally named
// "migrations" at the project root (the nearest parent directory holding a
// go.mod) is used.
func NewArgs(testPath string, opts ...Option) (TestArgs, error) {
	if testPath == "" {
		return TestArgs{}, fmt.Errorf("test path cannot be empty")
	}

	b := &argsBuilder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return TestArgs{}, err
		}
	}

	args := TestArgs{TestPath: testPath, Fixtures: b.fixtures}
	switch b.migrations {
	case migrationsExplicit:
		args.Migrator = DirMigrator{Dir: b.migrationsDir}
	case migrationsInferred:
		dir, err := inferMigrationsDir()
		if err != nil {
			return TestArgs{}, err
		}
		args.Migrator = DirMigrator{Dir: dir}
	case migrationsDisabled:
		// No migration step.
	}
	return args, nil
}

// WithFixtures resolves each name against FixturesDir, appending ".sql" when
// the name carries no extension, and embeds the file contents. Declaring a
// fixtures option more than once is a configuration error; an empty list is
// permitted.
func WithFixtures(names ...string) Option {
	return func(b *argsBuilder) error {
		if b.fixturesSet {
			return fmt.Errorf("duplicate fixtures option")
		}
		b.fixturesSet = true

		for _, name := range names {
			if name == "" {
				return fmt.Errorf("fixtures: name cannot be empty")
			}
			path := filepath.Join(FixturesDir, name)
			if filepath.Ext(path) == "" {
				path += ".sql"
			}
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("fixtures: failed to read %s: %w", path, err)
			}
			b.fixtures = append(b.fixtures, TestFixture{Path: path, Contents: string(contents)})
		}
		return nil
	}
}

// WithFixtureFS embeds fixtures from fsys instead of the working directory,
// which pairs naturally with go:embed. Names are resolved as-is within fsys.
// It counts as the same option as WithFixtures for duplicate detection.
func WithFixtureFS(fsys fs.FS, names ...string) Option {
	return func(b *argsBuilder) error {
		if b.fixturesSet {
			return fmt.Errorf("duplicate fixtures option")
		}
		b.fixturesSet = true

		for _, name := range names {
			if name == "" {
				return fmt.Errorf("fixtures: name cannot be empty")
			}
			contents, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("fixtures: failed to read %s: %w", name, err)
			}
			b.fixtures = append(b.fixtures, TestFixture{Path: name, Contents: string(contents)})
		}
		return nil
	}
}

// WithMigrations points the harness at an explicit migrations directory.
func WithMigrations(dir string) Option {
	return func(b *argsBuilder) error {
		if b.migrations != migrationsInferred {
			return fmt.Errorf("duplicate migrations option")
		}
		if dir == "" {
			return fmt.Errorf("migrations: directory cannot be empty")
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("migrations: %s is not a directory", dir)
		}
		b.migrations = migrationsExplicit
		b.migrationsDir = dir
		return nil
	}
}

// WithoutMigrations disables automatic migration discovery for this test.
func WithoutMigrations() Option {
	return func(b *argsBuilder) error {
		if b.migrations != migrationsInferred {
			return fmt.Errorf("duplicate migrations option")
		}
		b.migrations = migrationsDisabled
		return nil
	}
}

// WithDefaultMigrations is always rejected: the default migrations directory
// is what a test gets when no migrations option is given, so requesting it
// explicitly is redundant and usually hides a typo.
func WithDefaultMigrations() Option {
	return func(*argsBuilder) error {
		return fmt.Errorf("migrations: requesting the default directory explicitly is redundant, omit the option instead")
	}
}

// inferMigrationsDir locates the default migrations directory by walking up
// from the working directory to the nearest go.mod.
func inferMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			migrations := filepath.Join(dir, "migrations")
			info, err := os.Stat(migrations)
			if err != nil || !info.IsDir() {
				return "", fmt.Errorf("no migrations directory at %s (use WithMigrations for another path, or WithoutMigrations to skip)", migrations)
			}
			return migrations, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod found above %s to infer the migrations directory", dir)
		}
		dir = parent
	}
}
