// Package migrate applies the embedded client state schema to PostgreSQL.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
}

// migratorFactory builds the migrator for db. Tests replace it.
var migratorFactory = newMigrator

func newMigrator(db *sql.DB) (migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// Status describes the schema version of a database.
type Status struct {
	Version uint
	Dirty   bool
	// Latest is the highest embedded migration version.
	Latest uint
}

// Pending reports whether embedded migrations have not been applied yet.
func (s Status) Pending() bool {
	return s.Version < s.Latest
}

func (s Status) String() string {
	out := fmt.Sprintf("version %d of %d", s.Version, s.Latest)
	if s.Pending() {
		out += fmt.Sprintf(" (%d pending)", s.Latest-s.Version)
	}
	if s.Dirty {
		out += " [dirty]"
	}
	return out
}

// Latest returns the highest version among the embedded migrations.
func Latest() (uint, error) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	var latest uint
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 0)
		if err != nil {
			return 0, fmt.Errorf("parsing migration %s: %w", e.Name(), err)
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// apply builds a migrator for db and runs op on it. ErrNoChange is success.
func apply(db *sql.DB, action string, op func(migrator) error) error {
	m, err := migratorFactory(db)
	if err != nil {
		return err
	}
	if err := op(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

// Run applies all pending migrations. Applied migrations are skipped.
func Run(db *sql.DB) error {
	var status Status
	err := apply(db, "running migrations", func(m migrator) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		var err error
		status, err = current(m)
		return err
	})
	if err != nil {
		return err
	}
	if status.Dirty {
		slog.Warn("database migration state is dirty", "version", status.Version)
		return nil
	}
	slog.Info("database migrations complete", "version", status.Version)
	return nil
}

// Current reports the schema version of db against the embedded latest.
func Current(db *sql.DB) (Status, error) {
	var status Status
	err := apply(db, "reading migration version", func(m migrator) error {
		var err error
		status, err = current(m)
		return err
	})
	return status, err
}

func current(m migrator) (Status, error) {
	latest, err := Latest()
	if err != nil {
		return Status{}, err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("getting migration version: %w", err)
	}
	return Status{Version: version, Dirty: dirty, Latest: latest}, nil
}

// Down rolls back every migration, dropping the client state and snapshot
// tables.
func Down(db *sql.DB) error {
	return apply(db, "rolling back migrations", migrator.Down)
}

// Steps applies n migrations, rolling back when n is negative.
func Steps(db *sql.DB, n int) error {
	if n == 0 {
		return nil
	}
	return apply(db, "stepping migrations", func(m migrator) error {
		return m.Steps(n)
	})
}
