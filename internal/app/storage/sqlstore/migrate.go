package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

func (s *Store) migrator() (*migrate.Migrate, error) {
	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch s.dialect {
	case Postgres:
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(s.db.DB, &postgres.Config{})
	case SQLite:
		dir = "migrations/sqlite"
		driver, err = sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", s.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies all pending up migrations.
func (s *Store) Migrate() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	s.log.Infof("schema at version %d (dirty=%t)", version, dirty)
	return nil
}

// MigrateDown rolls back steps migrations.
func (s *Store) MigrateDown(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}
