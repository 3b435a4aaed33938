// Package sqlstore implements the storage interfaces on top of sqlx for
// PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/pkg/logger"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// postgres error classes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// Store implements storage.Gateway over a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	log     *logger.Logger
}

var _ storage.Gateway = (*Store)(nil)

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(driver, dsn string, log *logger.Logger) (*Store, error) {
	var dialect Dialect
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialect = Postgres
	case "sqlite", "sqlite3":
		dialect = SQLite
		dsn = withForeignKeys(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; also keeps in-memory databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return New(db, log), nil
}

// New wraps an existing handle. The dialect is taken from the driver name.
func New(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("sqlstore")
	}
	dialect := Postgres
	if strings.HasPrefix(db.DriverName(), "sqlite") {
		dialect = SQLite
	}
	return &Store{db: db, dialect: dialect, log: log}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// mapError translates driver errors into storage sentinels.
func (s *Store) mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: referenced record missing: %w", what, storage.ErrNotFound)
		case pqCheckViolation:
			return fmt.Errorf("%s: constraint %s violated: %w", what, pqErr.Constraint, err)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: referenced record missing: %w", what, storage.ErrNotFound)
		}
	}

	return fmt.Errorf("%s: %w", what, err)
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, reason string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction (%s): %w", reason, err)
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			s.log.Errorf("panic in transaction (%s): %v\n%s", reason, p, debug.Stack())
			_ = tx.Rollback()
			panic(p)
		}
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).Warnf("rollback failed (%s)", reason)
		}
	}()

	if err = fn(tx); err != nil {
		s.log.Debugf("transaction %s aborted: %v", reason, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction (%s): %w", reason, err)
	}
	committed = true
	return nil
}
