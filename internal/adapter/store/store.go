// Package store is the typed persistence layer. It speaks sqlx over either
// an embedded sqlite database (the default) or postgres, selected by the
// database URL scheme.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/quayside/keygate/internal/logger"
)

type Store struct {
	db     *sqlx.DB
	logger *logger.StyledLogger
}

type Options struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects, applies the embedded schema and returns the store.
func Open(ctx context.Context, opts Options, log *logger.StyledLogger) (*Store, error) {
	driver, dsn := resolveDriver(opts.URL)

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	s := &Store{db: db, logger: log}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return s, nil
}

// resolveDriver maps a database URL onto a registered driver. Anything that
// is not a postgres URL is treated as a sqlite path.
func resolveDriver(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", sqliteDSN(strings.TrimPrefix(url, "sqlite://"))
	default:
		return "sqlite", sqliteDSN(url)
	}
}

// sqliteDSN enables foreign keys so upstream deletes cascade, and busy
// waiting so concurrent request logging doesn't trip SQLITE_BUSY.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ?-style placeholders to whatever the active driver wants.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// insertRow executes an INSERT and returns the generated id. pgx does not
// implement LastInsertId, so postgres goes through RETURNING instead.
func (s *Store) insertRow(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.db.DriverName() == "pgx" {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}
