// Package postgres provides a Postgres-backed variant store. Documents live in
// the shared sqldoc table with JSONB payloads.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/sirupsen/logrus"

	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/sqldoc"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/variantcore?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect describes Postgres for the sqldoc backend.
var Dialect = sqldoc.Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Numbered:    true,
	IsDuplicate: IsDuplicate,
}

// IsDuplicate reports whether err is a unique_violation.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// OpenBackend connects to dsn (falls back to defaultDSN) and ensures the
// documents table exists.
func OpenBackend(ctx context.Context, dsn string) (*sqldoc.Backend, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	backend, err := sqldoc.Open(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewStore opens a tiered variant store on Postgres.
func NewStore(ctx context.Context, dsn string, opts docstore.Options) (*docstore.Store, error) {
	backend, err := OpenBackend(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opts.Logger.WithField("driver", "postgres").Debug("opened variant store")
	return docstore.New(backend, opts), nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
