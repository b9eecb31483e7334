// Package sqlite provides a SQLite-backed variant store built on the shared
// sqldoc document table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/sqldoc"
	"variantcore/pkg/domain"
)

const (
	defaultPath = "variantcore.db"
	pragmas     = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

// Dialect describes SQLite for the sqldoc backend.
var Dialect = sqldoc.Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	IsDuplicate: IsDuplicate,
}

// IsDuplicate reports whether err is a primary key or unique violation.
func IsDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// OpenBackend opens (creating if needed) the database file at path.
func OpenBackend(ctx context.Context, path string) (*sqldoc.Backend, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	backend, err := sqldoc.Open(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewStore opens a tiered variant store persisted to path.
func NewStore(ctx context.Context, path string, opts docstore.Options) (*docstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	backend, err := OpenBackend(ctx, path)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opts.Logger.WithFields(logrus.Fields{"driver": "sqlite", "path": path}).Debug("opened variant store")
	return docstore.New(backend, opts), nil
}

var _ domain.VariantStore = (*docstore.Store)(nil)
