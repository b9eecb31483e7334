// Package sqldoc stores documents in a single SQL table shared by every
// collection. The sqlite and postgres packages supply a Dialect and the
// opened *sql.DB.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"variantcore/internal/infra/persistence/docstore"
	"variantcore/pkg/domain"
)

var _ docstore.Backend = (*Backend)(nil)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	Name string
	// PayloadType is the column type of the JSON payload.
	PayloadType string
	// Numbered switches placeholders from ? to $1, $2, ...
	Numbered bool
	// IsDuplicate recognises a unique constraint violation.
	IsDuplicate func(error) bool
}

// Rebind rewrites ? placeholders for dialects using numbered parameters.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Backend implements docstore.Backend over database/sql.
type Backend struct {
	db      *sql.DB
	dialect Dialect
}

// Open ensures the documents table and its indexes exist.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Backend, error) {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		accession BIGINT NOT NULL,
		assembly TEXT NOT NULL,
		reference BIGINT,
		payload %s NOT NULL,
		PRIMARY KEY (collection, id)
	)`, dialect.PayloadType),
		`CREATE INDEX IF NOT EXISTS documents_accession_idx ON documents (collection, accession)`,
		`CREATE INDEX IF NOT EXISTS documents_reference_idx ON documents (collection, assembly, reference)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Backend{db: db, dialect: dialect}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

const columns = `id, accession, assembly, reference, payload`

func scanDoc(rows *sql.Rows) (docstore.RawDoc, error) {
	var (
		doc docstore.RawDoc
		ref sql.NullInt64
	)
	if err := rows.Scan(&doc.ID, &doc.Accession, &doc.Assembly, &ref, &doc.Payload); err != nil {
		return docstore.RawDoc{}, fmt.Errorf("scan document: %w", err)
	}
	if ref.Valid {
		v := ref.Int64
		doc.Reference = &v
	}
	return doc, nil
}

func collect(rows *sql.Rows) ([]docstore.RawDoc, error) {
	defer func() { _ = rows.Close() }()
	var out []docstore.RawDoc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func nullable(ref *int64) sql.NullInt64 {
	if ref == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ref, Valid: true}
}

// Get implements docstore.Backend.
func (b *Backend) Get(ctx context.Context, collection string, ids []string) ([]docstore.RawDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + columns + ` FROM documents WHERE collection = ? AND id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `) ORDER BY id`
	rows, err := b.db.QueryContext(ctx, b.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	return collect(rows)
}

// ByAccession implements docstore.Backend.
func (b *Backend) ByAccession(ctx context.Context, collection string, accession int64) ([]docstore.RawDoc, error) {
	query := `SELECT ` + columns + ` FROM documents WHERE collection = ? AND accession = ? ORDER BY id`
	rows, err := b.db.QueryContext(ctx, b.dialect.Rebind(query), collection, accession)
	if err != nil {
		return nil, fmt.Errorf("select by accession: %w", err)
	}
	return collect(rows)
}

// Insert implements docstore.Backend. Each document is inserted on its own
// so a duplicate only rejects that document.
func (b *Backend) Insert(ctx context.Context, collection string, docs []docstore.RawDoc) ([]int, error) {
	query := b.dialect.Rebind(`INSERT INTO documents (collection, ` + columns + `) VALUES (?, ?, ?, ?, ?, ?)`)
	var dups []int
	for i, doc := range docs {
		_, err := b.db.ExecContext(ctx, query, collection, doc.ID, doc.Accession, doc.Assembly, nullable(doc.Reference), doc.Payload)
		if err == nil {
			continue
		}
		if b.dialect.IsDuplicate != nil && b.dialect.IsDuplicate(err) {
			dups = append(dups, i)
			continue
		}
		return dups, fmt.Errorf("insert %s: %w", doc.ID, err)
	}
	return dups, nil
}

// Upsert implements docstore.Backend.
func (b *Backend) Upsert(ctx context.Context, collection string, doc docstore.RawDoc) error {
	query := b.dialect.Rebind(`INSERT INTO documents (collection, ` + columns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			accession = excluded.accession,
			assembly = excluded.assembly,
			reference = excluded.reference,
			payload = excluded.payload`)
	if _, err := b.db.ExecContext(ctx, query, collection, doc.ID, doc.Accession, doc.Assembly, nullable(doc.Reference), doc.Payload); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Delete implements docstore.Backend.
func (b *Backend) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM documents WHERE collection = ? AND id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	res, err := b.db.ExecContext(ctx, b.dialect.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// BuildQuery renders q as a SELECT over collection.
func BuildQuery(collection string, q domain.Query) (string, []any) {
	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
	)
	if q.Assembly != "" {
		where = append(where, "assembly = ?")
		args = append(args, q.Assembly)
	}
	if q.Accession != nil {
		where = append(where, "accession = ?")
		args = append(args, *q.Accession)
	}
	if q.Reference != nil {
		where = append(where, "reference = ?")
		args = append(args, *q.Reference)
	}
	if q.Unreferenced {
		where = append(where, "reference IS NULL")
	}
	query := `SELECT ` + columns + ` FROM documents WHERE ` + strings.Join(where, " AND ")
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	switch q.SortBy {
	case domain.SortByAccession:
		query += " ORDER BY accession " + dir + ", id ASC"
	case domain.SortByReference:
		query += " ORDER BY COALESCE(reference, -1) " + dir + ", id ASC"
	default:
		query += " ORDER BY id ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return query, args
}

// Query implements docstore.Backend with a rows-backed cursor.
func (b *Backend) Query(ctx context.Context, collection string, q domain.Query) (docstore.RawCursor, error) {
	query, args := BuildQuery(collection, q)
	rows, err := b.db.QueryContext(ctx, b.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return &rowsCursor{rows: rows}, nil
}

// Ping implements docstore.Backend.
func (b *Backend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

// Close implements docstore.Backend.
func (b *Backend) Close() error { return b.db.Close() }

type rowsCursor struct {
	rows *sql.Rows
	cur  docstore.RawDoc
	err  error
}

func (c *rowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	doc, err := scanDoc(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = doc
	return true
}

func (c *rowsCursor) Doc() docstore.RawDoc { return c.cur }

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close() error { return c.rows.Close() }
