// Package docstore turns a raw document backend into the typed, tiered
// domain.VariantStore. Backends only deal with opaque JSON payloads plus the
// few indexed attributes every document exposes (id, accession, assembly and
// reference); encoding, tier routing and cursor keep-alive live here.
package docstore

import (
	"context"
	"sort"

	"variantcore/pkg/domain"
)

// RawDoc is the stored form of a document.
type RawDoc struct {
	ID        string
	Accession int64
	Assembly  string
	Reference *int64
	Payload   []byte
}

// RawCursor iterates raw query results.
type RawCursor interface {
	Next() bool
	Doc() RawDoc
	Err() error
	Close() error
}

// Backend is a document database organised in named collections.
type Backend interface {
	Get(ctx context.Context, collection string, ids []string) ([]RawDoc, error)
	ByAccession(ctx context.Context, collection string, accession int64) ([]RawDoc, error)
	// Insert is unordered: every document is attempted and the positions of
	// documents rejected for an existing id are returned.
	Insert(ctx context.Context, collection string, docs []RawDoc) ([]int, error)
	Upsert(ctx context.Context, collection string, doc RawDoc) error
	Delete(ctx context.Context, collection string, ids []string) (int, error)
	Query(ctx context.Context, collection string, q domain.Query) (RawCursor, error)
	Ping(ctx context.Context) error
	Close() error
}

// Matches reports whether doc satisfies the filters of q. Backends without a
// query language use it to evaluate scans.
func Matches(doc RawDoc, q domain.Query) bool {
	if q.Assembly != "" && doc.Assembly != q.Assembly {
		return false
	}
	if q.Accession != nil && doc.Accession != *q.Accession {
		return false
	}
	if q.Reference != nil && (doc.Reference == nil || *doc.Reference != *q.Reference) {
		return false
	}
	if q.Unreferenced && doc.Reference != nil {
		return false
	}
	return true
}

// SortDocs orders docs according to q. Ties are broken by id so scans are
// deterministic.
func SortDocs(docs []RawDoc, q domain.Query) {
	key := func(d RawDoc) int64 {
		switch q.SortBy {
		case domain.SortByAccession:
			return d.Accession
		case domain.SortByReference:
			if d.Reference == nil {
				return -1
			}
			return *d.Reference
		}
		return 0
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ki, kj := key(docs[i]), key(docs[j])
		if ki != kj {
			if q.Descending {
				return ki > kj
			}
			return ki < kj
		}
		return docs[i].ID < docs[j].ID
	})
}

// SliceCursor iterates an in-memory result set.
type SliceCursor struct {
	docs []RawDoc
	pos  int
}

// NewSliceCursor wraps docs in a RawCursor.
func NewSliceCursor(docs []RawDoc) *SliceCursor {
	return &SliceCursor{docs: docs, pos: -1}
}

// Next implements RawCursor.
func (c *SliceCursor) Next() bool {
	if c.pos+1 >= len(c.docs) {
		c.pos = len(c.docs)
		return false
	}
	c.pos++
	return true
}

// Doc implements RawCursor.
func (c *SliceCursor) Doc() RawDoc { return c.docs[c.pos] }

// Err implements RawCursor.
func (c *SliceCursor) Err() error { return nil }

// Close implements RawCursor.
func (c *SliceCursor) Close() error {
	c.docs = nil
	return nil
}
