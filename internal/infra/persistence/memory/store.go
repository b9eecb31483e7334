// Package memory provides an in-memory document backend used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"variantcore/internal/infra/persistence/docstore"
	"variantcore/pkg/domain"
)

// Compile-time contract assertion ensuring Backend adheres to the docstore interface.
var _ docstore.Backend = (*Backend)(nil)

type record struct {
	accession int64
	assembly  string
	reference *int64
	payload   []byte
}

// Snapshot captures a point-in-time copy of every collection, keyed by
// collection name and document id.
type Snapshot map[string]map[string]json.RawMessage

// Backend keeps documents in process memory.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]map[string]record
	pings       atomic.Int64
}

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{collections: make(map[string]map[string]record)}
}

// NewStore returns a VariantStore over a fresh in-memory backend together
// with the backend, so tests can inspect raw state.
func NewStore(tiers domain.TierPolicy, logger logrus.FieldLogger) (*docstore.Store, *Backend) {
	b := NewBackend()
	return docstore.New(b, docstore.Options{Tiers: tiers, Logger: logger}), b
}

func cloneRecord(r record) record {
	cp := r
	cp.payload = append([]byte(nil), r.payload...)
	if r.reference != nil {
		v := *r.reference
		cp.reference = &v
	}
	return cp
}

func toRaw(id string, r record) docstore.RawDoc {
	r = cloneRecord(r)
	return docstore.RawDoc{ID: id, Accession: r.accession, Assembly: r.assembly, Reference: r.reference, Payload: r.payload}
}

func fromRaw(doc docstore.RawDoc) record {
	return cloneRecord(record{accession: doc.Accession, assembly: doc.Assembly, reference: doc.Reference, payload: doc.Payload})
}

func (b *Backend) bucket(name string) map[string]record {
	c, ok := b.collections[name]
	if !ok {
		c = make(map[string]record)
		b.collections[name] = c
	}
	return c
}

// Get implements docstore.Backend.
func (b *Backend) Get(_ context.Context, collection string, ids []string) ([]docstore.RawDoc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := b.collections[collection]
	out := make([]docstore.RawDoc, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r, ok := c[id]; ok {
			out = append(out, toRaw(id, r))
		}
	}
	return out, nil
}

// ByAccession implements docstore.Backend.
func (b *Backend) ByAccession(_ context.Context, collection string, accession int64) ([]docstore.RawDoc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []docstore.RawDoc
	for id, r := range b.collections[collection] {
		if r.accession == accession {
			out = append(out, toRaw(id, r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Insert implements docstore.Backend.
func (b *Backend) Insert(_ context.Context, collection string, docs []docstore.RawDoc) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.bucket(collection)
	var dups []int
	for i, doc := range docs {
		if _, exists := c[doc.ID]; exists {
			dups = append(dups, i)
			continue
		}
		c[doc.ID] = fromRaw(doc)
	}
	return dups, nil
}

// Upsert implements docstore.Backend.
func (b *Backend) Upsert(_ context.Context, collection string, doc docstore.RawDoc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bucket(collection)[doc.ID] = fromRaw(doc)
	return nil
}

// Delete implements docstore.Backend.
func (b *Backend) Delete(_ context.Context, collection string, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.collections[collection]
	n := 0
	for _, id := range ids {
		if _, ok := c[id]; ok {
			delete(c, id)
			n++
		}
	}
	return n, nil
}

// Query implements docstore.Backend. Results are materialised at call time,
// so writes made while the cursor is open are not observed.
func (b *Backend) Query(_ context.Context, collection string, q domain.Query) (docstore.RawCursor, error) {
	b.mu.RLock()
	var docs []docstore.RawDoc
	for id, r := range b.collections[collection] {
		raw := toRaw(id, r)
		if docstore.Matches(raw, q) {
			docs = append(docs, raw)
		}
	}
	b.mu.RUnlock()
	docstore.SortDocs(docs, q)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docstore.NewSliceCursor(docs), nil
}

// Ping implements docstore.Backend and counts keep-alive calls.
func (b *Backend) Ping(context.Context) error {
	b.pings.Add(1)
	return nil
}

// Pings returns how many times Ping was called.
func (b *Backend) Pings() int64 { return b.pings.Load() }

// Close implements docstore.Backend.
func (b *Backend) Close() error { return nil }

// Count returns the number of documents in collection.
func (b *Backend) Count(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.collections[collection])
}

// ExportState returns a deep copy of every collection's payloads.
func (b *Backend) ExportState() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(Snapshot, len(b.collections))
	for name, c := range b.collections {
		docs := make(map[string]json.RawMessage, len(c))
		for id, r := range c {
			docs[id] = append(json.RawMessage(nil), r.payload...)
		}
		out[name] = docs
	}
	return out
}
