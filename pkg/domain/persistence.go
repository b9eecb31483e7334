package domain

import "context"

// Document is implemented by every entity stored in a Collection. The store
// indexes documents by these attributes; everything else is opaque payload.
type Document interface {
	DocumentID() string
	DocumentAccession() int64
	DocumentAssembly() string
	DocumentReference() *int64
}

// SortField selects the ordering of a streamed query.
type SortField int

// Supported sort orders.
const (
	SortNone SortField = iota
	SortByAccession
	SortByReference
)

// Query filters a collection scan. Zero values disable a filter.
type Query struct {
	Assembly     string
	Accession    *int64
	Reference    *int64
	Unreferenced bool
	SortBy       SortField
	Descending   bool
	Limit        int
	// Hint names the index a backend should prefer; backends may ignore it.
	Hint string
}

// BulkResult reports the outcome of an unordered bulk insert. Duplicates holds
// the input positions rejected because a document with the same id exists.
type BulkResult struct {
	Inserted   int
	Duplicates []int
}

// Cursor streams query results. Close must be called to release the
// underlying resources, including any session keep-alive task.
type Cursor[T any] interface {
	Next(ctx context.Context) bool
	Value() T
	Err() error
	Close() error
}

// Collection is the per-tier, per-entity CRUD surface of the variant store.
type Collection[T Document] interface {
	Name() string
	FindByHash(ctx context.Context, hash string) (T, bool, error)
	FindByHashes(ctx context.Context, hashes []string) ([]T, error)
	FindByAccession(ctx context.Context, accession int64) ([]T, error)
	Exists(ctx context.Context, hash string) (bool, error)
	BulkInsert(ctx context.Context, docs []T) (BulkResult, error)
	Upsert(ctx context.Context, doc T) error
	DeleteByHash(ctx context.Context, hashes ...string) (int, error)
	Stream(ctx context.Context, q Query) (Cursor[T], error)
}

// ReadPreference mirrors the replica read routing of the backing database.
type ReadPreference string

// Read preferences understood by the store.
const (
	ReadPrimary            ReadPreference = "primary"
	ReadPrimaryPreferred   ReadPreference = "primaryPreferred"
	ReadSecondary          ReadPreference = "secondary"
	ReadSecondaryPreferred ReadPreference = "secondaryPreferred"
)

// VariantStore exposes the legacy and live collection sets.
type VariantStore interface {
	ClusteredVariants(Tier) Collection[ClusteredVariant]
	SubmittedVariants(Tier) Collection[SubmittedVariant]
	ClusteredOperations(Tier) Collection[ClusteredVariantOperation]
	SubmittedOperations(Tier) Collection[SubmittedVariantOperation]
	Tiers() TierPolicy
	ReadPreference() ReadPreference
	Ping(ctx context.Context) error
	Close() error
}
