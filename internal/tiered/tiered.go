// Package tiered implements lookups that span the legacy and live tiers of a
// domain.VariantStore. Reads consult the legacy tier first.
package tiered

import (
	"context"
	"fmt"

	"variantcore/pkg/domain"
)

// Collect drains cur and closes it.
func Collect[T any](ctx context.Context, cur domain.Cursor[T]) ([]T, error) {
	defer func() { _ = cur.Close() }()
	var out []T
	for cur.Next(ctx) {
		out = append(out, cur.Value())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ForEachChunk drains cur in slices of at most size documents, calling fn
// for each, and closes it. fn may write to the store while cur is open.
func ForEachChunk[T any](ctx context.Context, cur domain.Cursor[T], size int, fn func([]T) error) error {
	defer func() { _ = cur.Close() }()
	if size <= 0 {
		size = 1
	}
	chunk := make([]T, 0, size)
	for cur.Next(ctx) {
		chunk = append(chunk, cur.Value())
		if len(chunk) < size {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
		chunk = make([]T, 0, size)
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

// InsertOnce inserts doc unless a document with the same id already exists.
// It reports whether doc was written; losing an insert race is not an error.
func InsertOnce[T domain.Document](ctx context.Context, coll domain.Collection[T], doc T) (bool, error) {
	exists, err := coll.Exists(ctx, doc.DocumentID())
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	res, err := coll.BulkInsert(ctx, []T{doc})
	if err != nil {
		return false, err
	}
	return res.Inserted == 1, nil
}

// FindClustered looks up the clustered variant stored under hash in either tier.
func FindClustered(ctx context.Context, store domain.VariantStore, hash string) (domain.ClusteredVariant, domain.Tier, bool, error) {
	for _, tier := range domain.AllTiers {
		cv, ok, err := store.ClusteredVariants(tier).FindByHash(ctx, hash)
		if err != nil {
			return domain.ClusteredVariant{}, tier, false, fmt.Errorf("find clustered %s in %s tier: %w", hash, tier, err)
		}
		if ok {
			return cv, tier, true, nil
		}
	}
	return domain.ClusteredVariant{}, 0, false, nil
}

// ClusteredByAccession returns every clustered record carrying accession.
// A non-empty assembly restricts the result to that assembly.
func ClusteredByAccession(ctx context.Context, store domain.VariantStore, accession int64, assembly string) ([]domain.ClusteredVariant, error) {
	var out []domain.ClusteredVariant
	for _, tier := range domain.AllTiers {
		found, err := store.ClusteredVariants(tier).FindByAccession(ctx, accession)
		if err != nil {
			return nil, fmt.Errorf("find rs%d in %s tier: %w", accession, tier, err)
		}
		for _, cv := range found {
			if assembly == "" || cv.AssemblyAccession == assembly {
				out = append(out, cv)
			}
		}
	}
	return out, nil
}

// SubmittedReferencing returns the submitted variants of assembly whose
// clustered accession is rs.
func SubmittedReferencing(ctx context.Context, store domain.VariantStore, assembly string, rs int64) ([]domain.SubmittedVariant, error) {
	var out []domain.SubmittedVariant
	for _, tier := range domain.AllTiers {
		cur, err := store.SubmittedVariants(tier).Stream(ctx, domain.Query{Assembly: assembly, Reference: &rs})
		if err != nil {
			return nil, err
		}
		found, err := Collect(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("scan submitted referencing rs%d: %w", rs, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

// AnySubmittedReferencing reports whether at least one submitted variant of
// assembly points at rs.
func AnySubmittedReferencing(ctx context.Context, store domain.VariantStore, assembly string, rs int64) (bool, error) {
	for _, tier := range domain.AllTiers {
		cur, err := store.SubmittedVariants(tier).Stream(ctx, domain.Query{Assembly: assembly, Reference: &rs, Limit: 1})
		if err != nil {
			return false, err
		}
		found, err := Collect(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("check submitted referencing rs%d: %w", rs, err)
		}
		if len(found) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ClusteredOperations returns the clustered operations about accession in
// assembly with the given event type, from both tiers.
func ClusteredOperations(ctx context.Context, store domain.VariantStore, assembly string, accession int64, event domain.EventType) ([]domain.ClusteredVariantOperation, error) {
	var out []domain.ClusteredVariantOperation
	for _, tier := range domain.AllTiers {
		cur, err := store.ClusteredOperations(tier).Stream(ctx, domain.Query{Assembly: assembly, Accession: &accession})
		if err != nil {
			return nil, err
		}
		ops, err := Collect(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("scan operations of rs%d: %w", accession, err)
		}
		for _, op := range ops {
			if op.EventType == event {
				out = append(out, op)
			}
		}
	}
	return out, nil
}

// SubmittedTier is the tier holding sv.
func SubmittedTier(store domain.VariantStore, sv domain.SubmittedVariant) domain.Tier {
	return store.Tiers().ForAccession(sv.Accession)
}

// ClusteredTier is the tier holding records with accession rs.
func ClusteredTier(store domain.VariantStore, rs int64) domain.Tier {
	return store.Tiers().ForAccession(rs)
}
