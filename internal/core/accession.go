package core

import (
	"context"
	"fmt"

	"variantcore/internal/accession"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

func maxAccession[T domain.Document](ctx context.Context, coll domain.Collection[T]) (int64, bool, error) {
	cur, err := coll.Stream(ctx, domain.Query{SortBy: domain.SortByAccession, Descending: true, Limit: 1})
	if err != nil {
		return 0, false, err
	}
	docs, err := tiered.Collect(ctx, cur)
	if err != nil || len(docs) == 0 {
		return 0, false, err
	}
	return docs[0].DocumentAccession(), true, nil
}

// NextLiveAccession returns the first accession above every live clustered
// variant and every live clustered operation subject. It is never below the
// live threshold.
func NextLiveAccession(ctx context.Context, store domain.VariantStore) (int64, error) {
	next := store.Tiers().LiveThreshold
	variants, ok, err := maxAccession(ctx, store.ClusteredVariants(domain.TierLive))
	if err != nil {
		return 0, fmt.Errorf("scan live clustered variants: %w", err)
	}
	if ok && variants >= next {
		next = variants + 1
	}
	ops, ok, err := maxAccession(ctx, store.ClusteredOperations(domain.TierLive))
	if err != nil {
		return 0, fmt.Errorf("scan live clustered operations: %w", err)
	}
	if ok && ops >= next {
		next = ops + 1
	}
	return next, nil
}

// OpenProvider returns a block provider that starts after the highest
// accession already stored, so restarts never reissue a value.
func OpenProvider(ctx context.Context, store domain.VariantStore, blockSize int64) (*accession.BlockProvider, error) {
	first, err := NextLiveAccession(ctx, store)
	if err != nil {
		return nil, err
	}
	return accession.NewBlockProvider(accession.NewMemoryReserver(first), blockSize), nil
}
