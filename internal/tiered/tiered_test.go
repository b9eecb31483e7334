package tiered

import (
	"context"
	"testing"

	"variantcore/internal/infra/persistence/memory"
	"variantcore/pkg/domain"
)

func TestInsertOnceSkipsExistingOperation(t *testing.T) {
	ctx := context.Background()
	store, _ := memory.NewStore(domain.DefaultTierPolicy(), nil)
	ops := store.SubmittedOperations(domain.TierLive)
	op := domain.SubmittedVariantOperation{ID: "SS_UPDATED_RS1_X", EventType: domain.EventUpdated, Accession: 5_000_000_001}

	wrote, err := InsertOnce(ctx, ops, op)
	if err != nil || !wrote {
		t.Fatalf("first insert: wrote=%v err=%v", wrote, err)
	}
	wrote, err = InsertOnce(ctx, ops, op)
	if err != nil || wrote {
		t.Fatalf("second insert should be skipped: wrote=%v err=%v", wrote, err)
	}
}

func TestLookupsSpanBothTiers(t *testing.T) {
	ctx := context.Background()
	store, _ := memory.NewStore(domain.DefaultTierPolicy(), nil)
	legacy := domain.ClusteredVariant{Hash: "L", Accession: 10, AssemblyAccession: "GCA_1"}
	live := domain.ClusteredVariant{Hash: "V", Accession: 10, AssemblyAccession: "GCA_2"}
	if err := store.ClusteredVariants(domain.TierLegacy).Upsert(ctx, legacy); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.ClusteredVariants(domain.TierLive).Upsert(ctx, live); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cv, tier, ok, err := FindClustered(ctx, store, "V")
	if err != nil || !ok || tier != domain.TierLive || cv.Accession != 10 {
		t.Fatalf("FindClustered: %+v %v %v %v", cv, tier, ok, err)
	}
	all, err := ClusteredByAccession(ctx, store, 10, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected records from both tiers, got %v (%v)", all, err)
	}
	scoped, err := ClusteredByAccession(ctx, store, 10, "GCA_1")
	if err != nil || len(scoped) != 1 || scoped[0].Hash != "L" {
		t.Fatalf("expected assembly-scoped record, got %v (%v)", scoped, err)
	}

	rs := int64(10)
	ss := domain.SubmittedVariant{Hash: "S", Accession: 5_000_000_001, AssemblyAccession: "GCA_1", ClusteredVariantAccession: &rs}
	if err := store.SubmittedVariants(domain.TierLive).Upsert(ctx, ss); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if ok, err := AnySubmittedReferencing(ctx, store, "GCA_1", 10); err != nil || !ok {
		t.Fatalf("expected reference in GCA_1: %v %v", ok, err)
	}
	if ok, err := AnySubmittedReferencing(ctx, store, "GCA_2", 10); err != nil || ok {
		t.Fatalf("expected no reference in GCA_2: %v %v", ok, err)
	}
	refs, err := SubmittedReferencing(ctx, store, "GCA_1", 10)
	if err != nil || len(refs) != 1 {
		t.Fatalf("SubmittedReferencing: %v %v", refs, err)
	}
}

func TestForEachChunk(t *testing.T) {
	ctx := context.Background()
	store, _ := memory.NewStore(domain.DefaultTierPolicy(), nil)
	coll := store.ClusteredVariants(domain.TierLive)
	for i, h := range []string{"a", "b", "c", "d", "e"} {
		if err := coll.Upsert(ctx, domain.ClusteredVariant{Hash: h, Accession: 3_000_000_001 + int64(i), AssemblyAccession: "GCA_1"}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	tests := []struct {
		size  int
		sizes []int
	}{
		{size: 2, sizes: []int{2, 2, 1}},
		{size: 5, sizes: []int{5}},
		{size: 0, sizes: []int{1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		cur, err := coll.Stream(ctx, domain.Query{Assembly: "GCA_1", SortBy: domain.SortByAccession})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		var sizes []int
		err = ForEachChunk(ctx, cur, tt.size, func(chunk []domain.ClusteredVariant) error {
			sizes = append(sizes, len(chunk))
			// writing while the cursor is open must not disturb the scan
			_, err := coll.DeleteByHash(ctx, chunk[0].Hash)
			return err
		})
		if err != nil {
			t.Fatalf("size %d: %v", tt.size, err)
		}
		if len(sizes) != len(tt.sizes) {
			t.Fatalf("size %d: chunks %v, want %v", tt.size, sizes, tt.sizes)
		}
		for i := range sizes {
			if sizes[i] != tt.sizes[i] {
				t.Fatalf("size %d: chunks %v, want %v", tt.size, sizes, tt.sizes)
			}
		}
		for i, h := range []string{"a", "b", "c", "d", "e"} {
			if err := coll.Upsert(ctx, domain.ClusteredVariant{Hash: h, Accession: 3_000_000_001 + int64(i), AssemblyAccession: "GCA_1"}); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
		}
	}
}
