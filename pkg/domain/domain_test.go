package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTierPolicyForAccession(t *testing.T) {
	p := DefaultTierPolicy()
	cases := []struct {
		acc  int64
		want Tier
	}{
		{1, TierLegacy},
		{DefaultLiveAccessionThreshold - 1, TierLegacy},
		{DefaultLiveAccessionThreshold, TierLive},
		{DefaultLiveAccessionThreshold + 10, TierLive},
	}
	for _, tc := range cases {
		if got := p.ForAccession(tc.acc); got != tc.want {
			t.Errorf("ForAccession(%d) = %s, want %s", tc.acc, got, tc.want)
		}
	}
	if got := TierLegacy.CollectionName(SubmittedVariantCollection); got != "dbsnp_submitted_variant_entity" {
		t.Fatalf("legacy collection name %q", got)
	}
	if got := TierLive.CollectionName(SubmittedVariantCollection); got != SubmittedVariantCollection {
		t.Fatalf("live collection name %q", got)
	}
}

func TestWithClusteredAccessionCopies(t *testing.T) {
	rs := int64(42)
	sv := SubmittedVariant{Accession: 1}.WithClusteredAccession(&rs)
	rs = 7
	if !sv.HasClusteredAccession(42) {
		t.Fatalf("accession should be copied, got %v", *sv.ClusteredVariantAccession)
	}
	if cleared := sv.WithClusteredAccession(nil); cleared.ClusteredVariantAccession != nil || !sv.HasClusteredAccession(42) {
		t.Fatal("clearing must not touch the original")
	}
}

func TestIsMultimap(t *testing.T) {
	if (SubmittedVariant{}).IsMultimap() || (SubmittedVariant{MapWeight: IntPtr(1)}).IsMultimap() {
		t.Fatal("weight <= 1 is not multimap")
	}
	if !(ClusteredVariant{MapWeight: IntPtr(3)}).IsMultimap() {
		t.Fatal("weight 3 is multimap")
	}
}

func TestOperationReference(t *testing.T) {
	op := SubmittedVariantOperation{SplitInto: Int64Ptr(9)}
	if ref := op.DocumentReference(); ref == nil || *ref != 9 {
		t.Fatalf("split reference %v", ref)
	}
	op.MergeInto = Int64Ptr(5)
	if ref := op.DocumentReference(); *ref != 5 {
		t.Fatalf("merge reference wins, got %d", *ref)
	}
}

func TestErrors(t *testing.T) {
	dup := fmt.Errorf("insert: %w", DuplicateKeyError{Collection: "c", ID: "x"})
	if !errors.Is(dup, ErrDuplicateKey) {
		t.Fatal("duplicate key should unwrap")
	}
	if !IsConfigError(fmt.Errorf("open: %w", ConfigError{Setting: "s", Reason: "r"})) || IsConfigError(dup) {
		t.Fatal("IsConfigError mismatch")
	}
}

func TestMergeCandidateKey(t *testing.T) {
	a := MergeCandidate{Assembly: "asm", Hash: "h", Survivor: 1, Retired: 2}
	b := MergeCandidate{Assembly: "asm", Hash: "h", Survivor: 2, Retired: 1}
	if a.Key() == b.Key() {
		t.Fatal("direction must be part of the key")
	}
}
