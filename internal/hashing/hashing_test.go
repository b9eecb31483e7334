package hashing

import (
	"testing"

	"variantcore/pkg/domain"
)

func baseSubmitted() domain.SubmittedVariant {
	return domain.SubmittedVariant{
		AssemblyAccession: "GCA_000000001.1",
		ProjectAccession:  "PRJEB1",
		Contig:            "chr1",
		Start:             100,
		ReferenceAllele:   "A",
		AlternateAllele:   "C",
	}
}

func TestSubmittedHashStable(t *testing.T) {
	v := baseSubmitted()
	if SubmittedHash(v) != SubmittedHash(v) {
		t.Fatalf("hash not stable")
	}
	withRS := v.WithClusteredAccession(domain.Int64Ptr(7))
	if SubmittedHash(withRS) != SubmittedHash(v) {
		t.Fatalf("clustered accession must not change submitted identity")
	}
	if got := len(SubmittedHash(v)); got != 40 {
		t.Fatalf("expected 40 hex chars, got %d", got)
	}
}

func TestSubmittedHashChangesWithIdentifyingFields(t *testing.T) {
	base := SubmittedHash(baseSubmitted())
	cases := map[string]func(*domain.SubmittedVariant){
		"assembly": func(v *domain.SubmittedVariant) { v.AssemblyAccession = "GCA_000000002.1" },
		"project":  func(v *domain.SubmittedVariant) { v.ProjectAccession = "PRJEB2" },
		"contig":   func(v *domain.SubmittedVariant) { v.Contig = "chr2" },
		"start":    func(v *domain.SubmittedVariant) { v.Start = 101 },
		"ref":      func(v *domain.SubmittedVariant) { v.ReferenceAllele = "G" },
		"alt":      func(v *domain.SubmittedVariant) { v.AlternateAllele = "T" },
	}
	for name, mutate := range cases {
		v := baseSubmitted()
		mutate(&v)
		if SubmittedHash(v) == base {
			t.Fatalf("%s: expected hash to change", name)
		}
	}
}

func TestEmptyAllelesDisambiguateInsertionAndDeletion(t *testing.T) {
	ins := baseSubmitted()
	ins.ReferenceAllele, ins.AlternateAllele = "", "A"
	del := baseSubmitted()
	del.ReferenceAllele, del.AlternateAllele = "A", ""
	if SubmittedSummary(ins) == SubmittedSummary(del) {
		t.Fatalf("insertion and deletion summaries collide")
	}
	if want := "GCA_000000001.1_PRJEB1_chr1_100_-_A"; SubmittedSummary(ins) != want {
		t.Fatalf("unexpected summary %q", SubmittedSummary(ins))
	}
}

func TestClusteredSiteSharesHashAcrossAlternateAlleles(t *testing.T) {
	a := baseSubmitted()
	b := baseSubmitted()
	b.AlternateAllele = "G"
	if ClusteredSite(a).Hash != ClusteredSite(b).Hash {
		t.Fatalf("SNVs at the same position should share a clustered site")
	}
	ins := baseSubmitted()
	ins.ReferenceAllele = ""
	if ClusteredSite(ins).Hash == ClusteredSite(a).Hash {
		t.Fatalf("type must be part of the clustered identity")
	}
	moved := baseSubmitted()
	moved.Start = 200
	if ClusteredSite(moved).Hash == ClusteredSite(a).Hash {
		t.Fatalf("start must be part of the clustered identity")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		ref, alt string
		want     domain.VariantType
	}{
		{"A", "C", domain.VariantSNV},
		{"AC", "GT", domain.VariantMNV},
		{"", "T", domain.VariantInsertion},
		{"T", "", domain.VariantDeletion},
		{"AT", "G", domain.VariantIndel},
		{"A", "<DEL>", domain.VariantSequenceAlteration},
		{"N", "N", domain.VariantNoSequenceAlteration},
		{"a", "c", domain.VariantSNV},
	}
	for _, tc := range cases {
		if got := Classify(tc.ref, tc.alt); got != tc.want {
			t.Fatalf("Classify(%q,%q)=%s want %s", tc.ref, tc.alt, got, tc.want)
		}
	}
}

func TestOperationIDs(t *testing.T) {
	if got := ClusteringOperationID(5, "H"); got != "SS_UPDATED_RS5_H" {
		t.Fatalf("unexpected id %s", got)
	}
	if got := MergeOperationID(2, 1, "H"); got != "RS_MERGED_2_INTO_1_H" {
		t.Fatalf("unexpected id %s", got)
	}
	if ClusteredDeprecationID("run1", "H") == ClusteredDeprecationID("run2", "H") {
		t.Fatalf("deprecation ids must be run scoped")
	}
}
