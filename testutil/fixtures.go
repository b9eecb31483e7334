package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"variantcore/internal/hashing"
	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/memory"
	"variantcore/pkg/domain"
)

// Now is the fixed clock used by fixtures.
var Now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock returns Now; pass it wherever a component accepts a time source.
func Clock() time.Time { return Now }

// NewLogger returns a logger whose entries are captured by the hook.
func NewLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// NewMemoryStore returns an in-memory store with the default tier policy.
func NewMemoryStore(t testing.TB) (*docstore.Store, *memory.Backend) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return memory.NewStore(domain.DefaultTierPolicy(), logger)
}

// Submitted builds a hashed submitted variant.
func Submitted(assembly string, ss int64, contig string, start int64, ref, alt string) domain.SubmittedVariant {
	return hashing.WithSubmittedHash(domain.SubmittedVariant{
		Accession:           ss,
		AssemblyAccession:   assembly,
		Taxonomy:            9606,
		ProjectAccession:    "PRJEB1",
		Contig:              contig,
		Start:               start,
		ReferenceAllele:     ref,
		AlternateAllele:     alt,
		SupportedByEvidence: true,
		AssemblyMatch:       true,
		AllelesMatch:        true,
		CreatedDate:         Now,
	})
}

// WithRS returns sv pointing at rs.
func WithRS(sv domain.SubmittedVariant, rs int64) domain.SubmittedVariant {
	return sv.WithClusteredAccession(&rs)
}

// WithMapWeight returns sv flagged with the given map weight.
func WithMapWeight(sv domain.SubmittedVariant, weight int) domain.SubmittedVariant {
	sv.MapWeight = domain.IntPtr(weight)
	return sv
}

// ClusteredFor builds the clustered variant sv belongs to, with accession rs.
func ClusteredFor(sv domain.SubmittedVariant, rs int64) domain.ClusteredVariant {
	cv := hashing.ClusteredSite(sv)
	cv.Accession = rs
	cv.CreatedDate = Now
	return cv
}

// SeedSubmitted stores variants in the tier of their accession.
func SeedSubmitted(t testing.TB, store domain.VariantStore, variants ...domain.SubmittedVariant) {
	t.Helper()
	for _, sv := range variants {
		tier := store.Tiers().ForAccession(sv.Accession)
		if err := store.SubmittedVariants(tier).Upsert(context.Background(), sv); err != nil {
			t.Fatalf("seed submitted %d: %v", sv.Accession, err)
		}
	}
}

// SeedClustered stores variants in the tier of their accession.
func SeedClustered(t testing.TB, store domain.VariantStore, variants ...domain.ClusteredVariant) {
	t.Helper()
	for _, cv := range variants {
		tier := store.Tiers().ForAccession(cv.Accession)
		if err := store.ClusteredVariants(tier).Upsert(context.Background(), cv); err != nil {
			t.Fatalf("seed clustered %d: %v", cv.Accession, err)
		}
	}
}

// CountAll returns the number of documents in the base collection across both tiers.
func CountAll(backend *memory.Backend, base string) int {
	n := 0
	for _, tier := range domain.AllTiers {
		n += backend.Count(tier.CollectionName(base))
	}
	return n
}

// LoadSubmitted reads sv back from its tier.
func LoadSubmitted(t testing.TB, store domain.VariantStore, sv domain.SubmittedVariant) domain.SubmittedVariant {
	t.Helper()
	got, ok, err := store.SubmittedVariants(store.Tiers().ForAccession(sv.Accession)).FindByHash(context.Background(), sv.Hash)
	if err != nil || !ok {
		t.Fatalf("load submitted %d: ok=%v err=%v", sv.Accession, ok, err)
	}
	return got
}
