package merge_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"variantcore/internal/accession"
	"variantcore/internal/clustering"
	"variantcore/internal/hashing"
	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/memory"
	"variantcore/internal/merge"
	"variantcore/internal/metrics"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
	"variantcore/testutil"
)

const (
	asmOne = "GCA_A1"
	asmTwo = "GCA_A2"
	rsOne  = int64(3_000_000_001)
	rsTwo  = int64(3_000_000_002)
)

type world struct {
	store    *docstore.Store
	backend  *memory.Backend
	counters *metrics.Counters
	engine   *clustering.Engine
	resolver *merge.Resolver
	ssOne    domain.SubmittedVariant
	ssTwo    domain.SubmittedVariant
	remapped domain.SubmittedVariant
}

// newWorld seeds rs one in A1 and rs two in A2, each with one submission,
// and prepares a remapped copy of the A1 submission landing on rs two's site.
func newWorld(t *testing.T, mapWeight int) *world {
	t.Helper()
	store, backend := testutil.NewMemoryStore(t)
	logger, _ := testutil.NewLogger()
	counters := metrics.NewCounters()
	chains := merge.NewChainResolver(store, logger)
	w := &world{
		store:    store,
		backend:  backend,
		counters: counters,
		engine:   clustering.NewEngine(store, accession.NewBlockProvider(accession.NewMemoryReserver(3_100_000_000), 10), counters, chains, logger, clustering.Options{Now: testutil.Clock}),
		resolver: merge.NewResolver(store, chains, counters, logger, merge.Options{Now: testutil.Clock}),
	}
	w.ssOne = testutil.WithRS(testutil.Submitted(asmOne, 5_000_000_001, "chr1", 100, "A", "T"), rsOne)
	w.ssTwo = testutil.WithRS(testutil.Submitted(asmTwo, 5_000_000_002, "chr1", 200, "A", "G"), rsTwo)
	testutil.SeedSubmitted(t, store, w.ssTwo)
	testutil.SeedClustered(t, store, testutil.ClusteredFor(w.ssTwo, rsTwo))

	remapped := w.ssOne
	remapped.AssemblyAccession = asmTwo
	remapped.Start = 200
	remapped.RemappedFrom = asmOne
	if mapWeight > 1 {
		w.ssOne = testutil.WithMapWeight(w.ssOne, mapWeight)
		remapped = testutil.WithMapWeight(remapped, mapWeight)
		second := testutil.WithMapWeight(testutil.Submitted(asmOne, 5_000_000_001, "chr5", 900, "A", "T"), mapWeight)
		secondRS := testutil.ClusteredFor(second, rsOne)
		secondRS.MapWeight = domain.IntPtr(mapWeight)
		testutil.SeedClustered(t, store, secondRS)
	}
	w.remapped = hashing.WithSubmittedHash(remapped)
	firstRS := testutil.ClusteredFor(w.ssOne, rsOne)
	testutil.SeedSubmitted(t, store, w.ssOne)
	testutil.SeedClustered(t, store, firstRS)
	return w
}

func (w *world) clusterRemapped(t *testing.T) clustering.Result {
	t.Helper()
	res, err := w.engine.Cluster(context.Background(), clustering.Batch{Variants: []domain.SubmittedVariant{w.remapped}, Mode: clustering.Clustered, Remapped: true})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	return res
}

func TestRemappedCollisionMergesIntoDeclaredAccession(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 0)
	res := w.clusterRemapped(t)
	if len(res.MergeCandidates) != 1 {
		t.Fatalf("expected one merge candidate, got %+v", res.MergeCandidates)
	}

	report, err := w.resolver.Resolve(ctx, res.MergeCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if report.Merged != 1 || report.Anomalies != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := testutil.CountAll(w.backend, domain.ClusteredOperationCollection); got != 1 {
		t.Fatalf("expected 1 MERGED operation, got %d", got)
	}
	if got := testutil.CountAll(w.backend, domain.SubmittedOperationCollection); got != 1 {
		t.Fatalf("expected 1 UPDATED operation, got %d", got)
	}
	op, ok, err := w.store.SubmittedOperations(domain.TierLive).FindByHash(ctx, hashing.RedirectOperationID(rsTwo, rsOne, w.ssTwo.Hash))
	if err != nil || !ok {
		t.Fatalf("expected redirect of rs two's submission: ok=%v err=%v", ok, err)
	}
	if op.Reason != "Original rs3000000002 was merged into rs3000000001." {
		t.Fatalf("unexpected reason %q", op.Reason)
	}
	if got := testutil.LoadSubmitted(t, w.store, w.ssTwo); !got.HasClusteredAccession(rsOne) {
		t.Fatalf("rs two's submission not redirected: %v", got.ClusteredVariantAccession)
	}
	if left, _ := tiered.ClusteredByAccession(ctx, w.store, rsTwo, ""); len(left) != 0 {
		t.Fatalf("retired accession still has records: %+v", left)
	}
	site, _, found, err := tiered.FindClustered(ctx, w.store, res.MergeCandidates[0].Hash)
	if err != nil || !found || site.Accession != rsOne {
		t.Fatalf("expected site carried by rs one, got %+v found=%v err=%v", site, found, err)
	}
	mergeOp, ok, _ := w.store.ClusteredOperations(domain.TierLive).FindByHash(ctx, hashing.MergeOperationID(rsTwo, rsOne, site.Hash))
	if !ok || *mergeOp.MergeInto != rsOne || len(mergeOp.Inactive) != 1 || mergeOp.Inactive[0].Accession != rsTwo {
		t.Fatalf("unexpected merge operation %+v", mergeOp)
	}
	for metric, want := range map[metrics.Metric]int64{
		metrics.ClusteredVariantsMergeOperations: 1,
		metrics.ClusteredVariantsUpdated:         1,
		metrics.SubmittedVariantsUpdatedRS:       1,
		metrics.SubmittedVariantUpdateOperations: 1,
	} {
		if got := w.counters.Get(metric); got != want {
			t.Fatalf("%s = %d, want %d", metric, got, want)
		}
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 0)
	res := w.clusterRemapped(t)
	if _, err := w.resolver.Resolve(ctx, res.MergeCandidates); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	before := w.backend.ExportState()
	counts := w.counters.Snapshot()
	if _, err := w.resolver.Resolve(ctx, res.MergeCandidates); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if diff := cmp.Diff(before, w.backend.ExportState()); diff != "" {
		t.Fatalf("second merge changed the store (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(counts, w.counters.Snapshot()); diff != "" {
		t.Fatalf("second merge changed counters (-before +after):\n%s", diff)
	}
}

func TestMultimapRemappedVariantIsNotMerged(t *testing.T) {
	w := newWorld(t, 2)
	clusteredBefore := testutil.CountAll(w.backend, domain.ClusteredVariantCollection)
	res := w.clusterRemapped(t)
	if len(res.MergeCandidates) != 0 {
		t.Fatalf("expected no merge candidate, got %+v", res.MergeCandidates)
	}
	if got := testutil.CountAll(w.backend, domain.ClusteredVariantCollection); got != clusteredBefore {
		t.Fatalf("clustered variant count changed: %d -> %d", clusteredBefore, got)
	}
	if testutil.CountAll(w.backend, domain.ClusteredOperationCollection) != 0 || testutil.CountAll(w.backend, domain.SubmittedOperationCollection) != 0 {
		t.Fatalf("no operations expected")
	}
}

func TestResolverRefusesMultimapAccessions(t *testing.T) {
	tests := []struct {
		name string
		make func(t *testing.T, w *world)
	}{
		{
			name: "retired record flagged multimap",
			make: func(t *testing.T, w *world) {
				cv := testutil.ClusteredFor(w.ssTwo, rsTwo)
				cv.MapWeight = domain.IntPtr(3)
				testutil.SeedClustered(t, w.store, cv)
			},
		},
		{
			name: "retired accession at two sites",
			make: func(t *testing.T, w *world) {
				other := testutil.Submitted(asmTwo, 5_000_000_009, "chr2", 5, "C", "T")
				testutil.SeedClustered(t, w.store, testutil.ClusteredFor(other, rsTwo))
			},
		},
		{
			name: "survivor referenced by multimap submission",
			make: func(t *testing.T, w *world) {
				sv := testutil.WithMapWeight(testutil.WithRS(testutil.Submitted(asmTwo, 5_000_000_010, "chr3", 7, "G", "A"), rsOne), 2)
				testutil.SeedSubmitted(t, w.store, sv)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			w := newWorld(t, 0)
			tc.make(t, w)
			candidate := domain.MergeCandidate{
				Assembly:  asmTwo,
				Hash:      hashing.ClusteredSite(w.remapped).Hash,
				Survivor:  rsOne,
				Retired:   rsTwo,
				Occupant:  testutil.ClusteredFor(w.ssTwo, rsTwo),
				Submitted: w.remapped,
			}
			before := w.backend.ExportState()
			report, err := w.resolver.Resolve(ctx, []domain.MergeCandidate{candidate})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if report.Merged != 0 || report.Skipped != 1 {
				t.Fatalf("expected skip, got %+v", report)
			}
			if diff := cmp.Diff(before, w.backend.ExportState()); diff != "" {
				t.Fatalf("skipped merge wrote to the store (-before +after):\n%s", diff)
			}
		})
	}
}

func TestMergeMovesRecordAcrossTiers(t *testing.T) {
	ctx := context.Background()
	store, backend := testutil.NewMemoryStore(t)
	logger, _ := testutil.NewLogger()
	resolver := merge.NewResolver(store, nil, metrics.NewCounters(), logger, merge.Options{Now: testutil.Clock})

	legacyRS := int64(2_000)
	occupantSS := testutil.WithRS(testutil.Submitted(asmTwo, 700, "chr4", 40, "T", "A"), legacyRS)
	occupant := testutil.ClusteredFor(occupantSS, legacyRS)
	testutil.SeedSubmitted(t, store, occupantSS)
	testutil.SeedClustered(t, store, occupant)

	incoming := testutil.WithRS(testutil.Submitted(asmTwo, 5_000_000_003, "chr4", 40, "T", "C"), rsOne)
	report, err := resolver.Resolve(ctx, []domain.MergeCandidate{{Assembly: asmTwo, Hash: occupant.Hash, Survivor: rsOne, Retired: legacyRS, Occupant: occupant, Submitted: incoming}})
	if err != nil || report.Merged != 1 {
		t.Fatalf("Resolve: %+v %v", report, err)
	}
	if backend.Count(domain.TierLegacy.CollectionName(domain.ClusteredVariantCollection)) != 0 {
		t.Fatalf("record should have left the legacy tier")
	}
	moved, ok, err := store.ClusteredVariants(domain.TierLive).FindByHash(ctx, occupant.Hash)
	if err != nil || !ok || moved.Accession != rsOne {
		t.Fatalf("expected record in live tier under rs one: %+v %v %v", moved, ok, err)
	}
	if backend.Count(domain.TierLegacy.CollectionName(domain.ClusteredOperationCollection)) != 1 {
		t.Fatalf("MERGED operation belongs to the retired accession's tier")
	}
	if got := testutil.LoadSubmitted(t, store, occupantSS); !got.HasClusteredAccession(rsOne) {
		t.Fatalf("legacy submission not redirected")
	}
}

func TestRetriedMergeRemovesRetiredLiveRecord(t *testing.T) {
	ctx := context.Background()
	store, backend := testutil.NewMemoryStore(t)
	logger, _ := testutil.NewLogger()
	resolver := merge.NewResolver(store, nil, metrics.NewCounters(), logger, merge.Options{Now: testutil.Clock})

	survivor := int64(2_100)
	retired := int64(3_000_000_050)
	redirected := testutil.WithRS(testutil.Submitted(asmTwo, 5_000_000_004, "chr7", 70, "G", "A"), survivor)
	kept := testutil.ClusteredFor(redirected, survivor)
	left := testutil.ClusteredFor(redirected, retired)
	testutil.SeedSubmitted(t, store, redirected)
	testutil.SeedClustered(t, store, kept, left)
	if err := store.ClusteredOperations(domain.TierLive).Upsert(ctx, domain.ClusteredVariantOperation{
		ID:                hashing.MergeOperationID(retired, survivor, left.Hash),
		EventType:         domain.EventMerged,
		Accession:         retired,
		AssemblyAccession: asmTwo,
		MergeInto:         domain.Int64Ptr(survivor),
		Inactive:          []domain.ClusteredVariant{left},
	}); err != nil {
		t.Fatalf("seed operation: %v", err)
	}

	candidate := domain.MergeCandidate{Assembly: asmTwo, Hash: left.Hash, Survivor: survivor, Retired: retired, Occupant: left, Submitted: redirected}
	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := resolver.Resolve(ctx, []domain.MergeCandidate{candidate}); err != nil {
			t.Fatalf("attempt %d: Resolve: %v", attempt, err)
		}
		if n := backend.Count(domain.TierLive.CollectionName(domain.ClusteredVariantCollection)); n != 0 {
			t.Fatalf("attempt %d: retired record still live (%d left)", attempt, n)
		}
		got, ok, err := store.ClusteredVariants(domain.TierLegacy).FindByHash(ctx, left.Hash)
		if err != nil || !ok || got.Accession != survivor {
			t.Fatalf("attempt %d: expected legacy rs%d, got %+v ok=%v err=%v", attempt, survivor, got, ok, err)
		}
		if n := testutil.CountAll(backend, domain.ClusteredOperationCollection); n != 1 {
			t.Fatalf("attempt %d: expected a single MERGED operation, got %d", attempt, n)
		}
	}
}

func TestSurvivorWithCyclicChainIsReportedAsAnomaly(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 0)
	for _, op := range []domain.ClusteredVariantOperation{
		{ID: "c1", EventType: domain.EventMerged, Accession: rsOne, AssemblyAccession: asmTwo, MergeInto: domain.Int64Ptr(rsOne + 100)},
		{ID: "c2", EventType: domain.EventMerged, Accession: rsOne + 100, AssemblyAccession: asmTwo, MergeInto: domain.Int64Ptr(rsOne)},
	} {
		if err := w.store.ClusteredOperations(domain.TierLive).Upsert(ctx, op); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	candidate := domain.MergeCandidate{Assembly: asmTwo, Hash: hashing.ClusteredSite(w.remapped).Hash, Survivor: rsOne, Retired: rsTwo, Occupant: testutil.ClusteredFor(w.ssTwo, rsTwo), Submitted: w.remapped}
	report, err := w.resolver.Resolve(ctx, []domain.MergeCandidate{candidate})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if report.Skipped != 1 || report.Anomalies == nil {
		t.Fatalf("expected anomaly, got %+v", report)
	}
}
