package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"variantcore/internal/accession"
	"variantcore/internal/blob"
	"variantcore/internal/clustering"
	"variantcore/internal/config"
	"variantcore/internal/core"
	"variantcore/internal/deprecation"
	"variantcore/internal/hashing"
	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/memory"
	"variantcore/internal/metrics"
	"variantcore/internal/report"
	"variantcore/pkg/domain"
	"variantcore/testutil"
)

const (
	asm   = "GCA_000001405.15"
	rsOne = int64(3_000_000_001)
	rsTwo = int64(3_000_000_002)
)

type pipeline struct {
	store   *docstore.Store
	backend *memory.Backend
	svc     *core.Service
	reports *report.Writer
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store, backend := testutil.NewMemoryStore(t)
	return newPipelineWithStore(t, store, backend)
}

func newPipelineWithStore(t *testing.T, store *docstore.Store, backend *memory.Backend) *pipeline {
	t.Helper()
	logger, _ := testutil.NewLogger()
	provider, err := core.OpenProvider(context.Background(), store, 10)
	if err != nil {
		t.Fatalf("OpenProvider: %v", err)
	}
	reports := report.NewWriter(blob.NewMemory(), logger)
	svc := core.NewService(store, provider,
		core.WithClock(testutil.Clock),
		core.WithLogger(logger),
		core.WithReports(reports),
		core.WithChunking(2, 3),
	)
	return &pipeline{store: store, backend: backend, svc: svc, reports: reports}
}

func scenarioOne() []domain.SubmittedVariant {
	return []domain.SubmittedVariant{
		testutil.Submitted(asm, 5_000_000_001, "chr1", 1000, "A", "T"),
		testutil.Submitted(asm, 5_000_000_002, "chr1", 1000, "A", "G"),
		testutil.Submitted(asm, 5_000_000_003, "chr1", 1000, "", "CT"),
		testutil.Submitted(asm, 5_000_000_004, "chr1", 1000, "AC", ""),
		testutil.Submitted(asm, 5_000_000_005, "chr1", 2000, "G", "C"),
	}
}

func TestRunClustersAndReports(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	jobs := []core.Job{{Assembly: asm, Variants: scenarioOne(), Mode: clustering.NotClustered, Remapped: true}}

	summary, err := p.svc.Run(ctx, jobs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Assemblies) != 1 || summary.Assemblies[0].Processed != 5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Counters[string(metrics.ClusteredVariantsCreated)] != 4 || summary.Counters[string(metrics.SubmittedVariantsClustered)] != 5 {
		t.Fatalf("unexpected counters %v", summary.Counters)
	}
	stored, err := p.reports.Read(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if diff := cmp.Diff(summary, stored); diff != "" {
		t.Fatalf("stored report differs (-run +stored):\n%s", diff)
	}
	for _, sv := range scenarioOne() {
		if got := testutil.LoadSubmitted(t, p.store, sv); got.ClusteredVariantAccession == nil {
			t.Fatalf("ss%d left unclustered", sv.Accession)
		}
	}

	before := p.backend.ExportState()
	again, err := p.svc.Run(ctx, jobs)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for name, v := range again.Counters {
		if v != 0 {
			t.Fatalf("re-run must not change anything, %s=%d", name, v)
		}
	}
	if diff := cmp.Diff(before, p.backend.ExportState()); diff != "" {
		t.Fatalf("re-run changed the store (-before +after):\n%s", diff)
	}
	runs, err := p.reports.Runs(ctx)
	if err != nil || len(runs) != 2 {
		t.Fatalf("expected two reports, got %v %v", runs, err)
	}
}

func TestRunResolvesMergeCandidates(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	occupantSS := testutil.WithRS(testutil.Submitted(asm, 5_000_000_010, "chr3", 300, "C", "T"), rsTwo)
	testutil.SeedSubmitted(t, p.store, occupantSS)
	site := testutil.ClusteredFor(occupantSS, rsTwo)
	testutil.SeedClustered(t, p.store, site)

	incoming := testutil.WithRS(testutil.Submitted(asm, 5_000_000_011, "chr3", 300, "C", "G"), rsOne)
	summary, err := p.svc.Run(ctx, []core.Job{{Assembly: asm, Variants: []domain.SubmittedVariant{incoming}, Mode: clustering.Clustered, Remapped: true}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := summary.Assemblies[0]
	if got.MergeCandidates != 1 || got.Merged != 1 {
		t.Fatalf("unexpected assembly summary %+v", got)
	}
	if len(summary.Anomalies) != 0 {
		t.Fatalf("unexpected anomalies %v", summary.Anomalies)
	}
	if sv := testutil.LoadSubmitted(t, p.store, occupantSS); !sv.HasClusteredAccession(rsOne) {
		t.Fatalf("occupant submission should be redirected to rs%d, got %v", rsOne, sv.ClusteredVariantAccession)
	}
	cv, ok, err := p.store.ClusteredVariants(domain.TierLive).FindByHash(ctx, site.Hash)
	if err != nil || !ok || cv.Accession != rsOne {
		t.Fatalf("site should carry rs%d: %+v %v %v", rsOne, cv, ok, err)
	}
	if _, ok, err := p.store.ClusteredOperations(domain.TierLive).FindByHash(ctx, hashing.MergeOperationID(rsTwo, rsOne, site.Hash)); err != nil || !ok {
		t.Fatalf("expected MERGED operation: ok=%v err=%v", ok, err)
	}
	if summary.Counters[string(metrics.ClusteredVariantsMergeOperations)] != 1 {
		t.Fatalf("unexpected counters %v", summary.Counters)
	}
}

func TestSplitCommandMovesMinoritySite(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	major := []domain.SubmittedVariant{
		testutil.WithRS(testutil.Submitted(asm, 5_000_000_001, "chr1", 100, "A", "C"), rsOne),
		testutil.WithRS(testutil.Submitted(asm, 5_000_000_002, "chr1", 100, "A", "G"), rsOne),
	}
	minor := testutil.WithRS(testutil.Submitted(asm, 5_000_000_003, "chr7", 700, "T", "C"), rsOne)
	testutil.SeedSubmitted(t, p.store, append(major, minor)...)
	testutil.SeedClustered(t, p.store, testutil.ClusteredFor(major[0], rsOne), testutil.ClusteredFor(minor, rsOne))

	summary, err := p.svc.Split(ctx, []string{asm})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if summary.Command != "split" || summary.Assemblies[0].Split != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	got := testutil.LoadSubmitted(t, p.store, minor)
	if got.ClusteredVariantAccession == nil || *got.ClusteredVariantAccession == rsOne {
		t.Fatalf("minority submission should move to a new rs, got %v", got.ClusteredVariantAccession)
	}
	if *got.ClusteredVariantAccession <= rsOne {
		t.Fatalf("new accession %d must be issued above the stored ones", *got.ClusteredVariantAccession)
	}
}

func TestDeprecateOrphansThroughService(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	orphan := testutil.Submitted(asm, 5_000_000_020, "chr2", 20, "A", "C")
	testutil.SeedClustered(t, p.store, testutil.ClusteredFor(orphan, rsTwo))

	opts := deprecation.Options{Suffix: "release7"}
	summary, err := p.svc.Deprecate(ctx, opts, []core.DeprecationJob{{Assembly: asm}})
	if err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	if summary.Assemblies[0].Deprecated != 1 || summary.Counters[string(metrics.ClusteredVariantsDeprecated)] != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	again, err := p.svc.Deprecate(ctx, opts, []core.DeprecationJob{{Assembly: asm}})
	if err != nil || again.Assemblies[0].Deprecated != 0 {
		t.Fatalf("re-run should be a no-op: %+v %v", again, err)
	}
}

func TestDeprecateRequiresPrimaryReads(t *testing.T) {
	backend := memory.NewBackend()
	store := docstore.New(backend, docstore.Options{ReadPreference: domain.ReadSecondary})
	p := newPipelineWithStore(t, store, backend)
	_, err := p.svc.Deprecate(context.Background(), deprecation.Options{Suffix: "x"}, []core.DeprecationJob{{Assembly: asm}})
	if !domain.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNextLiveAccession(t *testing.T) {
	ctx := context.Background()
	store, _ := testutil.NewMemoryStore(t)
	next, err := core.NextLiveAccession(ctx, store)
	if err != nil || next != domain.DefaultLiveAccessionThreshold {
		t.Fatalf("empty store should start at the threshold, got %d %v", next, err)
	}

	sv := testutil.Submitted(asm, 5_000_000_001, "chr1", 1, "A", "C")
	testutil.SeedClustered(t, store, testutil.ClusteredFor(sv, 3_000_000_010), testutil.ClusteredFor(testutil.Submitted(asm, 9, "chr1", 2, "A", "C"), 42))
	op := domain.ClusteredVariantOperation{ID: "op", EventType: domain.EventMerged, Accession: 3_000_000_020, AssemblyAccession: asm, MergeInto: domain.Int64Ptr(3_000_000_010)}
	if err := store.ClusteredOperations(domain.TierLive).Upsert(ctx, op); err != nil {
		t.Fatalf("seed op: %v", err)
	}
	next, err = core.NextLiveAccession(ctx, store)
	if err != nil || next != 3_000_000_021 {
		t.Fatalf("expected 3000000021, got %d %v", next, err)
	}

	provider, err := core.OpenProvider(ctx, store, 5)
	if err != nil {
		t.Fatalf("OpenProvider: %v", err)
	}
	got, err := provider.GetOrCreate(ctx, []string{"fresh"})
	if err != nil || got[0].Accession != 3_000_000_021 {
		t.Fatalf("unexpected allocation %+v %v", got, err)
	}
	var _ accession.Provider = provider
}

func TestOpenVariantStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Storage

	cfg.Driver = config.StorageMemory
	mem, err := core.OpenVariantStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if mem.Tiers().LiveThreshold != domain.DefaultLiveAccessionThreshold || mem.ReadPreference() != domain.ReadPrimary {
		t.Fatalf("unexpected options %+v %s", mem.Tiers(), mem.ReadPreference())
	}

	cfg.Driver = config.StorageSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "variants.db")
	lite, err := core.OpenVariantStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer lite.Close()
	if err := lite.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	cfg.Driver = "cassandra"
	if _, err := core.OpenVariantStore(ctx, cfg, nil); !domain.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
