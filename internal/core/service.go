// Package core wires the clustering, merge, split and deprecation components
// into the per-assembly pipeline run by the CLI.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"variantcore/internal/accession"
	"variantcore/internal/clustering"
	"variantcore/internal/deprecation"
	"variantcore/internal/merge"
	"variantcore/internal/metrics"
	"variantcore/internal/report"
	"variantcore/internal/split"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// Job is the input of one assembly's pipeline.
type Job struct {
	Assembly string
	Variants []domain.SubmittedVariant
	Mode     clustering.Mode
	// Remapped stores the variants before clustering them.
	Remapped bool
}

// ClockFunc returns the current time.
type ClockFunc func() time.Time

type serviceOptions struct {
	clock         ClockFunc
	logger        logrus.FieldLogger
	counters      *metrics.Counters
	reports       *report.Writer
	chunkSize     int
	workers       int
	retryAttempts uint64
	retryInterval time.Duration
}

// Option customises a Service.
type Option func(*serviceOptions)

// WithClock overrides the time source used for audit records and reports.
func WithClock(clock ClockFunc) Option { return func(o *serviceOptions) { o.clock = clock } }

// WithLogger sets the logger shared by every component.
func WithLogger(logger logrus.FieldLogger) Option { return func(o *serviceOptions) { o.logger = logger } }

// WithCounters injects the counters reset at the start of every run.
func WithCounters(c *metrics.Counters) Option { return func(o *serviceOptions) { o.counters = c } }

// WithReports enables run summaries.
func WithReports(w *report.Writer) Option { return func(o *serviceOptions) { o.reports = w } }

// WithChunking sets the chunk size and the number of chunks clustered at once.
func WithChunking(size, workers int) Option {
	return func(o *serviceOptions) {
		if size > 0 {
			o.chunkSize = size
		}
		if workers > 0 {
			o.workers = workers
		}
	}
}

// WithRetry bounds the re-reads after a duplicate-key insert.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(o *serviceOptions) {
		if attempts > 0 {
			o.retryAttempts = uint64(attempts)
		}
		o.retryInterval = interval
	}
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:     time.Now,
		logger:    logrus.StandardLogger(),
		chunkSize: 1000,
		workers:   4,
	}
}

// Service runs the clustering pipeline over a VariantStore.
type Service struct {
	store    domain.VariantStore
	counters *metrics.Counters
	reports  *report.Writer
	logger   logrus.FieldLogger
	clock    ClockFunc
	opts     serviceOptions

	engine   *clustering.Engine
	merges   *merge.Resolver
	detector *split.Detector
	splits   *split.Resolver

	// runs serialises Run, Split and Deprecate so counters describe one run.
	runs sync.Mutex
}

// NewService wires the pipeline components around store and provider.
func NewService(store domain.VariantStore, provider accession.Provider, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.counters == nil {
		o.counters = metrics.NewCounters()
	}
	now := func() time.Time { return o.clock() }
	chains := merge.NewChainResolver(store, o.logger)
	engine := clustering.NewEngine(store, provider, o.counters, chains, o.logger, clustering.Options{
		RetryAttempts: o.retryAttempts,
		RetryInterval: o.retryInterval,
		Now:           now,
	})
	return &Service{
		store:    store,
		counters: o.counters,
		reports:  o.reports,
		logger:   o.logger.WithField("component", "pipeline"),
		clock:    o.clock,
		opts:     o,
		engine:   engine,
		merges:   merge.NewResolver(store, chains, o.counters, o.logger, merge.Options{Now: now}),
		detector: split.NewDetector(store, provider, o.logger),
		splits:   split.NewResolver(store, engine, provider, o.counters, o.logger, split.Options{Now: now}),
	}
}

// Counters returns the counters the service reports to.
func (s *Service) Counters() *metrics.Counters { return s.counters }

// Run clusters every job, resolves the merge and split candidates found and
// re-clusters what those resolutions left without an rs. Assemblies run
// independently; within one, chunks are clustered concurrently.
func (s *Service) Run(ctx context.Context, jobs []Job) (report.Summary, error) {
	s.runs.Lock()
	defer s.runs.Unlock()
	summary := s.begin("cluster")

	byAssembly := make(map[string][]Job)
	var order []string
	for _, job := range jobs {
		if _, ok := byAssembly[job.Assembly]; !ok {
			order = append(order, job.Assembly)
		}
		byAssembly[job.Assembly] = append(byAssembly[job.Assembly], job)
	}
	sort.Strings(order)

	var (
		mu        sync.Mutex
		anomalies *multierror.Error
		results   = make([]report.AssemblySummary, len(order))
		sem       = semaphore.NewWeighted(int64(s.opts.workers))
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, assembly := range order {
		g.Go(func() error {
			res, err := s.runAssembly(gctx, sem, assembly, byAssembly[assembly])
			if err != nil {
				return fmt.Errorf("assembly %s: %w", assembly, err)
			}
			results[i] = res.summary
			if res.anomalies != nil {
				mu.Lock()
				anomalies = multierror.Append(anomalies, res.anomalies)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	summary.Assemblies = results
	return s.finish(ctx, summary, anomalies.ErrorOrNil())
}

type assemblyResult struct {
	summary   report.AssemblySummary
	anomalies error
}

func (s *Service) runAssembly(ctx context.Context, sem *semaphore.Weighted, assembly string, jobs []Job) (assemblyResult, error) {
	out := report.AssemblySummary{Assembly: assembly}
	fail := func(err error) (assemblyResult, error) { return assemblyResult{summary: out}, err }
	fields := logrus.Fields{"action": "cluster", "assembly": assembly}

	var (
		mu     sync.Mutex
		merges []domain.MergeCandidate
		splits []domain.SplitCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		for _, chunk := range chunks(job.Variants, s.opts.chunkSize) {
			batch := clustering.Batch{Variants: chunk, Mode: job.Mode, Remapped: job.Remapped}
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				res, err := s.engine.Cluster(gctx, batch)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				out.Processed += res.Processed
				out.Unclustered += len(res.Unclustered)
				merges = append(merges, res.MergeCandidates...)
				splits = append(splits, res.SplitCandidates...)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	// Chunks finish in any order; resolve candidates in a stable one.
	sort.Slice(merges, func(i, j int) bool { return merges[i].Key() < merges[j].Key() })
	sort.Slice(splits, func(i, j int) bool { return splits[i].Accession < splits[j].Accession })
	out.MergeCandidates = len(merges)
	out.SplitCandidates = len(splits)
	s.logger.WithFields(fields).WithFields(logrus.Fields{
		"processed": out.Processed, "merge_candidates": out.MergeCandidates, "split_candidates": out.SplitCandidates,
	}).Info("assembly clustered")

	mergeReport, err := s.merges.Resolve(ctx, merges)
	if err != nil {
		return fail(fmt.Errorf("resolve merges: %w", err))
	}
	out.Merged = mergeReport.Merged
	out.MergeSkipped = mergeReport.Skipped

	if len(splits) > 0 {
		accs := make([]int64, 0, len(splits))
		for _, c := range splits {
			accs = append(accs, c.Accession)
		}
		findings, err := s.detector.DetectAccessions(ctx, assembly, accs)
		if err != nil {
			return fail(fmt.Errorf("detect splits: %w", err))
		}
		splitReport, err := s.splits.Resolve(ctx, findings)
		if err != nil {
			return fail(fmt.Errorf("resolve splits: %w", err))
		}
		out.Split = splitReport.Split
	}

	reclustered, err := s.recluster(ctx, assembly)
	if err != nil {
		return fail(fmt.Errorf("re-cluster: %w", err))
	}
	out.Reclustered = reclustered
	return assemblyResult{summary: out, anomalies: mergeReport.Anomalies}, nil
}

// recluster streams the submitted variants of assembly that carry no rs and
// runs the engine over them one chunk at a time.
func (s *Service) recluster(ctx context.Context, assembly string) (int, error) {
	total := 0
	for _, tier := range domain.AllTiers {
		cur, err := s.store.SubmittedVariants(tier).Stream(ctx, domain.Query{Assembly: assembly, Unreferenced: true, SortBy: domain.SortByAccession})
		if err != nil {
			return total, err
		}
		err = tiered.ForEachChunk(ctx, cur, s.opts.chunkSize, func(chunk []domain.SubmittedVariant) error {
			res, err := s.engine.Cluster(ctx, clustering.Batch{Variants: chunk, Mode: clustering.NotClustered})
			total += res.Processed
			return err
		})
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.WithFields(logrus.Fields{"action": "recluster", "assembly": assembly, "count": total}).Info("re-clustered submitted variants")
	}
	return total, nil
}

// Split runs split detection over every accession of each assembly and
// resolves what it finds.
func (s *Service) Split(ctx context.Context, assemblies []string) (report.Summary, error) {
	s.runs.Lock()
	defer s.runs.Unlock()
	summary := s.begin("split")
	for _, assembly := range assemblies {
		findings, err := s.detector.Detect(ctx, assembly)
		if err != nil {
			return summary, fmt.Errorf("detect splits in %s: %w", assembly, err)
		}
		res, err := s.splits.Resolve(ctx, findings)
		if err != nil {
			return summary, fmt.Errorf("resolve splits in %s: %w", assembly, err)
		}
		summary.Assemblies = append(summary.Assemblies, report.AssemblySummary{
			Assembly:        assembly,
			SplitCandidates: len(findings),
			Split:           res.Split,
		})
	}
	return s.finish(ctx, summary, nil)
}

// DeprecationJob names what to deprecate in one assembly. Without Submitted,
// every clustered variant no submitted variant references is deprecated.
type DeprecationJob struct {
	Assembly  string
	Submitted []domain.SubmittedVariant
}

// Deprecate runs the deprecation writer for each job. Run-scoped operation
// ids use suffix, so re-running with the same suffix is a no-op.
func (s *Service) Deprecate(ctx context.Context, opts deprecation.Options, jobs []DeprecationJob) (report.Summary, error) {
	s.runs.Lock()
	defer s.runs.Unlock()
	summary := s.begin("deprecate")
	if opts.Now == nil {
		opts.Now = s.clock
	}
	writer, err := deprecation.NewWriter(s.store, s.counters, s.logger, opts)
	if err != nil {
		return summary, err
	}
	for _, job := range jobs {
		var res deprecation.Summary
		if len(job.Submitted) > 0 {
			res, err = writer.DeprecateSubmitted(ctx, job.Submitted)
		} else {
			res, err = writer.DeprecateOrphans(ctx, job.Assembly)
		}
		if err != nil {
			return summary, fmt.Errorf("deprecate in %s: %w", job.Assembly, err)
		}
		summary.Assemblies = append(summary.Assemblies, report.AssemblySummary{
			Assembly:   job.Assembly,
			Processed:  len(job.Submitted),
			Deprecated: res.Deprecated + res.Cascaded,
			Retained:   res.Retained,
		})
	}
	return s.finish(ctx, summary, nil)
}

func (s *Service) begin(command string) report.Summary {
	s.counters.Reset()
	started := s.clock()
	return report.Summary{RunID: report.NewRunID(started), Command: command, StartedAt: started}
}

func (s *Service) finish(ctx context.Context, summary report.Summary, anomalies error) (report.Summary, error) {
	summary.FinishedAt = s.clock()
	summary.Counters = report.CounterValues(s.counters)
	summary.Anomalies = report.AnomalyMessages(anomalies)
	s.logger.WithFields(logrus.Fields{
		"run":       summary.RunID,
		"command":   summary.Command,
		"anomalies": len(summary.Anomalies),
	}).Info("run finished")
	if s.reports == nil {
		return summary, nil
	}
	if _, err := s.reports.Write(ctx, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
