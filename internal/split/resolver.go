package split

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"variantcore/internal/accession"
	"variantcore/internal/clustering"
	"variantcore/internal/hashing"
	"variantcore/internal/metrics"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// Report summarises a Resolve call.
type Report struct {
	// Split counts the minority sites moved to a new accession.
	Split int
	// Assigned maps each split-off clustered hash to its new accession.
	Assigned map[string]int64
}

// Options tunes the resolver.
type Options struct {
	Now func() time.Time
}

// Resolver moves minority site groups to new accessions.
type Resolver struct {
	store    domain.VariantStore
	engine   *clustering.Engine
	provider accession.Provider
	counters *metrics.Counters
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewResolver wires a resolver that takes new accessions from provider and
// re-clusters through engine. engine must draw from the same provider.
func NewResolver(store domain.VariantStore, engine *clustering.Engine, provider accession.Provider, counters *metrics.Counters, logger logrus.FieldLogger, opts Options) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{store: store, engine: engine, provider: provider, counters: counters, logger: logger.WithField("component", "split"), now: opts.Now}
}

// Resolve splits every minority group of findings off its accession.
func (r *Resolver) Resolve(ctx context.Context, findings []Finding) (Report, error) {
	report := Report{Assigned: make(map[string]int64)}
	for _, f := range findings {
		for _, group := range f.Minority {
			assigned, err := r.splitGroup(ctx, f, group)
			if err != nil {
				return report, err
			}
			if len(assigned) == 0 {
				continue
			}
			for hash, rs := range assigned {
				report.Assigned[hash] = rs
			}
			report.Split++
		}
	}
	return report, nil
}

// splitGroup fixes the new accession of every site in group and records the
// RS_SPLIT operations before touching any variant, so a run interrupted
// after that point is finished by running it again.
func (r *Resolver) splitGroup(ctx context.Context, f Finding, group SiteGroup) (map[string]int64, error) {
	old := f.Accession
	fields := logrus.Fields{"action": "split", "assembly": f.Assembly, "rs": old, "contig": group.Contig, "start": group.Start}
	hashes := group.Hashes()

	targets := make(map[string]int64, len(hashes))
	snapshots := make(map[string]domain.ClusteredVariant)
	var mint []string
	for _, hash := range hashes {
		cv, _, found, err := tiered.FindClustered(ctx, r.store, hash)
		if err != nil {
			return nil, err
		}
		switch {
		case found && cv.Accession != old:
			targets[hash] = cv.Accession
		case found:
			snapshots[hash] = cv
			mint = append(mint, hash)
		default:
			mint = append(mint, hash)
		}
	}
	if len(mint) > 0 {
		accessioned, err := r.provider.GetOrCreate(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("new accessions for split of rs%d: %w", old, err)
		}
		for _, a := range accessioned {
			targets[a.Hash] = a.Accession
		}
	}
	for _, hash := range hashes {
		if rs, ok := targets[hash]; !ok || rs == old {
			r.logger.WithFields(fields).WithField("hash", hash).Error("split site has no accession other than the original")
			return nil, nil
		}
	}

	for _, hash := range hashes {
		rs := targets[hash]
		inactive, ok := snapshots[hash]
		if !ok {
			inactive = hashing.ClusteredSite(group.Variants[0])
			inactive.Hash = hash
			inactive.Accession = old
		}
		op := domain.ClusteredVariantOperation{
			ID:                hashing.SplitOperationID(old, hash),
			EventType:         domain.EventSplit,
			Accession:         old,
			AssemblyAccession: f.Assembly,
			SplitInto:         domain.Int64Ptr(rs),
			Reason:            fmt.Sprintf("Due to RS Split new accession id %d created for remapped accession %d", rs, old),
			Inactive:          []domain.ClusteredVariant{inactive},
			CreatedDate:       r.now(),
		}
		wrote, err := tiered.InsertOnce(ctx, r.store.ClusteredOperations(tiered.ClusteredTier(r.store, old)), op)
		if err != nil {
			return nil, err
		}
		if wrote {
			r.counters.Inc(metrics.ClusteredVariantsSplit)
		}
	}

	cleared := make([]domain.SubmittedVariant, 0, len(group.Variants))
	for _, sv := range group.Variants {
		if sv.HasClusteredAccession(old) {
			sv = sv.WithClusteredAccession(nil)
			if err := r.store.SubmittedVariants(tiered.SubmittedTier(r.store, sv)).Upsert(ctx, sv); err != nil {
				return nil, fmt.Errorf("clear rs of ss%d: %w", sv.Accession, err)
			}
			r.counters.Inc(metrics.SubmittedVariantsUpdatedRS)
		}
		cleared = append(cleared, sv)
	}
	for _, hash := range hashes {
		for _, tier := range domain.AllTiers {
			cv, ok, err := r.store.ClusteredVariants(tier).FindByHash(ctx, hash)
			if err != nil {
				return nil, err
			}
			if !ok || cv.Accession != old {
				continue
			}
			if _, err := r.store.ClusteredVariants(tier).DeleteByHash(ctx, hash); err != nil {
				return nil, err
			}
		}
	}

	if _, err := r.engine.Cluster(ctx, clustering.Batch{Variants: cleared, Mode: clustering.NotClustered}); err != nil {
		return nil, fmt.Errorf("re-cluster split site of rs%d: %w", old, err)
	}

	for _, sv := range cleared {
		stored, ok, err := r.store.SubmittedVariants(tiered.SubmittedTier(r.store, sv)).FindByHash(ctx, sv.Hash)
		if err != nil {
			return nil, err
		}
		want := targets[hashing.ClusteredSite(sv).Hash]
		if !ok || !stored.HasClusteredAccession(want) {
			r.logger.WithFields(fields).WithFields(logrus.Fields{"ss": sv.Accession, "want": want}).Warn("split variant not clustered onto its new accession")
		}
	}
	for hash, rs := range targets {
		r.logger.WithFields(fields).WithFields(logrus.Fields{"hash": hash, "new_rs": rs}).Info("split site onto new accession")
	}
	return targets, nil
}
