// Package merge detects clustered variants that describe the same site under
// different accessions and folds the retired accession into the survivor.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"variantcore/internal/hashing"
	"variantcore/internal/metrics"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

const mergeReason = "Identical clustered variant received multiple RS identifiers."

// Report summarises a Resolve call. Anomalies aggregates data
// inconsistencies that were logged and skipped.
type Report struct {
	Merged    int
	Skipped   int
	Anomalies error
}

// Options tunes the resolver.
type Options struct {
	Now func() time.Time
}

// Resolver executes merge candidates.
type Resolver struct {
	store    domain.VariantStore
	chains   *ChainResolver
	counters *metrics.Counters
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewResolver wires a resolver. A nil chains resolver is built from store.
func NewResolver(store domain.VariantStore, chains *ChainResolver, counters *metrics.Counters, logger logrus.FieldLogger, opts Options) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if chains == nil {
		chains = NewChainResolver(store, logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		store:    store,
		chains:   chains,
		counters: counters,
		logger:   logger.WithField("component", "merge"),
		now:      opts.Now,
	}
}

// Resolve merges every eligible candidate. Store failures abort; anomalies
// are collected in the report.
func (r *Resolver) Resolve(ctx context.Context, candidates []domain.MergeCandidate) (Report, error) {
	var (
		report    Report
		anomalies *multierror.Error
		seen      = make(map[string]struct{}, len(candidates))
	)
	for _, c := range candidates {
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		merged, err := r.resolveOne(ctx, c)
		var anomaly anomalyError
		switch {
		case err == nil && merged:
			report.Merged++
		case err == nil:
			report.Skipped++
		case errors.As(err, &anomaly):
			report.Skipped++
			anomalies = multierror.Append(anomalies, anomaly)
		default:
			report.Anomalies = anomalies.ErrorOrNil()
			return report, err
		}
	}
	report.Anomalies = anomalies.ErrorOrNil()
	return report, nil
}

func (r *Resolver) resolveOne(ctx context.Context, c domain.MergeCandidate) (bool, error) {
	fields := logrus.Fields{"action": "merge", "assembly": c.Assembly, "hash": c.Hash, "retired": c.Retired, "survivor": c.Survivor}
	survivor := c.Survivor
	chain, err := r.chains.Resolve(ctx, c.Assembly, survivor)
	if err != nil {
		return false, err
	}
	switch chain.Status {
	case ChainNone:
	case ChainActive:
		survivor = chain.Current
	default:
		return false, anomalyError{msg: fmt.Sprintf("rs%d in %s: survivor chain %v is %s", c.Survivor, c.Assembly, chain.Path, chain.Status)}
	}
	retired := c.Retired
	if retired == survivor {
		return false, nil
	}
	fields["survivor"] = survivor

	eligible, err := r.eligible(ctx, c, retired, survivor)
	if err != nil {
		return false, err
	}
	if !eligible {
		r.logger.WithFields(fields).Info("multimap accession involved; merge skipped")
		return false, nil
	}

	snapshot, found, err := r.snapshot(ctx, c, retired)
	if err != nil {
		return false, err
	}
	if found && snapshot.Accession != retired && snapshot.Accession != survivor {
		r.logger.WithFields(fields).WithField("occupant", snapshot.Accession).Error("merge site now held by a third accession")
		return false, anomalyError{msg: fmt.Sprintf("site %s in %s held by rs%d, expected rs%d or rs%d", c.Hash, c.Assembly, snapshot.Accession, retired, survivor)}
	}
	if err := r.redirectSubmitted(ctx, c.Assembly, retired, survivor); err != nil {
		return false, err
	}
	if err := r.mergeClustered(ctx, c, snapshot, retired, survivor); err != nil {
		return false, err
	}
	r.logger.WithFields(fields).Info("merged clustered variant")
	return true, nil
}

// eligible enforces that neither accession maps to several locations in the
// candidate's assembly.
func (r *Resolver) eligible(ctx context.Context, c domain.MergeCandidate, accessions ...int64) (bool, error) {
	if c.Submitted.IsMultimap() || c.Occupant.IsMultimap() {
		return false, nil
	}
	for _, acc := range accessions {
		multimap, err := r.isMultimap(ctx, c.Assembly, acc)
		if err != nil {
			return false, err
		}
		if multimap {
			return false, nil
		}
	}
	return true, nil
}

func (r *Resolver) isMultimap(ctx context.Context, assembly string, rs int64) (bool, error) {
	records, err := tiered.ClusteredByAccession(ctx, r.store, rs, assembly)
	if err != nil {
		return false, err
	}
	hashes := make(map[string]struct{}, len(records))
	for _, cv := range records {
		if cv.IsMultimap() {
			return true, nil
		}
		hashes[cv.Hash] = struct{}{}
	}
	if len(hashes) > 1 {
		return true, nil
	}
	refs, err := tiered.SubmittedReferencing(ctx, r.store, assembly, rs)
	if err != nil {
		return false, err
	}
	for _, sv := range refs {
		if sv.IsMultimap() {
			return true, nil
		}
	}
	return false, nil
}

// snapshot returns the record at the candidate site, or one synthesised from
// the candidate when the site is empty.
func (r *Resolver) snapshot(ctx context.Context, c domain.MergeCandidate, retired int64) (domain.ClusteredVariant, bool, error) {
	cv, _, found, err := tiered.FindClustered(ctx, r.store, c.Hash)
	if err != nil {
		return domain.ClusteredVariant{}, false, err
	}
	if found {
		return cv, true, nil
	}
	synth := c.Occupant
	if synth.Hash == "" {
		synth = hashing.ClusteredSite(c.Submitted)
	}
	synth.Accession = retired
	return synth, false, nil
}

func (r *Resolver) redirectSubmitted(ctx context.Context, assembly string, retired, survivor int64) error {
	refs, err := tiered.SubmittedReferencing(ctx, r.store, assembly, retired)
	if err != nil {
		return err
	}
	for _, sv := range refs {
		tier := tiered.SubmittedTier(r.store, sv)
		op := domain.SubmittedVariantOperation{
			ID:                hashing.RedirectOperationID(retired, survivor, sv.Hash),
			EventType:         domain.EventUpdated,
			Accession:         sv.Accession,
			AssemblyAccession: sv.AssemblyAccession,
			Reason:            fmt.Sprintf("Original rs%d was merged into rs%d.", retired, survivor),
			Inactive:          []domain.SubmittedVariant{sv},
			CreatedDate:       r.now(),
		}
		wrote, err := tiered.InsertOnce(ctx, r.store.SubmittedOperations(tier), op)
		if err != nil {
			return err
		}
		if wrote {
			r.counters.Inc(metrics.SubmittedVariantUpdateOperations)
		}
		if err := r.store.SubmittedVariants(tier).Upsert(ctx, sv.WithClusteredAccession(&survivor)); err != nil {
			return err
		}
		r.counters.Inc(metrics.SubmittedVariantsUpdatedRS)
	}
	return nil
}

// mergeClustered records the merge and moves the site to survivor. Each
// tier is read on its own so a retried merge that already wrote the
// survivor still removes the record left under retired.
func (r *Resolver) mergeClustered(ctx context.Context, c domain.MergeCandidate, snapshot domain.ClusteredVariant, retired, survivor int64) error {
	retiredTier := tiered.ClusteredTier(r.store, retired)
	survivorTier := tiered.ClusteredTier(r.store, survivor)
	inactive := snapshot
	inactive.Accession = retired
	op := domain.ClusteredVariantOperation{
		ID:                hashing.MergeOperationID(retired, survivor, c.Hash),
		EventType:         domain.EventMerged,
		Accession:         retired,
		AssemblyAccession: c.Assembly,
		MergeInto:         domain.Int64Ptr(survivor),
		Reason:            mergeReason,
		Inactive:          []domain.ClusteredVariant{inactive},
		CreatedDate:       r.now(),
	}
	wrote, err := tiered.InsertOnce(ctx, r.store.ClusteredOperations(retiredTier), op)
	if err != nil {
		return err
	}
	if wrote {
		r.counters.Inc(metrics.ClusteredVariantsMergeOperations)
	}

	current, ok, err := r.store.ClusteredVariants(survivorTier).FindByHash(ctx, c.Hash)
	if err != nil {
		return err
	}
	if !ok || current.Accession != survivor {
		moved := snapshot
		moved.Accession = survivor
		if err := r.store.ClusteredVariants(survivorTier).Upsert(ctx, moved); err != nil {
			return err
		}
		r.counters.Inc(metrics.ClusteredVariantsUpdated)
	}
	if retiredTier == survivorTier {
		return nil
	}
	stale, ok, err := r.store.ClusteredVariants(retiredTier).FindByHash(ctx, c.Hash)
	if err != nil {
		return err
	}
	if ok && stale.Accession == retired {
		if _, err := r.store.ClusteredVariants(retiredTier).DeleteByHash(ctx, c.Hash); err != nil {
			return err
		}
	}
	return nil
}

type anomalyError struct{ msg string }

func (e anomalyError) Error() string { return e.msg }
