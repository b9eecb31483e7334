// Package deprecation retires clustered and submitted variants, recording a
// DEPRECATED operation for each removed document.
package deprecation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"variantcore/internal/hashing"
	"variantcore/internal/metrics"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// Default reasons recorded on deprecation operations.
const (
	DefaultClusteredReason = "Clustered variant has no supporting submitted variants."
	DefaultSubmittedReason = "Submitted variant deprecated."
)

// Options configures a Writer. Suffix scopes operation ids to one run.
type Options struct {
	Suffix          string
	ClusteredReason string
	SubmittedReason string
	Now             func() time.Time
}

// Summary reports the outcome of a deprecation call.
type Summary struct {
	Deprecated int
	Retained   int
	// Cascaded counts clustered variants removed because their last
	// submitted variant was deprecated.
	Cascaded int
}

const orphanChunk = 500

// Writer deprecates variants.
type Writer struct {
	store    domain.VariantStore
	counters *metrics.Counters
	logger   logrus.FieldLogger
	opts     Options
}

// NewWriter validates opts. The store must read from the primary; any other
// read preference is a ConfigError.
func NewWriter(store domain.VariantStore, counters *metrics.Counters, logger logrus.FieldLogger, opts Options) (*Writer, error) {
	if pref := store.ReadPreference(); pref != domain.ReadPrimary {
		return nil, domain.ConfigError{Setting: "read_preference", Reason: fmt.Sprintf("deprecation requires %q, got %q", domain.ReadPrimary, pref)}
	}
	if opts.Suffix == "" {
		return nil, domain.ConfigError{Setting: "deprecation.suffix", Reason: "must not be empty"}
	}
	if opts.ClusteredReason == "" {
		opts.ClusteredReason = DefaultClusteredReason
	}
	if opts.SubmittedReason == "" {
		opts.SubmittedReason = DefaultSubmittedReason
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{store: store, counters: counters, logger: logger.WithField("component", "deprecation"), opts: opts}, nil
}

// DeprecateClustered removes each variant no submitted variant of its
// assembly still references.
func (w *Writer) DeprecateClustered(ctx context.Context, variants []domain.ClusteredVariant) (Summary, error) {
	var summary Summary
	for _, cv := range variants {
		referenced, err := tiered.AnySubmittedReferencing(ctx, w.store, cv.AssemblyAccession, cv.Accession)
		if err != nil {
			return summary, err
		}
		if referenced {
			summary.Retained++
			continue
		}
		removed, err := w.deprecateClustered(ctx, cv)
		if err != nil {
			return summary, err
		}
		if removed {
			summary.Deprecated++
		}
	}
	return summary, nil
}

// deprecateClustered removes the record stored at cv.Hash only while it
// still carries cv.Accession; a site re-used by another accession is left.
func (w *Writer) deprecateClustered(ctx context.Context, cv domain.ClusteredVariant) (bool, error) {
	tier := tiered.ClusteredTier(w.store, cv.Accession)
	stored, ok, err := w.store.ClusteredVariants(tier).FindByHash(ctx, cv.Hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if stored.Accession != cv.Accession {
		w.logger.WithFields(logrus.Fields{"assembly": cv.AssemblyAccession, "rs": cv.Accession, "hash": cv.Hash, "stored": stored.Accession}).Warn("site now held by another accession; not deprecating")
		return false, nil
	}
	cv = stored
	op := domain.ClusteredVariantOperation{
		ID:                hashing.ClusteredDeprecationID(w.opts.Suffix, cv.Hash),
		EventType:         domain.EventDeprecated,
		Accession:         cv.Accession,
		AssemblyAccession: cv.AssemblyAccession,
		Reason:            w.opts.ClusteredReason,
		Inactive:          []domain.ClusteredVariant{cv},
		CreatedDate:       w.opts.Now(),
	}
	if _, err := tiered.InsertOnce(ctx, w.store.ClusteredOperations(tier), op); err != nil {
		return false, err
	}
	n, err := w.store.ClusteredVariants(tier).DeleteByHash(ctx, cv.Hash)
	if err != nil {
		return false, err
	}
	if n > 0 {
		w.counters.Inc(metrics.ClusteredVariantsDeprecated)
		w.logger.WithFields(logrus.Fields{"action": "deprecate", "assembly": cv.AssemblyAccession, "rs": cv.Accession, "hash": cv.Hash}).Info("deprecated clustered variant")
	}
	return n > 0, nil
}

// DeprecateSubmitted removes the given submitted variants, then deprecates
// the clustered variants they referenced once nothing else does.
func (w *Writer) DeprecateSubmitted(ctx context.Context, variants []domain.SubmittedVariant) (Summary, error) {
	var summary Summary
	type target struct {
		assembly string
		rs       int64
	}
	var cascade []target
	seen := make(map[target]struct{})
	for _, sv := range variants {
		tier := tiered.SubmittedTier(w.store, sv)
		op := domain.SubmittedVariantOperation{
			ID:                hashing.SubmittedDeprecationID(w.opts.Suffix, sv.Hash),
			EventType:         domain.EventDeprecated,
			Accession:         sv.Accession,
			AssemblyAccession: sv.AssemblyAccession,
			Reason:            w.opts.SubmittedReason,
			Inactive:          []domain.SubmittedVariant{sv},
			CreatedDate:       w.opts.Now(),
		}
		if _, err := tiered.InsertOnce(ctx, w.store.SubmittedOperations(tier), op); err != nil {
			return summary, err
		}
		n, err := w.store.SubmittedVariants(tier).DeleteByHash(ctx, sv.Hash)
		if err != nil {
			return summary, err
		}
		if n > 0 {
			summary.Deprecated++
			w.counters.Inc(metrics.SubmittedVariantsDeprecated)
		}
		if sv.ClusteredVariantAccession != nil {
			t := target{assembly: sv.AssemblyAccession, rs: *sv.ClusteredVariantAccession}
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				cascade = append(cascade, t)
			}
		}
	}
	for _, t := range cascade {
		records, err := tiered.ClusteredByAccession(ctx, w.store, t.rs, t.assembly)
		if err != nil {
			return summary, err
		}
		sub, err := w.DeprecateClustered(ctx, records)
		if err != nil {
			return summary, err
		}
		summary.Cascaded += sub.Deprecated
		summary.Retained += sub.Retained
	}
	return summary, nil
}

// DeprecateOrphans deprecates every unreferenced clustered variant of
// assembly, streaming each tier in chunks of orphanChunk.
func (w *Writer) DeprecateOrphans(ctx context.Context, assembly string) (Summary, error) {
	var summary Summary
	for _, tier := range domain.AllTiers {
		cur, err := w.store.ClusteredVariants(tier).Stream(ctx, domain.Query{Assembly: assembly, SortBy: domain.SortByAccession})
		if err != nil {
			return summary, err
		}
		err = tiered.ForEachChunk(ctx, cur, orphanChunk, func(chunk []domain.ClusteredVariant) error {
			sub, err := w.DeprecateClustered(ctx, chunk)
			summary.Deprecated += sub.Deprecated
			summary.Retained += sub.Retained
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("scan clustered variants of %s: %w", assembly, err)
		}
	}
	return summary, nil
}
