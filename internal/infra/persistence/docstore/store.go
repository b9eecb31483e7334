package docstore

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"variantcore/pkg/domain"
)

// DefaultKeepAlive is shorter than the ten minute idle-cursor timeout common
// to document databases.
const DefaultKeepAlive = 5 * time.Minute

// Options configures a Store.
type Options struct {
	Tiers          domain.TierPolicy
	ReadPreference domain.ReadPreference
	KeepAlive      time.Duration
	Logger         logrus.FieldLogger
}

// Store implements domain.VariantStore over a Backend.
type Store struct {
	backend  Backend
	tiers    domain.TierPolicy
	readPref domain.ReadPreference

	clustered    map[domain.Tier]*collection[domain.ClusteredVariant]
	submitted    map[domain.Tier]*collection[domain.SubmittedVariant]
	clusteredOps map[domain.Tier]*collection[domain.ClusteredVariantOperation]
	submittedOps map[domain.Tier]*collection[domain.SubmittedVariantOperation]
}

var _ domain.VariantStore = (*Store)(nil)

// New wraps backend. Zero options fall back to the default tier policy,
// primary reads and DefaultKeepAlive.
func New(backend Backend, opts Options) *Store {
	if opts.Tiers.LiveThreshold == 0 {
		opts.Tiers = domain.DefaultTierPolicy()
	}
	if opts.ReadPreference == "" {
		opts.ReadPreference = domain.ReadPrimary
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		backend:      backend,
		tiers:        opts.Tiers,
		readPref:     opts.ReadPreference,
		clustered:    make(map[domain.Tier]*collection[domain.ClusteredVariant]),
		submitted:    make(map[domain.Tier]*collection[domain.SubmittedVariant]),
		clusteredOps: make(map[domain.Tier]*collection[domain.ClusteredVariantOperation]),
		submittedOps: make(map[domain.Tier]*collection[domain.SubmittedVariantOperation]),
	}
	for _, tier := range domain.AllTiers {
		s.clustered[tier] = newCollection[domain.ClusteredVariant](backend, tier.CollectionName(domain.ClusteredVariantCollection), opts.KeepAlive, logger)
		s.submitted[tier] = newCollection[domain.SubmittedVariant](backend, tier.CollectionName(domain.SubmittedVariantCollection), opts.KeepAlive, logger)
		s.clusteredOps[tier] = newCollection[domain.ClusteredVariantOperation](backend, tier.CollectionName(domain.ClusteredOperationCollection), opts.KeepAlive, logger)
		s.submittedOps[tier] = newCollection[domain.SubmittedVariantOperation](backend, tier.CollectionName(domain.SubmittedOperationCollection), opts.KeepAlive, logger)
	}
	return s
}

// ClusteredVariants implements domain.VariantStore.
func (s *Store) ClusteredVariants(t domain.Tier) domain.Collection[domain.ClusteredVariant] {
	return s.clustered[t]
}

// SubmittedVariants implements domain.VariantStore.
func (s *Store) SubmittedVariants(t domain.Tier) domain.Collection[domain.SubmittedVariant] {
	return s.submitted[t]
}

// ClusteredOperations implements domain.VariantStore.
func (s *Store) ClusteredOperations(t domain.Tier) domain.Collection[domain.ClusteredVariantOperation] {
	return s.clusteredOps[t]
}

// SubmittedOperations implements domain.VariantStore.
func (s *Store) SubmittedOperations(t domain.Tier) domain.Collection[domain.SubmittedVariantOperation] {
	return s.submittedOps[t]
}

// Tiers implements domain.VariantStore.
func (s *Store) Tiers() domain.TierPolicy { return s.tiers }

// ReadPreference implements domain.VariantStore.
func (s *Store) ReadPreference() domain.ReadPreference { return s.readPref }

// Ping implements domain.VariantStore.
func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Close implements domain.VariantStore.
func (s *Store) Close() error { return s.backend.Close() }

// Backend exposes the raw backend for integration tests and tooling.
func (s *Store) Backend() Backend { return s.backend }
