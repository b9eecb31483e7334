// Package clustering assigns clustered variant accessions to submitted
// variants and reports the merge and split candidates it encounters.
package clustering

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"variantcore/internal/accession"
	"variantcore/internal/hashing"
	"variantcore/internal/merge"
	"variantcore/internal/metrics"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// Mode selects how the clustered accession of a submitted variant is read.
type Mode int

const (
	// NotClustered re-reads each submitted variant from the store and uses
	// the clustered accession found there, if any.
	NotClustered Mode = iota
	// Clustered trusts the clustered accession carried by the input.
	Clustered
)

func (m Mode) String() string {
	if m == Clustered {
		return "clustered"
	}
	return "not-clustered"
}

// Batch is one chunk of submitted variants.
type Batch struct {
	Variants []domain.SubmittedVariant
	Mode     Mode
	// Remapped bulk-inserts the variants before clustering. Documents that
	// are already stored, from an earlier delivery, are left untouched.
	Remapped bool
}

// Result summarises a processed batch.
type Result struct {
	Processed       int
	MergeCandidates []domain.MergeCandidate
	SplitCandidates []domain.SplitCandidate
	// Unclustered holds the submitted variants this batch left untouched:
	// declared accessions merged into an unusable accession and multimap
	// variants whose site belongs to another accession.
	Unclustered []domain.SubmittedVariant
}

// Options tunes the engine.
type Options struct {
	// RetryAttempts bounds the re-reads after a duplicate-key insert.
	RetryAttempts uint64
	RetryInterval time.Duration
	Now           func() time.Time
}

// Engine clusters batches against a VariantStore.
type Engine struct {
	store    domain.VariantStore
	provider accession.Provider
	counters *metrics.Counters
	chains   *merge.ChainResolver
	logger   logrus.FieldLogger
	opts     Options
}

// NewEngine wires an engine. A nil chains resolver is built from store.
func NewEngine(store domain.VariantStore, provider accession.Provider, counters *metrics.Counters, chains *merge.ChainResolver, logger logrus.FieldLogger, opts Options) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if chains == nil {
		chains = merge.NewChainResolver(store, logger)
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    store,
		provider: provider,
		counters: counters,
		chains:   chains,
		logger:   logger.WithField("component", "clustering"),
		opts:     opts,
	}
}

// batchState is scoped to one Cluster call.
type batchState struct {
	memo    map[string]int64
	merges  map[string]struct{}
	splits  map[domain.SplitCandidate]struct{}
	pending map[string][]domain.SubmittedVariant
	sites   map[string]domain.ClusteredVariant
	order   []string
	result  Result
}

func newBatchState() *batchState {
	return &batchState{
		memo:    make(map[string]int64),
		merges:  make(map[string]struct{}),
		splits:  make(map[domain.SplitCandidate]struct{}),
		pending: make(map[string][]domain.SubmittedVariant),
		sites:   make(map[string]domain.ClusteredVariant),
	}
}

func (s *batchState) addMerge(c domain.MergeCandidate) {
	if _, ok := s.merges[c.Key()]; ok {
		return
	}
	s.merges[c.Key()] = struct{}{}
	s.result.MergeCandidates = append(s.result.MergeCandidates, c)
}

func (s *batchState) keepUnclustered(counters *metrics.Counters, sv domain.SubmittedVariant) {
	counters.Inc(metrics.SubmittedVariantsKeptUnclustered)
	s.result.Unclustered = append(s.result.Unclustered, sv)
}

func (s *batchState) addSplit(c domain.SplitCandidate) {
	if _, ok := s.splits[c]; ok {
		return
	}
	s.splits[c] = struct{}{}
	s.result.SplitCandidates = append(s.result.SplitCandidates, c)
}

// Cluster processes batch. Store failures abort the batch; re-running it
// converges to the same state.
func (e *Engine) Cluster(ctx context.Context, batch Batch) (Result, error) {
	state := newBatchState()
	if batch.Remapped {
		if err := e.insertSubmitted(ctx, batch.Variants); err != nil {
			return state.result, err
		}
	}
	for _, sv := range batch.Variants {
		if err := ctx.Err(); err != nil {
			return state.result, err
		}
		if sv.Hash == "" {
			sv = hashing.WithSubmittedHash(sv)
		}
		if batch.Mode == NotClustered {
			stored, ok, err := e.store.SubmittedVariants(tiered.SubmittedTier(e.store, sv)).FindByHash(ctx, sv.Hash)
			if err != nil {
				return state.result, err
			}
			if ok {
				sv = stored
			} else {
				sv.ClusteredVariantAccession = nil
			}
		}
		state.result.Processed++
		var err error
		if sv.ClusteredVariantAccession != nil {
			err = e.clusterDeclared(ctx, state, sv, true)
		} else {
			err = e.clusterNew(ctx, state, sv)
		}
		if err != nil {
			return state.result, err
		}
	}
	if err := e.allocatePending(ctx, state); err != nil {
		return state.result, err
	}
	return state.result, nil
}

func (e *Engine) insertSubmitted(ctx context.Context, variants []domain.SubmittedVariant) error {
	byTier := make(map[domain.Tier][]domain.SubmittedVariant)
	for _, sv := range variants {
		if sv.Hash == "" {
			sv = hashing.WithSubmittedHash(sv)
		}
		tier := tiered.SubmittedTier(e.store, sv)
		byTier[tier] = append(byTier[tier], sv)
	}
	for _, tier := range domain.AllTiers {
		docs := byTier[tier]
		if len(docs) == 0 {
			continue
		}
		res, err := e.store.SubmittedVariants(tier).BulkInsert(ctx, docs)
		if err != nil {
			return fmt.Errorf("insert remapped submitted variants: %w", err)
		}
		if len(res.Duplicates) > 0 {
			e.logger.WithFields(logrus.Fields{"tier": tier, "duplicates": len(res.Duplicates)}).Debug("remapped submitted variants already stored")
		}
	}
	return nil
}

// clusterDeclared handles a submitted variant that carries an rs.
func (e *Engine) clusterDeclared(ctx context.Context, state *batchState, sv domain.SubmittedVariant, followChain bool) error {
	declared := *sv.ClusteredVariantAccession
	site := hashing.ClusteredSite(sv)
	fields := logrus.Fields{"assembly": sv.AssemblyAccession, "ss": sv.Accession, "rs": declared, "hash": site.Hash}

	occupant, _, found, err := tiered.FindClustered(ctx, e.store, site.Hash)
	if err != nil {
		return err
	}
	if found {
		if occupant.Accession != declared {
			e.collision(state, sv, site.Hash, occupant, fields)
			return nil
		}
		state.memo[site.Hash] = declared
		return nil
	}

	if followChain {
		chain, err := e.chains.Resolve(ctx, sv.AssemblyAccession, declared)
		if err != nil {
			return err
		}
		switch chain.Status {
		case merge.ChainNone:
		case merge.ChainActive:
			redirected, err := e.redirect(ctx, sv, chain.Current)
			if err != nil {
				return err
			}
			return e.clusterDeclared(ctx, state, redirected, false)
		default:
			e.logger.WithFields(fields).WithField("chain", chain.Status.String()).Warn("declared accession was merged into an unusable accession; variant excluded")
			state.keepUnclustered(e.counters, sv)
			return nil
		}
	}

	elsewhere, err := tiered.ClusteredByAccession(ctx, e.store, declared, "")
	if err != nil {
		return err
	}
	cv := site
	cv.Accession = declared
	cv.CreatedDate = e.opts.Now()
	stored, _, err := e.insertClustered(ctx, cv)
	if err != nil {
		return err
	}
	if stored.Accession != declared {
		e.collision(state, sv, site.Hash, stored, fields)
		return nil
	}
	state.memo[site.Hash] = declared
	for _, other := range elsewhere {
		if other.AssemblyAccession == sv.AssemblyAccession && other.Hash != site.Hash {
			state.addSplit(domain.SplitCandidate{Assembly: sv.AssemblyAccession, Accession: declared})
			break
		}
	}
	return nil
}

func (e *Engine) collision(state *batchState, sv domain.SubmittedVariant, hash string, occupant domain.ClusteredVariant, fields logrus.Fields) {
	if sv.IsMultimap() {
		e.logger.WithFields(fields).WithField("occupant", occupant.Accession).Info("multimap submitted variant collides with another accession; not merging")
		state.keepUnclustered(e.counters, sv)
		return
	}
	state.addMerge(domain.MergeCandidate{
		Assembly:  sv.AssemblyAccession,
		Hash:      hash,
		Survivor:  *sv.ClusteredVariantAccession,
		Retired:   occupant.Accession,
		Occupant:  occupant,
		Submitted: sv,
	})
}

// redirect points sv at survivor, auditing the change.
func (e *Engine) redirect(ctx context.Context, sv domain.SubmittedVariant, survivor int64) (domain.SubmittedVariant, error) {
	retired := *sv.ClusteredVariantAccession
	tier := tiered.SubmittedTier(e.store, sv)
	op := domain.SubmittedVariantOperation{
		ID:                hashing.RedirectOperationID(retired, survivor, sv.Hash),
		EventType:         domain.EventUpdated,
		Accession:         sv.Accession,
		AssemblyAccession: sv.AssemblyAccession,
		Reason:            fmt.Sprintf("Original rs%d was merged into rs%d.", retired, survivor),
		Inactive:          []domain.SubmittedVariant{sv},
		CreatedDate:       e.opts.Now(),
	}
	wrote, err := tiered.InsertOnce(ctx, e.store.SubmittedOperations(tier), op)
	if err != nil {
		return sv, err
	}
	if wrote {
		e.counters.Inc(metrics.SubmittedVariantUpdateOperations)
	}
	updated := sv.WithClusteredAccession(&survivor)
	if err := e.store.SubmittedVariants(tier).Upsert(ctx, updated); err != nil {
		return sv, err
	}
	e.counters.Inc(metrics.SubmittedVariantsUpdatedRS)
	e.logger.WithFields(logrus.Fields{"assembly": sv.AssemblyAccession, "ss": sv.Accession, "from": retired, "to": survivor}).Info("redirected submitted variant to merge survivor")
	return updated, nil
}

// clusterNew handles a submitted variant without an rs. Each mapped location
// of a multimap variant is its own submitted variant and is clustered at its
// own site only; the clustered record carries the map weight, which keeps it
// out of merges.
func (e *Engine) clusterNew(ctx context.Context, state *batchState, sv domain.SubmittedVariant) error {
	site := hashing.ClusteredSite(sv)
	if rs, ok := state.memo[site.Hash]; ok {
		return e.assign(ctx, sv, rs)
	}
	existing, _, found, err := tiered.FindClustered(ctx, e.store, site.Hash)
	if err != nil {
		return err
	}
	if found {
		state.memo[site.Hash] = existing.Accession
		return e.assign(ctx, sv, existing.Accession)
	}
	if _, queued := state.pending[site.Hash]; !queued {
		state.order = append(state.order, site.Hash)
		state.sites[site.Hash] = site
	}
	state.pending[site.Hash] = append(state.pending[site.Hash], sv)
	return nil
}

// allocatePending fetches accessions for every unseen site in one call.
// Sites claimed later in the batch by a declared accession, or by another
// writer in the meantime, reuse that accession instead.
func (e *Engine) allocatePending(ctx context.Context, state *batchState) error {
	var unseen []string
	for _, hash := range state.order {
		rs, claimed := state.memo[hash]
		if !claimed {
			existing, _, found, err := tiered.FindClustered(ctx, e.store, hash)
			if err != nil {
				return err
			}
			rs, claimed = existing.Accession, found
		}
		if !claimed {
			unseen = append(unseen, hash)
			continue
		}
		state.memo[hash] = rs
		for _, sv := range state.pending[hash] {
			if err := e.assign(ctx, sv, rs); err != nil {
				return err
			}
		}
	}
	if len(unseen) == 0 {
		return nil
	}
	accessioned, err := e.provider.GetOrCreate(ctx, unseen)
	if err != nil {
		return fmt.Errorf("get or create accessions: %w", err)
	}
	for _, a := range accessioned {
		cv := state.sites[a.Hash]
		cv.Accession = a.Accession
		cv.CreatedDate = e.opts.Now()
		stored, _, err := e.insertClustered(ctx, cv)
		if err != nil {
			return err
		}
		state.memo[a.Hash] = stored.Accession
		for _, sv := range state.pending[a.Hash] {
			if err := e.assign(ctx, sv, stored.Accession); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertClustered writes cv into the tier of its accession. When the hash
// is already taken in either tier it returns the occupant instead.
func (e *Engine) insertClustered(ctx context.Context, cv domain.ClusteredVariant) (domain.ClusteredVariant, bool, error) {
	tier := tiered.ClusteredTier(e.store, cv.Accession)
	for _, other := range domain.AllTiers {
		if other == tier {
			continue
		}
		occupant, ok, err := e.store.ClusteredVariants(other).FindByHash(ctx, cv.Hash)
		if err != nil {
			return cv, false, err
		}
		if ok {
			return occupant, false, nil
		}
	}
	coll := e.store.ClusteredVariants(tier)
	res, err := coll.BulkInsert(ctx, []domain.ClusteredVariant{cv})
	if err != nil {
		return cv, false, err
	}
	if res.Inserted == 1 {
		e.counters.Inc(metrics.ClusteredVariantsCreated)
		return cv, true, nil
	}

	var occupant domain.ClusteredVariant
	reread := func() error {
		found, ok, err := coll.FindByHash(ctx, cv.Hash)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("%w: %s vanished after duplicate insert", domain.ErrNotFound, cv.Hash)
		}
		occupant = found
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.RetryInterval), e.opts.RetryAttempts), ctx)
	if err := backoff.Retry(reread, policy); err != nil {
		return cv, false, fmt.Errorf("resolve %w: %w", domain.DuplicateKeyError{Collection: coll.Name(), ID: cv.Hash}, err)
	}
	e.logger.WithFields(logrus.Fields{"hash": cv.Hash, "rs": cv.Accession, "occupant": occupant.Accession}).Debug("clustered variant inserted concurrently")
	return occupant, false, nil
}

// assign points sv at rs unless the stored copy already does.
func (e *Engine) assign(ctx context.Context, sv domain.SubmittedVariant, rs int64) error {
	tier := tiered.SubmittedTier(e.store, sv)
	coll := e.store.SubmittedVariants(tier)
	current, ok, err := coll.FindByHash(ctx, sv.Hash)
	if err != nil {
		return err
	}
	if ok {
		sv = current
	}
	if sv.HasClusteredAccession(rs) {
		return nil
	}
	op := domain.SubmittedVariantOperation{
		ID:                hashing.ClusteringOperationID(rs, sv.Hash),
		EventType:         domain.EventUpdated,
		Accession:         sv.Accession,
		AssemblyAccession: sv.AssemblyAccession,
		Reason:            fmt.Sprintf("Clustering submitted variant %d with rs%d", sv.Accession, rs),
		Inactive:          []domain.SubmittedVariant{sv},
		CreatedDate:       e.opts.Now(),
	}
	wrote, err := tiered.InsertOnce(ctx, e.store.SubmittedOperations(tier), op)
	if err != nil {
		return err
	}
	if wrote {
		e.counters.Inc(metrics.SubmittedVariantUpdateOperations)
	}
	if err := coll.Upsert(ctx, sv.WithClusteredAccession(&rs)); err != nil {
		return err
	}
	e.counters.Inc(metrics.SubmittedVariantsClustered)
	return nil
}
