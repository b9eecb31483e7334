package merge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// ChainStatus classifies the end of a merge chain.
type ChainStatus int

// Chain outcomes.
const (
	// ChainNone means the accession was never merged.
	ChainNone ChainStatus = iota
	// ChainActive means the chain ends at an accession with clustered records.
	ChainActive
	// ChainDeprecated means the chain ends at a deprecated accession.
	ChainDeprecated
	// ChainUnresolved means the chain ends at an accession with no records.
	ChainUnresolved
	// ChainCycle means the chain revisits an accession.
	ChainCycle
	// ChainAmbiguous means an accession was merged into more than one target.
	ChainAmbiguous
)

func (s ChainStatus) String() string {
	switch s {
	case ChainNone:
		return "none"
	case ChainActive:
		return "active"
	case ChainDeprecated:
		return "deprecated"
	case ChainUnresolved:
		return "unresolved"
	case ChainCycle:
		return "cycle"
	case ChainAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Chain is the outcome of following MERGED operations from Origin.
type Chain struct {
	Status  ChainStatus
	Origin  int64
	Current int64
	Path    []int64
	// Targets holds the competing merge targets of an ambiguous step.
	Targets []int64
}

// Resolvable reports whether the chain ends at a usable accession.
func (c Chain) Resolvable() bool { return c.Status == ChainNone || c.Status == ChainActive }

// ChainResolver follows merge operations of an assembly to their survivor.
type ChainResolver struct {
	store  domain.VariantStore
	logger logrus.FieldLogger
}

// NewChainResolver constructs a resolver over store.
func NewChainResolver(store domain.VariantStore, logger logrus.FieldLogger) *ChainResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChainResolver{store: store, logger: logger.WithField("component", "merge-chain")}
}

// Resolve walks the MERGED operations starting at accession within assembly.
// Cycles and ambiguous targets are logged as errors, dangling ends as
// warnings; none of them is returned as an error.
func (r *ChainResolver) Resolve(ctx context.Context, assembly string, accession int64) (Chain, error) {
	chain := Chain{Origin: accession, Current: accession, Path: []int64{accession}}
	visited := map[int64]struct{}{accession: {}}
	for {
		ops, err := tiered.ClusteredOperations(ctx, r.store, assembly, chain.Current, domain.EventMerged)
		if err != nil {
			return chain, err
		}
		targets := distinctTargets(ops)
		fields := logrus.Fields{"assembly": assembly, "rs": accession, "path": chain.Path}
		switch {
		case len(targets) == 0:
			return r.terminal(ctx, assembly, chain, fields)
		case len(targets) > 1:
			chain.Status = ChainAmbiguous
			chain.Targets = targets
			r.logger.WithFields(fields).WithField("targets", targets).Error("accession merged into more than one target")
			return chain, nil
		}
		next := targets[0]
		if _, seen := visited[next]; seen {
			chain.Status = ChainCycle
			chain.Path = append(chain.Path, next)
			r.logger.WithFields(fields).WithField("target", next).Error("merge chain contains a cycle")
			return chain, nil
		}
		visited[next] = struct{}{}
		chain.Current = next
		chain.Path = append(chain.Path, next)
	}
}

func (r *ChainResolver) terminal(ctx context.Context, assembly string, chain Chain, fields logrus.Fields) (Chain, error) {
	if chain.Current == chain.Origin {
		chain.Status = ChainNone
		return chain, nil
	}
	active, err := tiered.ClusteredByAccession(ctx, r.store, chain.Current, assembly)
	if err != nil {
		return chain, err
	}
	if len(active) > 0 {
		chain.Status = ChainActive
		return chain, nil
	}
	deprecated, err := tiered.ClusteredOperations(ctx, r.store, assembly, chain.Current, domain.EventDeprecated)
	if err != nil {
		return chain, err
	}
	if len(deprecated) > 0 {
		chain.Status = ChainDeprecated
		r.logger.WithFields(fields).WithField("target", chain.Current).Warn("merge chain ends at a deprecated accession")
		return chain, nil
	}
	chain.Status = ChainUnresolved
	r.logger.WithFields(fields).WithField("target", chain.Current).Warn("merge chain ends at an accession with no records")
	return chain, nil
}

func distinctTargets(ops []domain.ClusteredVariantOperation) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, op := range ops {
		if op.MergeInto == nil {
			continue
		}
		if _, ok := seen[*op.MergeInto]; ok {
			continue
		}
		seen[*op.MergeInto] = struct{}{}
		out = append(out, *op.MergeInto)
	}
	return out
}
