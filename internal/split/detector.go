// Package split finds clustered accessions that cover unrelated sites of an
// assembly and re-clusters the minority sites under new accessions.
package split

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"variantcore/internal/accession"
	"variantcore/internal/hashing"
	"variantcore/internal/tiered"
	"variantcore/pkg/domain"
)

// SiteGroup is a set of submitted variants describing the same site.
type SiteGroup struct {
	Contig   string
	Start    int64
	Type     domain.VariantType
	Variants []domain.SubmittedVariant
	Multimap bool
}

// Hashes returns the distinct clustered hashes of the group's variants.
func (g SiteGroup) Hashes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sv := range g.Variants {
		h := hashing.ClusteredSite(sv).Hash
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Finding is an accession whose submitted variants fall into several site
// groups. Minority lists the groups to split off.
type Finding struct {
	Assembly  string
	Accession int64
	Keeper    SiteGroup
	Minority  []SiteGroup
}

// Detector scans submitted variants for accessions spanning several sites.
type Detector struct {
	store    domain.VariantStore
	provider accession.Provider
	logger   logrus.FieldLogger
}

// NewDetector wires a detector. provider may be nil when original hashes are unknown.
func NewDetector(store domain.VariantStore, provider accession.Provider, logger logrus.FieldLogger) *Detector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{store: store, provider: provider, logger: logger.WithField("component", "split")}
}

// Detect scans every clustered submitted variant of assembly. Both tiers are
// streamed sorted by rs and merged; each accession is evaluated as soon as
// the stream moves past it, so only one accession's variants are held.
func (d *Detector) Detect(ctx context.Context, assembly string) ([]Finding, error) {
	var cursors []domain.Cursor[domain.SubmittedVariant]
	defer func() {
		for _, cur := range cursors {
			_ = cur.Close()
		}
	}()
	for _, tier := range domain.AllTiers {
		cur, err := d.store.SubmittedVariants(tier).Stream(ctx, domain.Query{Assembly: assembly, SortBy: domain.SortByReference})
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, cur)
	}

	var (
		findings []Finding
		current  []domain.SubmittedVariant
		heads    = make([]*domain.SubmittedVariant, len(cursors))
		advance  = func(i int) error {
			heads[i] = nil
			for cursors[i].Next(ctx) {
				sv := cursors[i].Value()
				if sv.ClusteredVariantAccession == nil {
					continue
				}
				heads[i] = &sv
				return nil
			}
			return cursors[i].Err()
		}
		// flush evaluates the accession the merged stream has moved past.
		flush = func() error {
			if len(current) == 0 {
				return nil
			}
			finding, ok, err := d.evaluate(ctx, assembly, *current[0].ClusteredVariantAccession, current)
			current = nil
			if err != nil {
				return err
			}
			if ok {
				findings = append(findings, finding)
			}
			return nil
		}
	)
	for i := range cursors {
		if err := advance(i); err != nil {
			return nil, fmt.Errorf("scan %s: %w", assembly, err)
		}
	}
	for {
		next := -1
		for i, head := range heads {
			if head == nil {
				continue
			}
			if next == -1 || *head.ClusteredVariantAccession < *heads[next].ClusteredVariantAccession {
				next = i
			}
		}
		if next == -1 {
			break
		}
		sv := *heads[next]
		if len(current) > 0 && *current[0].ClusteredVariantAccession != *sv.ClusteredVariantAccession {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, sv)
		if err := advance(next); err != nil {
			return nil, fmt.Errorf("scan %s: %w", assembly, err)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return findings, nil
}

// DetectAccessions evaluates only the given accessions.
func (d *Detector) DetectAccessions(ctx context.Context, assembly string, accessions []int64) ([]Finding, error) {
	var findings []Finding
	seen := make(map[int64]struct{}, len(accessions))
	for _, rs := range accessions {
		if _, ok := seen[rs]; ok {
			continue
		}
		seen[rs] = struct{}{}
		refs, err := tiered.SubmittedReferencing(ctx, d.store, assembly, rs)
		if err != nil {
			return nil, err
		}
		finding, ok, err := d.evaluate(ctx, assembly, rs, refs)
		if err != nil {
			return nil, err
		}
		if ok {
			findings = append(findings, finding)
		}
	}
	return findings, nil
}

func (d *Detector) evaluate(ctx context.Context, assembly string, rs int64, variants []domain.SubmittedVariant) (Finding, bool, error) {
	groups := GroupSites(variants)
	if len(groups) < 2 {
		return Finding{}, false, nil
	}
	keeper, err := d.keeper(ctx, rs, groups)
	if err != nil {
		return Finding{}, false, err
	}
	finding := Finding{Assembly: assembly, Accession: rs, Keeper: groups[keeper]}
	for i, g := range groups {
		if i == keeper {
			continue
		}
		if g.Multimap {
			d.logger.WithFields(logrus.Fields{"assembly": assembly, "rs": rs, "contig": g.Contig, "start": g.Start}).Info("multimap site left on original accession")
			continue
		}
		finding.Minority = append(finding.Minority, g)
	}
	if len(finding.Minority) == 0 {
		return Finding{}, false, nil
	}
	return finding, true, nil
}

// keeper picks the group holding the accession's original hash, falling back
// to the largest group and then the lowest contig and start.
func (d *Detector) keeper(ctx context.Context, rs int64, groups []SiteGroup) (int, error) {
	if d.provider != nil {
		hash, err := d.provider.Get(ctx, rs)
		switch {
		case err == nil:
			for i, g := range groups {
				for _, h := range g.Hashes() {
					if h == hash {
						return i, nil
					}
				}
			}
		case !errors.Is(err, accession.ErrAccessionNotFound):
			return 0, fmt.Errorf("original hash of rs%d: %w", rs, err)
		}
	}
	best := 0
	for i := 1; i < len(groups); i++ {
		if len(groups[i].Variants) > len(groups[best].Variants) {
			best = i
		}
	}
	return best, nil
}

// GroupSites partitions variants by site. Variants join a group when they
// share contig and type and either start at the same position or, for
// indels, within one base of the previous member. Groups are ordered by
// contig and start.
func GroupSites(variants []domain.SubmittedVariant) []SiteGroup {
	type keyed struct {
		sv  domain.SubmittedVariant
		typ domain.VariantType
	}
	items := make([]keyed, 0, len(variants))
	for _, sv := range variants {
		items = append(items, keyed{sv: sv, typ: hashing.Classify(sv.ReferenceAllele, sv.AlternateAllele)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.sv.Contig != b.sv.Contig {
			return a.sv.Contig < b.sv.Contig
		}
		if a.typ != b.typ {
			return a.typ < b.typ
		}
		if a.sv.Start != b.sv.Start {
			return a.sv.Start < b.sv.Start
		}
		return a.sv.Hash < b.sv.Hash
	})

	var groups []SiteGroup
	var last int64
	for _, it := range items {
		if n := len(groups); n > 0 {
			g := &groups[n-1]
			if g.Contig == it.sv.Contig && g.Type == it.typ &&
				(it.sv.Start == last || (it.typ.IsIndel() && it.sv.Start-last <= 1)) {
				g.Variants = append(g.Variants, it.sv)
				g.Multimap = g.Multimap || it.sv.IsMultimap()
				last = it.sv.Start
				continue
			}
		}
		groups = append(groups, SiteGroup{
			Contig:   it.sv.Contig,
			Start:    it.sv.Start,
			Type:     it.typ,
			Variants: []domain.SubmittedVariant{it.sv},
			Multimap: it.sv.IsMultimap(),
		})
		last = it.sv.Start
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Contig != groups[j].Contig {
			return groups[i].Contig < groups[j].Contig
		}
		return groups[i].Start < groups[j].Start
	})
	return groups
}
