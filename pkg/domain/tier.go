package domain

import "fmt"

// Tier identifies one of the two parallel storage partitions.
type Tier int

// Storage tiers.
const (
	TierLegacy Tier = iota
	TierLive
)

// AllTiers lists the tiers in lookup order.
var AllTiers = []Tier{TierLegacy, TierLive}

func (t Tier) String() string {
	switch t {
	case TierLegacy:
		return "legacy"
	case TierLive:
		return "live"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Collection base names. The legacy tier prefixes them with LegacyPrefix.
const (
	ClusteredVariantCollection    = "clustered_variant_entity"
	SubmittedVariantCollection    = "submitted_variant_entity"
	ClusteredOperationCollection  = "clustered_variant_operation_entity"
	SubmittedOperationCollection  = "submitted_variant_operation_entity"
	LegacyPrefix                  = "dbsnp_"
	DefaultLiveAccessionThreshold = int64(3_000_000_000)
)

// CollectionName returns the tier specific name of a base collection.
func (t Tier) CollectionName(base string) string {
	if t == TierLegacy {
		return LegacyPrefix + base
	}
	return base
}

// TierPolicy assigns accessions to tiers: accessions below LiveThreshold
// belong to the legacy tier, the rest to the live tier.
type TierPolicy struct {
	LiveThreshold int64
}

// DefaultTierPolicy returns the policy used when none is configured.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{LiveThreshold: DefaultLiveAccessionThreshold}
}

// ForAccession selects the tier holding records with the given accession.
func (p TierPolicy) ForAccession(accession int64) Tier {
	if accession < p.LiveThreshold {
		return TierLegacy
	}
	return TierLive
}
