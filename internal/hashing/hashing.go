// Package hashing derives the content identities of submitted and clustered
// variants. Identities are SHA-1 digests of an underscore separated summary of
// the identifying fields, rendered as upper-case hex.
package hashing

import (
	"crypto/sha1" //nolint:gosec // identity digest, not a security boundary
	"encoding/hex"
	"strconv"
	"strings"

	"variantcore/pkg/domain"
)

// EmptyAlleleMarker stands in for an empty reference or alternate allele so
// that insertions and deletions at the same position summarize differently.
const EmptyAlleleMarker = "-"

const separator = "_"

// Digest returns the upper-case hex SHA-1 of summary.
func Digest(summary string) string {
	sum := sha1.Sum([]byte(summary)) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SubmittedSummary lists the identifying fields of a submitted variant. The
// clustered accession is deliberately left out so re-clustering keeps identity.
func SubmittedSummary(v domain.SubmittedVariant) string {
	return strings.Join([]string{
		v.AssemblyAccession,
		v.ProjectAccession,
		v.Contig,
		strconv.FormatInt(v.Start, 10),
		allele(v.ReferenceAllele),
		allele(v.AlternateAllele),
	}, separator)
}

// SubmittedHash returns the content hash of a submitted variant.
func SubmittedHash(v domain.SubmittedVariant) string {
	return Digest(SubmittedSummary(v))
}

// ClusteredSummary lists the identifying fields of a clustered variant.
func ClusteredSummary(v domain.ClusteredVariant) string {
	return strings.Join([]string{
		v.AssemblyAccession,
		v.Contig,
		strconv.FormatInt(v.Start, 10),
		string(v.Type),
	}, separator)
}

// ClusteredHash returns the content hash of a clustered variant.
func ClusteredHash(v domain.ClusteredVariant) string {
	return Digest(ClusteredSummary(v))
}

// ClusteredSite builds the clustered variant a submitted variant would be
// clustered under. The accession is left unset.
func ClusteredSite(v domain.SubmittedVariant) domain.ClusteredVariant {
	cv := domain.ClusteredVariant{
		AssemblyAccession: v.AssemblyAccession,
		Taxonomy:          v.Taxonomy,
		Contig:            v.Contig,
		Start:             v.Start,
		Type:              Classify(v.ReferenceAllele, v.AlternateAllele),
		Validated:         v.Validated,
	}
	if v.MapWeight != nil {
		cv.MapWeight = domain.IntPtr(*v.MapWeight)
	}
	cv.Hash = ClusteredHash(cv)
	return cv
}

// WithSubmittedHash returns v with its Hash field recomputed.
func WithSubmittedHash(v domain.SubmittedVariant) domain.SubmittedVariant {
	v.Hash = SubmittedHash(v)
	return v
}

// Classify derives the variant type from normalized alleles.
func Classify(reference, alternate string) domain.VariantType {
	ref := strings.ToUpper(strings.TrimSpace(reference))
	alt := strings.ToUpper(strings.TrimSpace(alternate))
	switch {
	case ref == alt:
		return domain.VariantNoSequenceAlteration
	case !isSequence(ref) || !isSequence(alt):
		return domain.VariantSequenceAlteration
	case ref == "":
		return domain.VariantInsertion
	case alt == "":
		return domain.VariantDeletion
	case len(ref) == len(alt) && len(ref) == 1:
		return domain.VariantSNV
	case len(ref) == len(alt):
		return domain.VariantMNV
	default:
		return domain.VariantIndel
	}
}

func isSequence(allele string) bool {
	for _, c := range allele {
		switch c {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return false
		}
	}
	return true
}

func allele(a string) string {
	if a == "" {
		return EmptyAlleleMarker
	}
	return a
}

// OperationID joins the parts of a deterministic audit operation id.
func OperationID(tag string, parts ...string) string {
	return strings.Join(append([]string{tag}, parts...), separator)
}
