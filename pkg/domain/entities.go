// Package domain defines the persistent variant entities, audit operations and
// storage contracts shared by the clustering, merge, split and deprecation
// components of variantcore.
package domain

import (
	"time"
)

// VariantType classifies the change described by a submitted variant's alleles.
type VariantType string

// Supported variant types. The type participates in the clustered variant
// identity, so variants of different types at the same position never share
// an accession.
const (
	VariantSNV                  VariantType = "SNV"
	VariantMNV                  VariantType = "MNV"
	VariantInsertion            VariantType = "INS"
	VariantDeletion             VariantType = "DEL"
	VariantIndel                VariantType = "INDEL"
	VariantSequenceAlteration   VariantType = "SEQUENCE_ALTERATION"
	VariantNoSequenceAlteration VariantType = "NO_SEQUENCE_ALTERATION"
)

// IsIndel reports whether the type is subject to left/right renormalization,
// which can shift the start coordinate by one between remapped submissions.
func (t VariantType) IsIndel() bool {
	switch t {
	case VariantInsertion, VariantDeletion, VariantIndel:
		return true
	}
	return false
}

// EventType identifies the kind of mutation recorded by an operation.
type EventType string

// Audit event types.
const (
	EventMerged     EventType = "MERGED"
	EventUpdated    EventType = "UPDATED"
	EventDeprecated EventType = "DEPRECATED"
	EventSplit      EventType = "RS_SPLIT"
)

// SubmittedVariant is a sample-level variant submission (an SS record).
type SubmittedVariant struct {
	Hash                      string    `json:"hash"`
	Accession                 int64     `json:"accession"`
	AssemblyAccession         string    `json:"seq"`
	Taxonomy                  int       `json:"tax"`
	ProjectAccession          string    `json:"study"`
	Contig                    string    `json:"contig"`
	Start                     int64     `json:"start"`
	ReferenceAllele           string    `json:"ref"`
	AlternateAllele           string    `json:"alt"`
	ClusteredVariantAccession *int64    `json:"rs,omitempty"`
	SupportedByEvidence       bool      `json:"evidence"`
	AssemblyMatch             bool      `json:"asmMatch"`
	AllelesMatch              bool      `json:"allelesMatch"`
	Validated                 bool      `json:"validated"`
	RemappedFrom              string    `json:"remappedFrom,omitempty"`
	MapWeight                 *int      `json:"mapWeight,omitempty"`
	CreatedDate               time.Time `json:"createdDate"`
}

// IsMultimap reports whether the submission is known to align to more than
// one location in its assembly.
func (v SubmittedVariant) IsMultimap() bool {
	return v.MapWeight != nil && *v.MapWeight > 1
}

// WithClusteredAccession returns a copy pointing at the supplied RS accession.
// A nil accession clears the reference.
func (v SubmittedVariant) WithClusteredAccession(rs *int64) SubmittedVariant {
	cp := v
	if rs == nil {
		cp.ClusteredVariantAccession = nil
		return cp
	}
	val := *rs
	cp.ClusteredVariantAccession = &val
	return cp
}

// HasClusteredAccession reports whether the submission points at rs.
func (v SubmittedVariant) HasClusteredAccession(rs int64) bool {
	return v.ClusteredVariantAccession != nil && *v.ClusteredVariantAccession == rs
}

// DocumentID implements Document.
func (v SubmittedVariant) DocumentID() string { return v.Hash }

// DocumentAccession implements Document.
func (v SubmittedVariant) DocumentAccession() int64 { return v.Accession }

// DocumentAssembly implements Document.
func (v SubmittedVariant) DocumentAssembly() string { return v.AssemblyAccession }

// DocumentReference implements Document; submitted variants reference their RS.
func (v SubmittedVariant) DocumentReference() *int64 { return v.ClusteredVariantAccession }

// ClusteredVariant is the canonical, assembly-anchored variant identity (an RS record).
type ClusteredVariant struct {
	Hash              string      `json:"hash"`
	Accession         int64       `json:"accession"`
	AssemblyAccession string      `json:"asm"`
	Taxonomy          int         `json:"tax"`
	Contig            string      `json:"contig"`
	Start             int64       `json:"start"`
	Type              VariantType `json:"type"`
	Validated         bool        `json:"validated"`
	MapWeight         *int        `json:"mapWeight,omitempty"`
	CreatedDate       time.Time   `json:"createdDate"`
}

// IsMultimap reports whether the clustered variant is flagged as mapping to
// more than one location.
func (v ClusteredVariant) IsMultimap() bool {
	return v.MapWeight != nil && *v.MapWeight > 1
}

// DocumentID implements Document.
func (v ClusteredVariant) DocumentID() string { return v.Hash }

// DocumentAccession implements Document.
func (v ClusteredVariant) DocumentAccession() int64 { return v.Accession }

// DocumentAssembly implements Document.
func (v ClusteredVariant) DocumentAssembly() string { return v.AssemblyAccession }

// DocumentReference implements Document.
func (v ClusteredVariant) DocumentReference() *int64 { return nil }

// Operation is an immutable audit entry describing a mutation of an entity of
// type T. Inactive holds the entity state before the change.
type Operation[T any] struct {
	ID                string    `json:"_id"`
	EventType         EventType `json:"eventType"`
	Accession         int64     `json:"accession"`
	AssemblyAccession string    `json:"asm"`
	MergeInto         *int64    `json:"mergeInto,omitempty"`
	SplitInto         *int64    `json:"splitInto,omitempty"`
	Reason            string    `json:"reason"`
	Inactive          []T       `json:"inactiveObjects"`
	CreatedDate       time.Time `json:"createdDate"`
}

// SubmittedVariantOperation audits a change to a submitted variant.
type SubmittedVariantOperation = Operation[SubmittedVariant]

// ClusteredVariantOperation audits a change to a clustered variant.
type ClusteredVariantOperation = Operation[ClusteredVariant]

// DocumentID implements Document.
func (o Operation[T]) DocumentID() string { return o.ID }

// DocumentAccession implements Document; operations are keyed by their subject.
func (o Operation[T]) DocumentAccession() int64 { return o.Accession }

// DocumentAssembly implements Document.
func (o Operation[T]) DocumentAssembly() string { return o.AssemblyAccession }

// DocumentReference implements Document; merges and splits reference their target.
func (o Operation[T]) DocumentReference() *int64 {
	if o.MergeInto != nil {
		return o.MergeInto
	}
	return o.SplitInto
}

// Int64Ptr is a small helper for optional accession fields.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr is a small helper for optional map weights.
func IntPtr(v int) *int { return &v }
