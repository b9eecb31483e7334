package domain

import "strconv"

// MergeCandidate describes a site in one assembly that is claimed by two
// accessions. Survivor is the accession declared by the incoming submitted
// variant; Retired is the accession found occupying the site.
type MergeCandidate struct {
	Assembly  string
	Hash      string
	Survivor  int64
	Retired   int64
	Occupant  ClusteredVariant
	Submitted SubmittedVariant
}

// Key identifies the candidate for de-duplication within a run.
func (c MergeCandidate) Key() string {
	return c.Assembly + "|" + c.Hash + "|" + strconv.FormatInt(c.Retired, 10) + "|" + strconv.FormatInt(c.Survivor, 10)
}

// SplitCandidate names an accession observed at more than one site of an assembly.
type SplitCandidate struct {
	Assembly  string
	Accession int64
}
