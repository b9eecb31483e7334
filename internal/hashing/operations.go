package hashing

import "strconv"

func rs(accession int64) string { return "RS" + strconv.FormatInt(accession, 10) }

// ClusteringOperationID identifies the UPDATED entry written when a submitted
// variant is first clustered under rs.
func ClusteringOperationID(clustered int64, submittedHash string) string {
	return OperationID("SS_UPDATED", rs(clustered), submittedHash)
}

// RedirectOperationID identifies the UPDATED entry written when a submitted
// variant is moved from a retired accession to its merge survivor.
func RedirectOperationID(retired, survivor int64, submittedHash string) string {
	return OperationID("SS_MERGED", rs(retired), "INTO", rs(survivor), submittedHash)
}

// MergeOperationID identifies the MERGED entry of a clustered variant.
func MergeOperationID(retired, survivor int64, clusteredHash string) string {
	return OperationID("RS_MERGED", strconv.FormatInt(retired, 10), "INTO", strconv.FormatInt(survivor, 10), clusteredHash)
}

// SplitOperationID identifies the RS_SPLIT entry for one split-off site.
func SplitOperationID(original int64, clusteredHash string) string {
	return OperationID("RS_SPLIT", strconv.FormatInt(original, 10), clusteredHash)
}

// SubmittedDeprecationID identifies a run-scoped SS deprecation entry.
func SubmittedDeprecationID(suffix, submittedHash string) string {
	return OperationID("SS_DEPRECATED", suffix, submittedHash)
}

// ClusteredDeprecationID identifies a run-scoped RS deprecation entry.
func ClusteredDeprecationID(suffix, clusteredHash string) string {
	return OperationID("RS_DEPRECATED", suffix, clusteredHash)
}
