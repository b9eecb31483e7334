// variantcore clusters submitted variants into clustered variants and keeps
// the accessions consistent across the legacy and live storage tiers.
//
// Usage:
//
//	variantcore cluster   --input=<jsonl|-> [--assembly=<asm>] [--ingest] [--clustered]
//	variantcore split     --assembly=<asm> [--assembly=<asm> ...]
//	variantcore deprecate --suffix=<run> --assembly=<asm> [--input=<jsonl>]
//	variantcore version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
