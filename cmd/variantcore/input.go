package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"variantcore/internal/hashing"
	"variantcore/pkg/domain"
)

const maxLineBytes = 4 << 20

// openInput returns stdin for "-" or an empty path.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// readVariants decodes one submitted variant per line. Blank lines and lines
// starting with '#' are skipped. Missing hashes are filled in.
func readVariants(r io.Reader) ([]domain.SubmittedVariant, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var out []domain.SubmittedVariant
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var sv domain.SubmittedVariant
		if err := json.Unmarshal([]byte(text), &sv); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sv.AssemblyAccession == "" {
			return nil, fmt.Errorf("line %d: ss%d has no assembly", line, sv.Accession)
		}
		if sv.Hash == "" {
			sv = hashing.WithSubmittedHash(sv)
		}
		out = append(out, sv)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return out, nil
}

// byAssembly groups variants, keeping only the listed assemblies when any
// are given.
func byAssembly(variants []domain.SubmittedVariant, only []string) (map[string][]domain.SubmittedVariant, []string) {
	keep := make(map[string]bool, len(only))
	for _, a := range only {
		keep[a] = true
	}
	groups := make(map[string][]domain.SubmittedVariant)
	for _, sv := range variants {
		if len(keep) > 0 && !keep[sv.AssemblyAccession] {
			continue
		}
		groups[sv.AssemblyAccession] = append(groups[sv.AssemblyAccession], sv)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return groups, names
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
