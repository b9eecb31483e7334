// Package testutil provides shared fixtures and import-boundary assertions for
// package tests.
package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "variantcore"

// Violation names a package importing something it must not.
type Violation struct {
	Package string
	Import  string
}

func (v Violation) String() string { return v.Package + " -> " + v.Import }

// ImportViolations loads pattern (including tests) and returns every direct
// import for which forbidden(importer, imported) holds, sorted.
func ImportViolations(pattern string, forbidden func(importer, imported string) bool) ([]Violation, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[Violation]struct{})
	for _, pkg := range pkgs {
		for imp := range pkg.Imports {
			if forbidden(pkg.PkgPath, imp) {
				seen[Violation{Package: pkg.PkgPath, Import: imp}] = struct{}{}
			}
		}
	}
	out := make([]Violation, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// AssertNoImports fails t when ImportViolations reports anything.
func AssertNoImports(t testing.TB, pattern string, forbidden func(importer, imported string) bool, reason string) {
	t.Helper()
	viols, err := ImportViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load packages %s: %v", pattern, err)
	}
	if len(viols) == 0 {
		return
	}
	lines := make([]string, len(viols))
	for i, v := range viols {
		lines[i] = v.String()
	}
	t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(lines, "\n"))
}

// Within reports whether path is prefix or one of its subpackages.
func Within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// InternalImport matches any module-internal import path.
func InternalImport(path string) bool {
	return Within(path, ModulePath+"/internal")
}
