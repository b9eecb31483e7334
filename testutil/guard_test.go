package testutil

import "testing"

func TestWithin(t *testing.T) {
	cases := []struct {
		path, prefix string
		want         bool
	}{
		{"variantcore/internal/blob", "variantcore/internal/blob", true},
		{"variantcore/internal/blob/core", "variantcore/internal/blob", true},
		{"variantcore/internal/blobby", "variantcore/internal/blob", false},
		{"variantcore/pkg/domain", "variantcore/internal", false},
	}
	for _, c := range cases {
		if got := Within(c.path, c.prefix); got != c.want {
			t.Fatalf("Within(%q, %q)=%v want %v", c.path, c.prefix, got, c.want)
		}
	}
}

func TestImportViolationsReportsDirectImports(t *testing.T) {
	viols, err := ImportViolations("variantcore/testutil", func(importer, imported string) bool {
		return importer == "variantcore/testutil" && imported == "golang.org/x/tools/go/packages"
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(viols) != 1 || viols[0].Import != "golang.org/x/tools/go/packages" {
		t.Fatalf("unexpected violations %v", viols)
	}
}
