package domain_test

import (
	"testing"

	"variantcore/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoImports(t, "variantcore/pkg/domain", func(importer, imported string) bool {
		return importer == "variantcore/pkg/domain" && testutil.InternalImport(imported)
	}, "the domain model is shared by every layer")
}
