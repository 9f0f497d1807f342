package domain

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainImportsStdlibOnly keeps the domain layer free of internal
// packages and third-party drivers so every adapter can depend on it.
func TestDomainImportsStdlibOnly(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "compliancecore/pkg/domain")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("expected one package, got %d", len(pkgs))
	}
	violations := 0
	for importPath := range pkgs[0].Imports {
		if strings.HasPrefix(importPath, "compliancecore/") || strings.Contains(strings.SplitN(importPath, "/", 2)[0], ".") {
			violations++
			t.Errorf("domain package must not import %s", importPath)
		}
	}
	if violations > 0 {
		t.Fatalf("found %d forbidden imports in domain package", violations)
	}
}
