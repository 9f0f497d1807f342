package scoring

import (
	"testing"

	"compliancecore/testutil"
)

func TestScoringIsDriverFree(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(testutil.DriverImport, testutil.InfraImport, testutil.CoreImport), "scoring must stay pure")
}
