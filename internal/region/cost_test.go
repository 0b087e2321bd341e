// internal/region/cost_test.go
package region

import "testing"

func TestCostTotal(t *testing.T) {
	c := Cost{Compute: 0.05, Storage: 0.02, Network: 0.1}
	if got := c.Total(); got != 0.17 {
		t.Errorf("Total() = %f, want 0.17", got)
	}

	var zero Cost
	if zero.Total() != 0 {
		t.Error("zero cost should total 0")
	}
}

func TestCostValidate(t *testing.T) {
	good := Cost{Compute: 0.05, Storage: 0.02, Network: 0.1, Currency: "USD"}
	if err := good.Validate(); err != nil {
		t.Errorf("valid cost rejected: %v", err)
	}

	bad := []Cost{
		{Compute: -0.1},
		{Storage: -0.1},
		{Network: -0.1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("negative cost accepted: %+v", c)
		}
	}
}

func TestDefaultCatalogComplete(t *testing.T) {
	catalog := DefaultCatalog()
	if err := catalog.Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	for _, r := range All() {
		cost, ok := catalog[r]
		if !ok {
			t.Errorf("default catalog missing %s", r)
			continue
		}
		if cost.Total() <= 0 {
			t.Errorf("region %s has zero total cost", r)
		}
	}
}

func TestCatalogValidateMissingRegion(t *testing.T) {
	catalog := DefaultCatalog()
	delete(catalog, Oceania)
	if err := catalog.Validate(); err == nil {
		t.Error("expected error for missing region")
	}
}

func TestCatalogValidateNegativeCost(t *testing.T) {
	catalog := DefaultCatalog()
	catalog[Asia] = Cost{Compute: -1}
	if err := catalog.Validate(); err == nil {
		t.Error("expected error for negative cost")
	}
}

func TestCatalogClone(t *testing.T) {
	catalog := DefaultCatalog()
	clone := catalog.Clone()

	clone[Europe] = Cost{Compute: 99}
	if catalog[Europe].Compute == 99 {
		t.Error("mutating clone changed the original")
	}
	if len(clone) != len(catalog) {
		t.Error("clone has different size")
	}
}
