// internal/region/cost.go
package region

import "fmt"

// Cost holds per-unit cost coefficients for serving traffic from a region.
type Cost struct {
	Compute  float64 `yaml:"compute" json:"compute"`
	Storage  float64 `yaml:"storage" json:"storage"`
	Network  float64 `yaml:"network" json:"network"`
	Currency string  `yaml:"currency" json:"currency"`
}

// Total returns the sum of the cost coefficients.
func (c Cost) Total() float64 {
	return c.Compute + c.Storage + c.Network
}

// Validate checks that all coefficients are non-negative.
func (c Cost) Validate() error {
	if c.Compute < 0 {
		return fmt.Errorf("compute cost must be non-negative, got %f", c.Compute)
	}
	if c.Storage < 0 {
		return fmt.Errorf("storage cost must be non-negative, got %f", c.Storage)
	}
	if c.Network < 0 {
		return fmt.Errorf("network cost must be non-negative, got %f", c.Network)
	}
	return nil
}

// Catalog maps every region to its cost model. The catalog is owned by the
// orchestrator and replaced wholesale on configuration reload; request
// traffic never mutates it.
type Catalog map[Region]Cost

// DefaultCatalog returns the cost catalog shipped with the controller.
func DefaultCatalog() Catalog {
	return Catalog{
		NorthAmerica: {Compute: 0.048, Storage: 0.023, Network: 0.09, Currency: "USD"},
		SouthAmerica: {Compute: 0.067, Storage: 0.035, Network: 0.15, Currency: "USD"},
		Europe:       {Compute: 0.052, Storage: 0.024, Network: 0.09, Currency: "USD"},
		Asia:         {Compute: 0.058, Storage: 0.025, Network: 0.12, Currency: "USD"},
		Africa:       {Compute: 0.076, Storage: 0.040, Network: 0.18, Currency: "USD"},
		Oceania:      {Compute: 0.060, Storage: 0.028, Network: 0.14, Currency: "USD"},
		Global:       {Compute: 0.055, Storage: 0.026, Network: 0.11, Currency: "USD"},
	}
}

// Validate checks every entry and that no enumerated region is missing.
func (c Catalog) Validate() error {
	for r, cost := range c {
		if !r.Valid() {
			return fmt.Errorf("catalog key out of range: %d", int(r))
		}
		if err := cost.Validate(); err != nil {
			return fmt.Errorf("region %s: %w", r, err)
		}
	}
	for _, r := range All() {
		if _, ok := c[r]; !ok {
			return fmt.Errorf("catalog missing region: %s", r)
		}
	}
	return nil
}

// Clone returns an independent copy of the catalog.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for r, cost := range c {
		out[r] = cost
	}
	return out
}
