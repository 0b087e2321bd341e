// internal/region/region.go
package region

import "fmt"

// Region identifies one geographic deployment zone. The set is closed and
// fixed at process start; there is no dynamic region registration.
type Region int

const (
	NorthAmerica Region = iota
	SouthAmerica
	Europe
	Asia
	Africa
	Oceania
	Global
)

// regionNames is indexed by Region ordinal. Ordinal order doubles as the
// failover scan order.
var regionNames = [...]string{
	"north-america",
	"south-america",
	"europe",
	"asia",
	"africa",
	"oceania",
	"global",
}

// String returns the canonical lowercase name of the region.
func (r Region) String() string {
	if !r.Valid() {
		return fmt.Sprintf("region(%d)", int(r))
	}
	return regionNames[r]
}

// Valid reports whether r is one of the enumerated regions.
func (r Region) Valid() bool {
	return r >= 0 && int(r) < len(regionNames)
}

// Next returns the region after r in ordinal order, wrapping at the end.
func (r Region) Next() Region {
	return Region((int(r) + 1) % len(regionNames))
}

// Parse converts a canonical region name to its enumerated value.
func Parse(s string) (Region, error) {
	for i, name := range regionNames {
		if name == s {
			return Region(i), nil
		}
	}
	return 0, fmt.Errorf("unknown region: %q", s)
}

// All returns every enumerated region in ordinal order.
func All() []Region {
	regions := make([]Region, len(regionNames))
	for i := range regionNames {
		regions[i] = Region(i)
	}
	return regions
}

// Count returns the number of enumerated regions.
func Count() int {
	return len(regionNames)
}
