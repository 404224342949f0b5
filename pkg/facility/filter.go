package facility

import (
	"strings"

	"github.com/kass/go-facility-map/pkg/models"
)

// Filter narrows the facility list. Zero fields match everything.
type Filter struct {
	// Query matches the name or the address, ignoring case.
	Query    string
	Category models.Category
	// Region matches facilities whose address contains it.
	Region string
}

// Match reports whether f passes every set criterion.
func (flt Filter) Match(f models.Facility) bool {
	if flt.Query != "" {
		q := strings.ToLower(flt.Query)
		if !strings.Contains(strings.ToLower(f.Name), q) &&
			!strings.Contains(strings.ToLower(f.Address), q) {
			return false
		}
	}
	if flt.Category != "" && f.Category != flt.Category {
		return false
	}
	if flt.Region != "" && !strings.Contains(f.Address, flt.Region) {
		return false
	}
	return true
}

// Apply returns the matching facilities in input order.
func (flt Filter) Apply(facilities []models.Facility) []models.Facility {
	out := make([]models.Facility, 0, len(facilities))
	for _, f := range facilities {
		if flt.Match(f) {
			out = append(out, f)
		}
	}
	return out
}
