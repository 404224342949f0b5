package facility

import "github.com/kass/go-facility-map/pkg/models"

// Marker colors.
const (
	ColorNursery      = "#2196F3"
	ColorKindergarten = "#4CAF50"
	ColorSchool       = "#FF9800"
	ColorUnknown      = "#9E9E9E"

	// ColorMemo marks a facility that carries a memo.
	ColorMemo = "#e91e63"
	// ColorPin is the dropped search pin.
	ColorPin = "#f44336"
	// ColorRadius is the search radius ring.
	ColorRadius = "#2196F3"
)

// CategoryColor returns the base marker color for a category.
func CategoryColor(c models.Category) string {
	switch c {
	case models.CategoryNursery:
		return ColorNursery
	case models.CategoryKindergarten:
		return ColorKindergarten
	case models.CategorySchool:
		return ColorSchool
	default:
		return ColorUnknown
	}
}

// Breakdown counts facilities per known category.
type Breakdown struct {
	Nurseries     int
	Kindergartens int
	Schools       int
	Other         int
}

// Total is the number of facilities counted.
func (b Breakdown) Total() int {
	return b.Nurseries + b.Kindergartens + b.Schools + b.Other
}

// CountByCategory tallies facilities by category.
func CountByCategory(facilities []models.Facility) Breakdown {
	var b Breakdown
	for _, f := range facilities {
		switch f.Category {
		case models.CategoryNursery:
			b.Nurseries++
		case models.CategoryKindergarten:
			b.Kindergartens++
		case models.CategorySchool:
			b.Schools++
		default:
			b.Other++
		}
	}
	return b
}
