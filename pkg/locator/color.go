package locator

import (
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/models"
)

// EffectiveColor resolves the marker color of a facility: a custom color wins,
// then the memo indicator, then the category color.
func EffectiveColor(category models.Category, hasMemo bool, custom string) string {
	if custom != "" {
		return custom
	}
	if hasMemo {
		return facility.ColorMemo
	}
	return facility.CategoryColor(category)
}
