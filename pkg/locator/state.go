package locator

import (
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/geo"
	"github.com/kass/go-facility-map/pkg/models"
)

// State is everything the views are derived from. The controller owns the
// live copy; Snapshot hands out copies.
type State struct {
	Facilities []models.Facility
	Memos      map[string]models.MemoRecord
	Colors     map[string]models.ColorRecord
	Saved      []models.SavedSearch

	Pin      *models.Pin
	RadiusKm float64
	Results  []geo.Match

	Filter     facility.Filter
	SavedQuery string
	SavedSort  SortMode
}

func newState(radiusKm float64) State {
	return State{
		Memos:     map[string]models.MemoRecord{},
		Colors:    map[string]models.ColorRecord{},
		RadiusKm:  radiusKm,
		SavedSort: SortNewest,
	}
}

func (s State) clone() State {
	out := s
	out.Facilities = append([]models.Facility(nil), s.Facilities...)
	out.Saved = append([]models.SavedSearch(nil), s.Saved...)
	out.Results = append([]geo.Match(nil), s.Results...)
	out.Memos = make(map[string]models.MemoRecord, len(s.Memos))
	for k, v := range s.Memos {
		out.Memos[k] = v
	}
	out.Colors = make(map[string]models.ColorRecord, len(s.Colors))
	for k, v := range s.Colors {
		out.Colors[k] = v
	}
	if s.Pin != nil {
		p := *s.Pin
		out.Pin = &p
	}
	return out
}

// HasMemo reports whether the facility with id carries a non-blank memo.
func (s State) HasMemo(id string) bool {
	return s.Memos[id].Memo != ""
}

// CustomColor returns the user chosen color for id, or "".
func (s State) CustomColor(id string) string {
	return s.Colors[id].Color
}

// ColorOf returns the effective marker color of f.
func (s State) ColorOf(f models.Facility) string {
	id := facility.ID(f)
	return EffectiveColor(f.Category, s.HasMemo(id), s.CustomColor(id))
}

// FacilityView is one row of the facility list and one map marker.
type FacilityView struct {
	Facility    models.Facility
	ID          string
	DistanceKm  float64
	HasDistance bool
	Memo        string
	HasMemo     bool
	CustomColor string
	Color       string
}

func (s State) view(f models.Facility) FacilityView {
	id := facility.ID(f)
	memo := s.Memos[id]
	hasMemo := s.HasMemo(id)
	custom := s.Colors[id].Color
	return FacilityView{
		Facility:    f,
		ID:          id,
		Memo:        memo.Memo,
		HasMemo:     hasMemo,
		CustomColor: custom,
		Color:       EffectiveColor(f.Category, hasMemo, custom),
	}
}

// FacilityViews derives the facility list: the pin search results when a pin
// is set, otherwise the whole catalog, narrowed by the active filter.
func (s State) FacilityViews() []FacilityView {
	if s.Pin != nil {
		out := make([]FacilityView, 0, len(s.Results))
		for _, m := range s.Results {
			if !s.Filter.Match(m.Facility) {
				continue
			}
			v := s.view(m.Facility)
			v.DistanceKm, v.HasDistance = m.DistanceKm, true
			out = append(out, v)
		}
		return out
	}
	out := make([]FacilityView, 0, len(s.Facilities))
	for _, f := range s.Facilities {
		if s.Filter.Match(f) {
			out = append(out, s.view(f))
		}
	}
	return out
}

// Breakdown counts the pin search results per category.
func (s State) Breakdown() facility.Breakdown {
	return facility.CountByCategory(geo.Facilities(s.Results))
}
