package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location
	TopRight   Location
}

// Category is the facility kind as written in the region data files.
type Category string

const (
	CategoryNursery      Category = "保育園"
	CategoryKindergarten Category = "幼稚園"
	CategorySchool       Category = "小学校"
)

// KnownCategories lists the categories with a dedicated marker color, in display order.
var KnownCategories = []Category{CategoryNursery, CategoryKindergarten, CategorySchool}

// Facility is a single record from a region data file. It is read-only for
// the lifetime of the process.
type Facility struct {
	Name      string   `json:"name"`
	Category  Category `json:"category"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Link      string   `json:"link"`
}

// Location returns the facility coordinates.
func (f Facility) Location() Location {
	return Location{Lat: f.Latitude, Lon: f.Longitude}
}

// Pin is a [lat, lon] pair, stored as a two element JSON array.
type Pin [2]float64

// Location converts the pin to a Location.
func (p Pin) Location() Location {
	return Location{Lat: p[0], Lon: p[1]}
}

// PinAt builds a Pin from a Location.
func PinAt(loc Location) Pin {
	return Pin{loc.Lat, loc.Lon}
}

// RadiusText is a search radius kept in its textual form. Older exports wrote
// the radius as a bare number, so both encodings are accepted on input.
type RadiusText string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (r *RadiusText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RadiusText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("radius must be a string or number: %w", err)
	}
	*r = RadiusText(n.String())
	return nil
}

// Km parses the radius as kilometers.
func (r RadiusText) Km() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(r)), 64)
}

// IntPrefix returns the leading integer of the radius text, or 0 when there is none.
// Sorting by radius uses this, so "2.5" orders together with "2".
func (r RadiusText) IntPrefix() int {
	s := strings.TrimSpace(string(r))
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == end {
		return 0
	}
	n, err := strconv.Atoi(s[:digits])
	if err != nil {
		return 0
	}
	return n
}

// FormatRadius renders a kilometer value the way it is stored.
func FormatRadius(km float64) RadiusText {
	return RadiusText(strconv.FormatFloat(km, 'f', -1, 64))
}

// SavedSearch is a point-in-time snapshot of a pin search.
type SavedSearch struct {
	ID        int64      `json:"id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Name      string     `json:"name"`
	Pin       Pin        `json:"pin"`
	Radius    RadiusText `json:"radius"`
	Results   []Facility `json:"results"`
	Count     int        `json:"count"`
	Memo      string     `json:"memo"`
}

// SetID assigns the store key.
func (s *SavedSearch) SetID(id int64) { s.ID = id }

// MemoRecord is a free-text annotation attached to a facility identity.
type MemoRecord struct {
	FacilityID       string    `json:"facilityId"`
	FacilityName     string    `json:"facilityName,omitempty"`
	FacilityCategory Category  `json:"facilityCategory,omitempty"`
	FacilityAddress  string    `json:"facilityAddress,omitempty"`
	FacilityLat      float64   `json:"facilityLat"`
	FacilityLng      float64   `json:"facilityLng"`
	Memo             string    `json:"memo"`
	Timestamp        time.Time `json:"timestamp"`
}

// ColorRecord is a user chosen marker color attached to a facility identity.
type ColorRecord struct {
	FacilityID       string    `json:"facilityId"`
	FacilityName     string    `json:"facilityName,omitempty"`
	FacilityCategory Category  `json:"facilityCategory,omitempty"`
	Color            string    `json:"color"`
	Timestamp        time.Time `json:"timestamp"`
}
