// Package transfer moves saved searches, memos and colors between the local
// store and a portable JSON file.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kass/go-facility-map/pkg/models"
)

// FormatVersion is written to every export.
const FormatVersion = 4

var (
	// ErrInvalidFormat is returned for files without a searches or data array.
	ErrInvalidFormat = errors.New("invalid export file")
	// ErrNothingToExport is returned when there are no saved searches.
	ErrNothingToExport = errors.New("no saved searches to export")
)

// isoLayout matches the millisecond precision of the files in circulation.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Search is one saved search as written to a file.
type Search struct {
	Timestamp string            `json:"timestamp"`
	Name      string            `json:"name"`
	Pin       models.Pin        `json:"pin"`
	Radius    models.RadiusText `json:"radius"`
	Count     int               `json:"count"`
	Results   []models.Facility `json:"results"`
	Memo      string            `json:"memo"`
}

// Memo is a facility memo as written to a file.
type Memo struct {
	FacilityID string `json:"facilityId"`
	Memo       string `json:"memo"`
}

// Color is a facility color as written to a file.
type Color struct {
	FacilityID string `json:"facilityId"`
	Color      string `json:"color"`
}

// Document is the export file. Memos and Colors are nil when a file omits them.
type Document struct {
	ExportDate string   `json:"exportDate"`
	Version    int      `json:"version"`
	Searches   []Search `json:"searches"`
	Memos      []Memo   `json:"memos"`
	Colors     []Color  `json:"colors"`

	// Legacy is set for files that carry their searches under "data".
	Legacy bool `json:"-"`
	// rejected holds the items that could not be decoded.
	rejected []error
}

// Rejected reports the items Decode skipped.
func (d *Document) Rejected() error {
	return errors.Join(d.rejected...)
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// Decode parses an export file. Searches are read from "data" when present,
// otherwise from "searches". Items that do not decode are skipped and
// reported through Rejected.
func Decode(r io.Reader) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	doc := &Document{}
	if raw, ok := top["exportDate"]; ok {
		_ = json.Unmarshal(raw, &doc.ExportDate)
	}
	if raw, ok := top["version"]; ok {
		_ = json.Unmarshal(raw, &doc.Version)
	}

	var searches []json.RawMessage
	switch {
	case isArray(top["data"]):
		doc.Legacy = true
		_ = json.Unmarshal(top["data"], &searches)
	case isArray(top["searches"]):
		_ = json.Unmarshal(top["searches"], &searches)
	default:
		return nil, fmt.Errorf("%w: no searches array", ErrInvalidFormat)
	}

	doc.Searches = make([]Search, 0, len(searches))
	for i, raw := range searches {
		var s Search
		if err := json.Unmarshal(raw, &s); err != nil {
			doc.rejected = append(doc.rejected, fmt.Errorf("search %d: %w", i, err))
			continue
		}
		doc.Searches = append(doc.Searches, s)
	}

	if isArray(top["memos"]) {
		doc.Memos = decodeItems[Memo](top["memos"], "memo", &doc.rejected)
	}
	if isArray(top["colors"]) {
		doc.Colors = decodeItems[Color](top["colors"], "color", &doc.rejected)
	}
	return doc, nil
}

func decodeItems[T any](raw json.RawMessage, kind string, rejected *[]error) []T {
	var items []json.RawMessage
	_ = json.Unmarshal(raw, &items)
	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			*rejected = append(*rejected, fmt.Errorf("%s %d: %w", kind, i, err))
			continue
		}
		out = append(out, v)
	}
	return out
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// FileName is the default export file name for t.
func FileName(t time.Time) string {
	return "facilities-map-" + t.UTC().Format("2006-01-02") + ".json"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// parseTime accepts the timestamps written by any export version.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, isoLayout, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
