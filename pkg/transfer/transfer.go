package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/store"
)

// Service exports from and imports into one store.
type Service struct {
	searches *store.Repository[models.SavedSearch]
	memos    *store.Repository[models.MemoRecord]
	colors   *store.Repository[models.ColorRecord]
	db       *store.DB

	logger *slog.Logger
	now    func() time.Time
	loc    *time.Location
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for import summaries.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone of generated default names.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// New creates a Service over db.
func New(db *store.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		searches: store.NewRepository[models.SavedSearch](db, store.Searches),
		memos:    store.NewRepository[models.MemoRecord](db, store.Memos),
		colors:   store.NewRepository[models.ColorRecord](db, store.Colors),
		logger:   slog.Default(),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export builds a document holding every saved search, memo and color.
func (s *Service) Export(ctx context.Context) (*Document, error) {
	saved, err := s.searches.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 {
		return nil, ErrNothingToExport
	}
	memos, err := s.memos.All(ctx)
	if err != nil {
		return nil, err
	}
	colors, err := s.colors.All(ctx)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ExportDate: formatTime(s.now()),
		Version:    FormatVersion,
		Searches:   make([]Search, 0, len(saved)),
		Memos:      make([]Memo, 0, len(memos)),
		Colors:     make([]Color, 0, len(colors)),
	}
	for _, rec := range saved {
		results := rec.Results
		if results == nil {
			results = []models.Facility{}
		}
		doc.Searches = append(doc.Searches, Search{
			Timestamp: formatTime(rec.Timestamp),
			Name:      rec.Name,
			Pin:       rec.Pin,
			Radius:    rec.Radius,
			Count:     rec.Count,
			Results:   results,
			Memo:      rec.Memo,
		})
	}
	for _, m := range memos {
		doc.Memos = append(doc.Memos, Memo{FacilityID: m.FacilityID, Memo: m.Memo})
	}
	for _, c := range colors {
		doc.Colors = append(doc.Colors, Color{FacilityID: c.FacilityID, Color: c.Color})
	}
	return doc, nil
}

// Result counts what an import wrote.
type Result struct {
	Searches int
	Memos    int
	Colors   int
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "imported %d searches", r.Searches)
	if r.Memos > 0 {
		fmt.Fprintf(&b, ", %d memos", r.Memos)
	}
	if r.Colors > 0 {
		fmt.Fprintf(&b, ", %d colors", r.Colors)
	}
	return b.String()
}

// Import adds every search of doc as a new record, then upserts its memos and
// colors in a second transaction. Records that fail are skipped; their errors
// are joined into the returned error together with the items Decode rejected.
func (s *Service) Import(ctx context.Context, doc *Document) (Result, error) {
	var res Result
	failures := []error{doc.Rejected()}
	now := s.now()

	err := s.db.Batch(ctx, func(tx *store.Tx) error {
		for i, item := range doc.Searches {
			rec := s.savedSearch(item, now)
			if _, err := tx.Add(ctx, store.Searches, &rec); err != nil {
				failures = append(failures, fmt.Errorf("search %d: %w", i, err))
				continue
			}
			res.Searches++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("import searches: %w", err)
	}

	if doc.Memos != nil || doc.Colors != nil {
		err = s.db.Batch(ctx, func(tx *store.Tx) error {
			for i, m := range doc.Memos {
				text := strings.TrimSpace(m.Memo)
				switch {
				case m.FacilityID == "":
					failures = append(failures, fmt.Errorf("memo %d: missing facilityId", i))
					continue
				case text == "":
					failures = append(failures, fmt.Errorf("memo %d: empty memo for %s", i, m.FacilityID))
					continue
				}
				rec := models.MemoRecord{FacilityID: m.FacilityID, Memo: text, Timestamp: now.UTC()}
				if err := tx.Put(ctx, store.Memos, m.FacilityID, rec); err != nil {
					failures = append(failures, fmt.Errorf("memo %d: %w", i, err))
					continue
				}
				res.Memos++
			}
			for i, c := range doc.Colors {
				color := strings.TrimSpace(c.Color)
				switch {
				case c.FacilityID == "":
					failures = append(failures, fmt.Errorf("color %d: missing facilityId", i))
					continue
				case color == "":
					failures = append(failures, fmt.Errorf("color %d: empty color for %s", i, c.FacilityID))
					continue
				}
				rec := models.ColorRecord{FacilityID: c.FacilityID, Color: color, Timestamp: now.UTC()}
				if err := tx.Put(ctx, store.Colors, c.FacilityID, rec); err != nil {
					failures = append(failures, fmt.Errorf("color %d: %w", i, err))
					continue
				}
				res.Colors++
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("import memos and colors: %w", err)
		}
	}

	joined := errors.Join(failures...)
	s.logger.Info("import finished",
		"searches", res.Searches, "memos", res.Memos, "colors", res.Colors,
		"legacy", doc.Legacy, "failed", joined != nil)
	return res, joined
}

// savedSearch converts a file item into a store record. A missing name is
// derived from the timestamp; an unreadable timestamp becomes the import time.
func (s *Service) savedSearch(item Search, now time.Time) models.SavedSearch {
	ts, ok := parseTime(item.Timestamp)
	if !ok {
		ts = now
	}
	name := item.Name
	if name == "" {
		name = locator.DefaultName(ts, s.loc)
	}
	return models.SavedSearch{
		Timestamp: ts.UTC(),
		Name:      name,
		Pin:       item.Pin,
		Radius:    item.Radius,
		Results:   item.Results,
		Count:     item.Count,
		Memo:      item.Memo,
	}
}
