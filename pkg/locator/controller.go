// Package locator keeps the in-memory view state of the facility map in step
// with the local store. Every mutation is written to the store first; the
// caches and the rendered views change only after the write commits.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kass/go-facility-map/pkg/async"
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/geo"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/store"
)

var (
	// ErrNotReady is returned by mutations issued before a store is attached.
	ErrNotReady = errors.New("store is not ready")
	// ErrNoPin is returned when saving a search without an active pin.
	ErrNoPin = errors.New("drop a pin before saving")
	// ErrEmptyName is returned when renaming a saved search to blank text.
	ErrEmptyName = errors.New("name must not be empty")
	// ErrNoSelection is returned when the saved search being edited does not exist.
	ErrNoSelection = errors.New("no such saved search")
)

// DefaultRadiusKm is the initial search radius.
const DefaultRadiusKm = 3.0

// Renderer rebuilds views from derived state. Calls are serialized; an
// implementation must not call back into the controller synchronously.
type Renderer interface {
	RenderFacilities(views []FacilityView)
	RenderSavedSearches(searches []models.SavedSearch, stats Stats)
}

// ErrorReporter is implemented by renderers that surface failed operations.
type ErrorReporter interface {
	ReportError(op string, err error)
}

// Controller owns the application state.
type Controller struct {
	mu    sync.Mutex
	state State
	index *geo.FacilityIndex

	db    *store.DB
	repos repos
	// writes orders store mutations with their cache commits.
	writes async.Queue

	renderMu sync.Mutex
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
}

// Option configures a Controller.
type Option func(*Controller)

// WithRenderer sets the view sink.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) { c.renderer = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLocation sets the zone used for default names and the saved list filter.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

// WithRadius sets the initial search radius.
func WithRadius(km float64) Option {
	return func(c *Controller) { c.state.RadiusKm = km }
}

// New creates a controller with no store attached.
func New(opts ...Option) *Controller {
	c := &Controller{
		state:  newState(DefaultRadiusKm),
		index:  geo.NewFacilityIndex(),
		logger: slog.Default(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach loads the memo, color and saved search caches from db. Mutations are
// accepted once the returned task succeeds.
func (c *Controller) Attach(ctx context.Context, db *store.DB) *async.Task[struct{}] {
	searches := store.NewRepository[models.SavedSearch](db, store.Searches)
	memos := store.NewRepository[models.MemoRecord](db, store.Memos)
	colors := store.NewRepository[models.ColorRecord](db, store.Colors)

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		loaded, err := loadCaches(ctx, searches, memos, colors)
		if err != nil {
			return struct{}{}, err
		}
		c.commit(func(s *State) {
			loaded.apply(s)
			c.db, c.repos = db, repos{searches: searches, memos: memos, colors: colors}
		})
		c.logger.Info("caches loaded", "searches", len(loaded.saved), "memos", len(loaded.memos), "colors", len(loaded.colors))
		return struct{}{}, nil
	})
	return report(c, "attach", task)
}

// Ready reports whether a store is attached.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// Store returns the attached store, or nil.
func (c *Controller) Store() *store.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Reload re-reads every cache from the store, as after an import.
func (c *Controller) Reload(ctx context.Context) *async.Task[struct{}] {
	r, err := c.ready("reload")
	if err != nil {
		return async.Failed[struct{}](err)
	}

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		loaded, err := loadCaches(ctx, r.searches, r.memos, r.colors)
		if err != nil {
			return struct{}{}, err
		}
		c.commit(loaded.apply)
		return struct{}{}, nil
	})
	return report(c, "reload", task)
}

type caches struct {
	saved  []models.SavedSearch
	memos  []models.MemoRecord
	colors []models.ColorRecord
}

func (l caches) apply(s *State) {
	s.Saved = l.saved
	s.Memos = make(map[string]models.MemoRecord, len(l.memos))
	for _, m := range l.memos {
		if m.Memo != "" {
			s.Memos[m.FacilityID] = m
		}
	}
	s.Colors = make(map[string]models.ColorRecord, len(l.colors))
	for _, col := range l.colors {
		if col.Color != "" {
			s.Colors[col.FacilityID] = col
		}
	}
}

func loadCaches(ctx context.Context, searches *store.Repository[models.SavedSearch],
	memos *store.Repository[models.MemoRecord], colors *store.Repository[models.ColorRecord]) (caches, error) {
	var out caches
	var err error
	if out.saved, err = searches.All(ctx); err != nil {
		return out, fmt.Errorf("load saved searches: %w", err)
	}
	if out.memos, err = memos.All(ctx); err != nil {
		return out, fmt.Errorf("load memos: %w", err)
	}
	if out.colors, err = colors.All(ctx); err != nil {
		return out, fmt.Errorf("load colors: %w", err)
	}
	return out, nil
}

// SetFacilities replaces the catalog and re-runs the pin search.
func (c *Controller) SetFacilities(facilities []models.Facility) {
	c.index.IndexFacilities(facilities)
	c.commit(func(s *State) {
		s.Facilities = append([]models.Facility(nil), facilities...)
		c.searchLocked(s)
	})
}

// DropPin places the search pin and returns the facilities around it.
func (c *Controller) DropPin(loc models.Location) []geo.Match {
	var results []geo.Match
	c.commit(func(s *State) {
		pin := models.PinAt(loc)
		s.Pin = &pin
		c.searchLocked(s)
		results = append([]geo.Match(nil), s.Results...)
	})
	return results
}

// ClearPin removes the pin and its results.
func (c *Controller) ClearPin() {
	c.commit(func(s *State) {
		s.Pin = nil
		s.Results = nil
	})
}

// SetRadius changes the search radius and re-runs the pin search.
func (c *Controller) SetRadius(km float64) error {
	if km < 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return fmt.Errorf("invalid radius %v", km)
	}
	c.commit(func(s *State) {
		s.RadiusKm = km
		c.searchLocked(s)
	})
	return nil
}

func (c *Controller) searchLocked(s *State) {
	if s.Pin == nil {
		s.Results = nil
		return
	}
	matches, err := c.index.QueryRadius(s.Pin.Location(), s.RadiusKm)
	if err != nil {
		c.logger.Warn("index query failed, scanning catalog", "error", err)
		matches = geo.SearchWithinRadius(s.Pin.Location(), s.RadiusKm, s.Facilities)
	}
	s.Results = matches
}

// InBox returns the catalog facilities inside box, in catalog order.
func (c *Controller) InBox(box models.BoundingBox) ([]models.Facility, error) {
	return c.index.QueryBox(box)
}

// Nearest returns the n facilities closest to loc.
func (c *Controller) Nearest(loc models.Location, n int) []geo.Match {
	return c.index.NearestNeighbors(loc, n)
}

// SetFilter changes the facility list filter.
func (c *Controller) SetFilter(f facility.Filter) {
	c.commit(func(s *State) { s.Filter = f })
}

// SetSavedQuery changes the saved list text filter.
func (c *Controller) SetSavedQuery(q string) {
	c.commit(func(s *State) { s.SavedQuery = q })
}

// SetSavedSort changes the saved list order.
func (c *Controller) SetSavedSort(m SortMode) {
	c.commit(func(s *State) { s.SavedSort = m })
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// SavedSearches returns the saved list as currently filtered and sorted.
func (c *Controller) SavedSearches() []models.SavedSearch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savedViewLocked()
}

// Stats summarizes every saved search, regardless of the list filter.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeStats(c.state.Saved)
}

// Location is the zone used for dates.
func (c *Controller) Location() *time.Location { return c.loc }

func (c *Controller) savedViewLocked() []models.SavedSearch {
	out := FilterSaved(c.state.Saved, c.state.SavedQuery, c.loc)
	SortSaved(out, c.state.SavedSort)
	return out
}

// SaveMemo stores the trimmed memo text for f. Blank text removes the memo.
func (c *Controller) SaveMemo(ctx context.Context, f models.Facility, text string) *async.Task[struct{}] {
	r, err := c.ready("save memo")
	if err != nil {
		return async.Failed[struct{}](err)
	}
	id := facility.ID(f)
	text = strings.TrimSpace(text)
	rec := models.MemoRecord{
		FacilityID:       id,
		FacilityName:     f.Name,
		FacilityCategory: f.Category,
		FacilityAddress:  f.Address,
		FacilityLat:      f.Latitude,
		FacilityLng:      f.Longitude,
		Memo:             text,
		Timestamp:        c.now().UTC(),
	}
	memos := r.memos

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		if text == "" {
			if err := memos.Delete(ctx, id); err != nil {
				return struct{}{}, err
			}
			c.commit(func(s *State) { delete(s.Memos, id) })
			return struct{}{}, nil
		}
		if err := memos.Put(ctx, id, rec); err != nil {
			return struct{}{}, err
		}
		c.commit(func(s *State) { s.Memos[id] = rec })
		return struct{}{}, nil
	})
	return report(c, "save memo", task)
}

// SetColor stores a custom marker color for f. Blank color removes it.
func (c *Controller) SetColor(ctx context.Context, f models.Facility, color string) *async.Task[struct{}] {
	r, err := c.ready("set color")
	if err != nil {
		return async.Failed[struct{}](err)
	}
	id := facility.ID(f)
	color = strings.TrimSpace(color)
	rec := models.ColorRecord{
		FacilityID:       id,
		FacilityName:     f.Name,
		FacilityCategory: f.Category,
		Color:            color,
		Timestamp:        c.now().UTC(),
	}
	colors := r.colors

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		if color == "" {
			if err := colors.Delete(ctx, id); err != nil {
				return struct{}{}, err
			}
			c.commit(func(s *State) { delete(s.Colors, id) })
			return struct{}{}, nil
		}
		if err := colors.Put(ctx, id, rec); err != nil {
			return struct{}{}, err
		}
		c.commit(func(s *State) { s.Colors[id] = rec })
		return struct{}{}, nil
	})
	return report(c, "set color", task)
}

// SaveSearch snapshots the current pin search. A blank name is replaced by
// the save time.
func (c *Controller) SaveSearch(ctx context.Context, name string) *async.Task[models.SavedSearch] {
	r, err := c.ready("save search")
	if err != nil {
		return async.Failed[models.SavedSearch](err)
	}

	c.mu.Lock()
	if c.state.Pin == nil {
		c.mu.Unlock()
		return report(c, "save search", async.Failed[models.SavedSearch](ErrNoPin))
	}
	now := c.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(now, c.loc)
	}
	results := geo.Facilities(c.state.Results)
	rec := models.SavedSearch{
		Timestamp: now.UTC(),
		Name:      name,
		Pin:       *c.state.Pin,
		Radius:    models.FormatRadius(c.state.RadiusKm),
		Results:   results,
		Count:     len(results),
		Memo:      "",
	}
	searches := r.searches
	c.mu.Unlock()

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (models.SavedSearch, error) {
		if _, err := searches.Add(ctx, &rec); err != nil {
			return models.SavedSearch{}, err
		}
		if err := c.refetchSaved(ctx, searches); err != nil {
			return rec, err
		}
		return rec, nil
	})
	return report(c, "save search", task)
}

// RenameSearch sets the display name of a saved search.
func (c *Controller) RenameSearch(ctx context.Context, id int64, name string) *async.Task[struct{}] {
	name = strings.TrimSpace(name)
	if name == "" {
		return report(c, "rename search", async.Failed[struct{}](ErrEmptyName))
	}
	return c.editSearch(ctx, "rename search", id, func(s *models.SavedSearch) { s.Name = name })
}

// SetSearchMemo sets the memo of a saved search. Blank text clears it.
func (c *Controller) SetSearchMemo(ctx context.Context, id int64, memo string) *async.Task[struct{}] {
	memo = strings.TrimSpace(memo)
	return c.editSearch(ctx, "set search memo", id, func(s *models.SavedSearch) { s.Memo = memo })
}

func (c *Controller) editSearch(ctx context.Context, op string, id int64, edit func(*models.SavedSearch)) *async.Task[struct{}] {
	r, err := c.ready(op)
	if err != nil {
		return async.Failed[struct{}](err)
	}
	if !c.hasSaved(id) {
		return report(c, op, async.Failed[struct{}](fmt.Errorf("%w: %d", ErrNoSelection, id)))
	}
	searches := r.searches

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		rec, err := searches.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return struct{}{}, fmt.Errorf("%w: %d", ErrNoSelection, id)
		}
		if err != nil {
			return struct{}{}, err
		}
		edit(&rec)
		if err := searches.Put(ctx, id, rec); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.refetchSaved(ctx, searches)
	})
	return report(c, op, task)
}

// DeleteSearch removes one saved search.
func (c *Controller) DeleteSearch(ctx context.Context, id int64) *async.Task[struct{}] {
	r, err := c.ready("delete search")
	if err != nil {
		return async.Failed[struct{}](err)
	}
	if !c.hasSaved(id) {
		return report(c, "delete search", async.Failed[struct{}](fmt.Errorf("%w: %d", ErrNoSelection, id)))
	}
	searches := r.searches

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (struct{}, error) {
		if err := searches.Delete(ctx, id); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.refetchSaved(ctx, searches)
	})
	return report(c, "delete search", task)
}

// ClearSearches removes every saved search and returns how many there were.
// Memos and colors are kept.
func (c *Controller) ClearSearches(ctx context.Context) *async.Task[int] {
	r, err := c.ready("clear searches")
	if err != nil {
		return async.Failed[int](err)
	}
	searches := r.searches

	task := async.Enqueue(&c.writes, ctx, func(ctx context.Context) (int, error) {
		n, err := searches.Count(ctx)
		if err != nil {
			return 0, err
		}
		if err := searches.Clear(ctx); err != nil {
			return 0, err
		}
		c.logger.Info("saved searches cleared", "count", n)
		return n, c.refetchSaved(ctx, searches)
	})
	return report(c, "clear searches", task)
}

func (c *Controller) refetchSaved(ctx context.Context, searches *store.Repository[models.SavedSearch]) error {
	saved, err := searches.All(ctx)
	if err != nil {
		return fmt.Errorf("reload saved searches: %w", err)
	}
	c.commit(func(s *State) { s.Saved = saved })
	return nil
}

func (c *Controller) hasSaved(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.state.Saved {
		if s.ID == id {
			return true
		}
	}
	return false
}

type repos struct {
	searches *store.Repository[models.SavedSearch]
	memos    *store.Repository[models.MemoRecord]
	colors   *store.Repository[models.ColorRecord]
}

// ready rejects mutations issued before Attach completed.
func (c *Controller) ready(op string) (repos, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		c.logger.Warn("store not ready, operation rejected", "op", op)
		return repos{}, ErrNotReady
	}
	return c.repos, nil
}

// commit applies fn to the state and re-renders every view.
func (c *Controller) commit(fn func(*State)) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	fn(&c.state)
	if c.renderer == nil {
		c.mu.Unlock()
		return
	}
	facilities := c.state.FacilityViews()
	saved := c.savedViewLocked()
	stats := ComputeStats(c.state.Saved)
	c.mu.Unlock()

	c.renderer.RenderFacilities(facilities)
	c.renderer.RenderSavedSearches(saved, stats)
}

func report[T any](c *Controller, op string, t *async.Task[T]) *async.Task[T] {
	t.Then(func(_ T, err error) {
		if err == nil {
			return
		}
		if r, ok := c.renderer.(ErrorReporter); ok {
			r.ReportError(op, err)
		}
	})
	return t
}
