// Package facility loads the static region data files and derives the
// per-facility values the rest of the application keys on.
package facility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kass/go-facility-map/pkg/models"
)

const fileSuffix = "_facilities.json"

// DefaultRegions are the prefectures shipped with the data set.
var DefaultRegions = []string{"茨城", "群馬", "山梨", "新潟", "長野", "栃木", "富山"}

// FileName returns the data file name for a region.
func FileName(region string) string {
	return region + fileSuffix
}

// Loader reads region data files from a directory.
type Loader struct {
	Dir    string
	Logger *slog.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Dir: dir, Logger: logger}
}

// Load reads the given regions concurrently and concatenates their facilities
// in region order. A region whose file is missing or unreadable is skipped
// with a warning. When regions is empty the directory is scanned instead.
func (l *Loader) Load(ctx context.Context, regions []string) ([]models.Facility, error) {
	if len(regions) == 0 {
		found, err := l.Discover()
		if err != nil {
			return nil, err
		}
		regions = found
	}

	perRegion := make([][]models.Facility, len(regions))
	g, ctx := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(l.Dir, FileName(region))
			facilities, err := ReadFile(path)
			if err != nil {
				l.Logger.Warn("skipping region", "region", region, "path", path, "error", err)
				return nil
			}
			perRegion[i] = facilities
			l.Logger.Debug("loaded region", "region", region, "facilities", len(facilities))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Facility
	for _, facilities := range perRegion {
		all = append(all, facilities...)
	}
	return all, nil
}

// Discover lists the regions that have a data file under the loader's
// directory, sorted by name.
func (l *Loader) Discover() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(l.Dir), "*"+fileSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.Dir, err)
	}
	regions := make([]string, 0, len(matches))
	for _, m := range matches {
		regions = append(regions, strings.TrimSuffix(filepath.Base(m), fileSuffix))
	}
	sort.Strings(regions)
	return regions, nil
}

// ReadFile decodes one region data file.
func ReadFile(path string) ([]models.Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var facilities []models.Facility
	if err := json.Unmarshal(data, &facilities); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return facilities, nil
}

// IsDataFile reports whether name looks like a region data file.
func IsDataFile(name string) bool {
	ok, _ := doublestar.Match("*"+fileSuffix, filepath.Base(name))
	return ok
}
