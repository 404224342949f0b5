// Command benchmark times pin searches over the facility catalog with the
// linear scan and the in-memory R-tree, by radius and by box, and optionally
// against the PostGIS mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kass/go-facility-map/pkg/config"
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/geo"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/postgis"
)

type BenchmarkResult struct {
	QueryType     string
	TotalQueries  int
	Failed        int64
	TotalDuration time.Duration
	AvgDuration   time.Duration
	QueriesPerSec float64
	MinDuration   time.Duration
	MaxDuration   time.Duration
	TotalResults  int64
	AvgResults    float64
}

// queryFunc runs one query around center and returns the number of results.
type queryFunc func(ctx context.Context, center models.Location) (int, error)

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
		dataDir    = flag.String("data", "", "Directory holding <region>_facilities.json files")
		numQueries = flag.Int("n", 1000, "Number of queries per backend")
		workers    = flag.Int("w", runtime.NumCPU(), "Number of concurrent workers")
		radius     = flag.Float64("radius", 3.0, "Radius in km")
		k          = flag.Int("k", 10, "Number of nearest neighbors")
		withPG     = flag.Bool("postgis", false, "Also query the PostGIS mirror")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fatal(err)
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	facilities, err := facility.NewLoader(cfg.Data.Dir, logger).Load(ctx, cfg.Data.Regions)
	if err != nil {
		fatal(err)
	}
	if len(facilities) == 0 {
		fatal(fmt.Errorf("no facilities under %s", cfg.Data.Dir))
	}
	bounds := extent(facilities)
	logger.Info("catalog loaded", "facilities", len(facilities),
		"lat", fmt.Sprintf("[%.3f, %.3f]", bounds.BottomLeft.Lat, bounds.TopRight.Lat),
		"lon", fmt.Sprintf("[%.3f, %.3f]", bounds.BottomLeft.Lon, bounds.TopRight.Lon))

	start := time.Now()
	index := geo.NewFacilityIndex()
	index.IndexFacilities(facilities)
	logger.Info("index built", "elapsed", time.Since(start))

	queries := map[string]queryFunc{
		"linear": func(_ context.Context, c models.Location) (int, error) {
			return len(geo.SearchWithinRadius(c, *radius, facilities)), nil
		},
		"rtree": func(_ context.Context, c models.Location) (int, error) {
			m, err := index.QueryRadius(c, *radius)
			return len(m), err
		},
		"nearest": func(_ context.Context, c models.Location) (int, error) {
			return len(index.NearestNeighbors(c, *k)), nil
		},
		"box": func(_ context.Context, c models.Location) (int, error) {
			f, err := index.QueryBox(geo.BoxAround(c, *radius))
			return len(f), err
		},
	}
	order := []string{"linear", "rtree", "nearest", "box"}

	if *withPG {
		mirror, err := postgis.Open(ctx, cfg.PostGISDSN(), cfg.PostGIS.MaxConnections, logger)
		if err != nil {
			fatal(err)
		}
		defer mirror.Close()
		queries["postgis"] = func(ctx context.Context, c models.Location) (int, error) {
			m, err := mirror.QueryRadius(ctx, c, *radius)
			return len(m), err
		}
		queries["pg-box"] = func(ctx context.Context, c models.Location) (int, error) {
			f, err := mirror.QueryBox(ctx, geo.BoxAround(c, *radius))
			return len(f), err
		}
		order = append(order, "postgis", "pg-box")
	}

	fmt.Println("\n=== Benchmark Results ===")
	fmt.Printf("Facilities: %d  Radius: %.2f km  Workers: %d  CPU Cores: %d\n\n",
		len(facilities), *radius, *workers, runtime.NumCPU())
	fmt.Printf("%-8s %8s %12s %12s %12s %12s %10s %7s\n",
		"backend", "queries", "avg", "min", "max", "qps", "avg hits", "failed")
	for i, name := range order {
		r := benchmark(ctx, name, queries[name], *numQueries, *workers, bounds, *seed+int64(i))
		fmt.Printf("%-8s %8d %12v %12v %12v %12.1f %10.2f %7d\n",
			r.QueryType, r.TotalQueries, r.AvgDuration, r.MinDuration, r.MaxDuration,
			r.QueriesPerSec, r.AvgResults, r.Failed)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "benchmark:", err)
	os.Exit(1)
}

// extent is the bounding box of the catalog.
func extent(facilities []models.Facility) models.BoundingBox {
	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: math.Inf(1), Lon: math.Inf(1)},
		TopRight:   models.Location{Lat: math.Inf(-1), Lon: math.Inf(-1)},
	}
	for _, f := range facilities {
		box.BottomLeft.Lat = math.Min(box.BottomLeft.Lat, f.Latitude)
		box.BottomLeft.Lon = math.Min(box.BottomLeft.Lon, f.Longitude)
		box.TopRight.Lat = math.Max(box.TopRight.Lat, f.Latitude)
		box.TopRight.Lon = math.Max(box.TopRight.Lon, f.Longitude)
	}
	return box
}

// benchmark runs numQueries random-center queries on a worker pool.
func benchmark(ctx context.Context, name string, query queryFunc, numQueries, workers int,
	bounds models.BoundingBox, seed int64) BenchmarkResult {

	var (
		totalResults int64
		failed       int64
		minDuration  = time.Hour
		maxDuration  time.Duration
		totalDur     time.Duration
		mu           sync.Mutex
	)

	startTime := time.Now()

	queryCh := make(chan int, numQueries)
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			// Each worker gets its own random generator to avoid contention
			r := rand.New(rand.NewSource(seed + int64(w)))

			for range queryCh {
				center := models.Location{
					Lat: bounds.BottomLeft.Lat + r.Float64()*(bounds.TopRight.Lat-bounds.BottomLeft.Lat),
					Lon: bounds.BottomLeft.Lon + r.Float64()*(bounds.TopRight.Lon-bounds.BottomLeft.Lon),
				}

				queryStart := time.Now()
				n, err := query(ctx, center)
				queryDuration := time.Since(queryStart)

				if err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&totalResults, int64(n))

				mu.Lock()
				totalDur += queryDuration
				minDuration = min(minDuration, queryDuration)
				maxDuration = max(maxDuration, queryDuration)
				mu.Unlock()
			}
		}(w)
	}

	for i := 0; i < numQueries; i++ {
		queryCh <- i
	}
	close(queryCh)

	wg.Wait()
	totalDuration := time.Since(startTime)

	result := BenchmarkResult{
		QueryType:     name,
		TotalQueries:  numQueries,
		Failed:        failed,
		TotalDuration: totalDuration,
		QueriesPerSec: float64(numQueries) / totalDuration.Seconds(),
		MinDuration:   minDuration,
		MaxDuration:   maxDuration,
		TotalResults:  totalResults,
	}
	if ok := int64(numQueries) - failed; ok > 0 {
		result.AvgDuration = totalDur / time.Duration(ok)
		result.AvgResults = float64(totalResults) / float64(ok)
	} else {
		result.MinDuration = 0
	}
	return result
}
