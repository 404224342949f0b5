package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/config"
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/store"
)

var (
	configPath string
	verbose    bool
	dataDir    string
	storePath  string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "facility-map",
	Short: "Find childcare facilities and schools around a point",
	Long: `facility-map searches the regional facility catalog around a pin and keeps
saved searches, facility memos and marker colors in a local database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Data.Dir = dataDir
		}
		if storePath != "" {
			cfg.Store.Path = storePath
		}

		level, err := cfgLevel()
		if err != nil {
			return err
		}
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.Log.Format == "json" {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
		return nil
	},
}

// cfgLevel is the configured log level, raised to debug by --verbose.
func cfgLevel() (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	return config.ParseLevel(cfg.Log.Level)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Directory holding <region>_facilities.json files")
	rootCmd.PersistentFlags().StringVar(&storePath, "db", "", "Local database path")
}

// session is an opened store with a controller attached to it.
type session struct {
	db         *store.DB
	ctrl       *locator.Controller
	facilities []models.Facility
}

type sessionOption func(*sessionConfig)

type sessionConfig struct {
	catalog  bool
	renderer locator.Renderer
}

func withCatalog() sessionOption {
	return func(c *sessionConfig) { c.catalog = true }
}

func withRenderer(r locator.Renderer) sessionOption {
	return func(c *sessionConfig) { c.renderer = r }
}

func openSession(ctx context.Context, opts ...sessionOption) (*session, error) {
	var sc sessionConfig
	for _, opt := range opts {
		opt(&sc)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, cfg.Store.Path, store.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ctrlOpts := []locator.Option{
		locator.WithLogger(slog.Default()),
		locator.WithLocation(loc),
		locator.WithRadius(cfg.Search.DefaultRadiusKm),
	}
	if sc.renderer != nil {
		ctrlOpts = append(ctrlOpts, locator.WithRenderer(sc.renderer))
	}
	ctrl := locator.New(ctrlOpts...)

	s := &session{db: db, ctrl: ctrl}
	if sc.catalog {
		if err := s.loadCatalog(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := ctrl.Attach(ctx, db).Wait(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) loadCatalog(ctx context.Context) error {
	facilities, err := facility.NewLoader(cfg.Data.Dir, slog.Default()).Load(ctx, cfg.Data.Regions)
	if err != nil {
		return fmt.Errorf("load facilities: %w", err)
	}
	s.facilities = facilities
	s.ctrl.SetFacilities(facilities)
	slog.Debug("catalog loaded", "dir", cfg.Data.Dir, "facilities", len(facilities))
	return nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}
