// Command load copies the regional facility catalog into the PostGIS mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/kass/go-facility-map/pkg/config"
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/postgis"
)

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
		dataDir    = flag.String("data", "", "Directory holding <region>_facilities.json files")
		regions    = flag.String("regions", "", "Comma separated regions (default from config)")
		reset      = flag.Bool("reset", true, "Drop and recreate the facilities table first")
	)
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fatal(err)
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}
	if *regions != "" {
		cfg.Data.Regions = strings.Split(*regions, ",")
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	facilities, err := facility.NewLoader(cfg.Data.Dir, logger).Load(ctx, cfg.Data.Regions)
	if err != nil {
		fatal(err)
	}
	logger.Info("catalog loaded", "dir", cfg.Data.Dir, "facilities", len(facilities))

	mirror, err := postgis.Open(ctx, cfg.PostGISDSN(), cfg.PostGIS.MaxConnections, logger)
	if err != nil {
		fatal(err)
	}
	defer mirror.Close()

	if *reset {
		if err := mirror.InitSchema(ctx); err != nil {
			fatal(err)
		}
	}

	start := time.Now()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		err = insertWithProgress(ctx, mirror, facilities)
	} else {
		err = mirror.BulkInsert(ctx, facilities, func(done, total int) {
			logger.Info("inserted", "done", done, "total", total)
		})
	}
	if err != nil {
		fatal(err)
	}
	if err := mirror.CreateSpatialIndex(ctx); err != nil {
		fatal(err)
	}

	stats, err := mirror.Stats(ctx)
	if err != nil {
		fatal(err)
	}
	logger.Info("mirror ready",
		"rows", stats.Rows,
		"elapsed", time.Since(start),
		"database_size", stats.DatabaseSize,
		"table_size", stats.TableSize,
		"index_size", stats.IndexSize)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "load:", err)
	os.Exit(1)
}

type (
	progressMsg float64
	doneMsg     struct{ err error }
)

type model struct {
	total    int
	spinner  spinner.Model
	progress progress.Model
	percent  float64
	err      error
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.progress.Width = max(msg.Width-10, 10)
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = context.Canceled
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progressMsg:
		m.percent = float64(msg)
		return m, nil
	case doneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.percent = 1
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF79C6")).Render("🗾 PostGIS mirror")
	return fmt.Sprintf("%s\n\n%s Inserting %d facilities...\n\n%s\n", title, m.spinner.View(), m.total, m.progress.ViewAs(m.percent))
}

// insertWithProgress runs the bulk insert behind a progress bar.
func insertWithProgress(ctx context.Context, mirror *postgis.Mirror, facilities []models.Facility) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := model{total: len(facilities), spinner: sp, progress: progress.New(progress.WithDefaultGradient())}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(m, tea.WithContext(ctx))

	go func() {
		err := mirror.BulkInsert(ctx, facilities, func(done, total int) {
			p.Send(progressMsg(float64(done) / float64(total)))
		})
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(model).err
}
