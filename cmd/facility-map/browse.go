package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/async"
	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
)

// tuiRenderer keeps the latest views for the browse model. The controller
// calls it with its render lock held, so it never blocks on the program.
type tuiRenderer struct {
	mu      sync.Mutex
	views   []locator.FacilityView
	saved   []models.SavedSearch
	stats   locator.Stats
	lastErr error
	program *tea.Program
}

type refreshMsg struct{}

func (r *tuiRenderer) RenderFacilities(views []locator.FacilityView) {
	r.mu.Lock()
	r.views = views
	r.mu.Unlock()
	r.notify()
}

func (r *tuiRenderer) RenderSavedSearches(saved []models.SavedSearch, stats locator.Stats) {
	r.mu.Lock()
	r.saved, r.stats = saved, stats
	r.mu.Unlock()
	r.notify()
}

func (r *tuiRenderer) ReportError(op string, err error) {
	r.mu.Lock()
	r.lastErr = fmt.Errorf("%s: %w", op, err)
	r.mu.Unlock()
	r.notify()
}

func (r *tuiRenderer) notify() {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		go p.Send(refreshMsg{})
	}
}

func (r *tuiRenderer) attach(p *tea.Program) {
	r.mu.Lock()
	r.program = p
	r.mu.Unlock()
}

// latest returns the current views and takes the pending error, if any.
func (r *tuiRenderer) latest() ([]locator.FacilityView, []models.SavedSearch, locator.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	return r.views, r.saved, r.stats, err
}

type pane int

const (
	paneFacilities pane = iota
	paneSaved
)

type inputMode int

const (
	inputNone inputMode = iota
	inputFilter
	inputPin
	inputMemo
	inputColor
	inputSaveName
	inputRename
	inputSavedMemo
)

var inputPrompts = map[inputMode]string{
	inputFilter:    "filter: ",
	inputPin:       "pin lat,lon: ",
	inputMemo:      "memo: ",
	inputColor:     "color #RRGGBB: ",
	inputSaveName:  "name: ",
	inputRename:    "rename: ",
	inputSavedMemo: "search memo: ",
}

type (
	taskDoneMsg struct {
		status string
		err    error
	}
	catalogChangedMsg struct{}
	catalogLoadedMsg  struct {
		count int
		err   error
	}
)

const radiusStep = 0.5

type browseModel struct {
	ctx      context.Context
	s        *session
	renderer *tuiRenderer

	pane        pane
	views       []locator.FacilityView
	saved       []models.SavedSearch
	stats       locator.Stats
	cursor      int
	savedCursor int

	mode    inputMode
	input   textinput.Model
	spinner spinner.Model
	busy    int
	status  string
	failed  bool

	width  int
	height int
}

func newBrowseModel(ctx context.Context, s *session, r *tuiRenderer) browseModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	ti := textinput.New()
	ti.CharLimit = 200

	m := browseModel{
		ctx:      ctx,
		s:        s,
		renderer: r,
		input:    ti,
		spinner:  sp,
		width:    80,
		height:   24,
	}
	m.views, m.saved, m.stats, _ = r.latest()
	return m
}

func (m browseModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		var err error
		m.views, m.saved, m.stats, err = m.renderer.latest()
		m.cursor = clamp(m.cursor, len(m.views))
		m.savedCursor = clamp(m.savedCursor, len(m.saved))
		if err != nil {
			m.setStatus(err.Error(), true)
		}
		return m, nil

	case taskDoneMsg:
		m.busy--
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else if msg.status != "" {
			m.setStatus(msg.status, false)
		}
		return m, nil

	case catalogChangedMsg:
		m.busy++
		s, ctx := m.s, m.ctx
		return m, func() tea.Msg {
			err := s.loadCatalog(ctx)
			return catalogLoadedMsg{count: len(s.facilities), err: err}
		}

	case catalogLoadedMsg:
		m.busy--
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(fmt.Sprintf("catalog reloaded, %d facilities", msg.count), false)
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *browseModel) setStatus(text string, failed bool) {
	m.status, m.failed = text, failed
}

func (m browseModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.s.ctrl
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.pane = 1 - m.pane
	case "down", "j":
		if m.pane == paneFacilities {
			m.cursor = clamp(m.cursor+1, len(m.views))
		} else {
			m.savedCursor = clamp(m.savedCursor+1, len(m.saved))
		}
	case "up", "k":
		if m.pane == paneFacilities {
			m.cursor = clamp(m.cursor-1, len(m.views))
		} else {
			m.savedCursor = clamp(m.savedCursor-1, len(m.saved))
		}
	case "+", "=":
		m.setRadius(ctrl.Snapshot().RadiusKm + radiusStep)
	case "-":
		m.setRadius(ctrl.Snapshot().RadiusKm - radiusStep)
	case "c":
		ctrl.ClearPin()
		m.setStatus("pin cleared", false)
	case "P":
		return m.startInput(inputPin, "")
	case "/":
		if m.pane == paneFacilities {
			return m.startInput(inputFilter, ctrl.Snapshot().Filter.Query)
		}
		return m.startInput(inputFilter, ctrl.Snapshot().SavedQuery)
	case "s":
		if ctrl.Snapshot().Pin == nil {
			m.setStatus(locator.ErrNoPin.Error(), true)
			return m, nil
		}
		return m.startInput(inputSaveName, "")
	}

	if m.pane == paneFacilities {
		return m.updateFacilityKeys(msg)
	}
	return m.updateSavedKeys(msg)
}

func (m browseModel) updateFacilityKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	v, ok := m.currentFacility()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "p", "enter":
		results := m.s.ctrl.DropPin(v.Facility.Location())
		m.cursor = 0
		m.setStatus(fmt.Sprintf("pin at %s, %d件", v.Facility.Name, len(results)), false)
	case "m":
		return m.startInput(inputMemo, v.Memo)
	case "o":
		return m.startInput(inputColor, v.CustomColor)
	}
	return m, nil
}

func (m browseModel) updateSavedKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.s.ctrl
	if msg.String() == "S" {
		next := nextSortMode(ctrl.Snapshot().SavedSort)
		ctrl.SetSavedSort(next)
		m.setStatus("sort: "+string(next), false)
		return m, nil
	}
	item, ok := m.currentSaved()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "enter":
		if km, err := item.Radius.Km(); err == nil {
			m.setRadius(km)
		}
		ctrl.DropPin(item.Pin.Location())
		m.pane, m.cursor = paneFacilities, 0
		m.setStatus("restored "+item.Name, false)
	case "r":
		return m.startInput(inputRename, item.Name)
	case "m":
		return m.startInput(inputSavedMemo, item.Memo)
	case "d":
		return m, m.await(ctrl.DeleteSearch(m.ctx, item.ID), "deleted "+item.Name)
	}
	return m, nil
}

func (m browseModel) startInput(mode inputMode, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Prompt = inputPrompts[mode]
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m browseModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		mode, value := m.mode, m.input.Value()
		m.mode = inputNone
		m.input.Blur()
		return m.submit(mode, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m browseModel) submit(mode inputMode, value string) (tea.Model, tea.Cmd) {
	ctrl, ctx := m.s.ctrl, m.ctx
	switch mode {
	case inputFilter:
		if m.pane == paneFacilities {
			f := ctrl.Snapshot().Filter
			f.Query = value
			ctrl.SetFilter(f)
			m.cursor = 0
		} else {
			ctrl.SetSavedQuery(value)
			m.savedCursor = 0
		}
	case inputPin:
		loc, err := parseLatLon(value)
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		results := ctrl.DropPin(loc)
		m.cursor = 0
		m.setStatus(fmt.Sprintf("pin dropped, %d件", len(results)), false)
	case inputMemo:
		if v, ok := m.currentFacility(); ok {
			return m, m.await(ctrl.SaveMemo(ctx, v.Facility, value), "memo saved")
		}
	case inputColor:
		if value != "" && !hexColor.MatchString(value) {
			m.setStatus(fmt.Sprintf("color must look like #RRGGBB, got %q", value), true)
			return m, nil
		}
		if v, ok := m.currentFacility(); ok {
			return m, m.await(ctrl.SetColor(ctx, v.Facility, value), "color updated")
		}
	case inputSaveName:
		task := ctrl.SaveSearch(ctx, value)
		m.busy++
		return m, func() tea.Msg {
			saved, err := task.Wait(ctx)
			if err != nil {
				return taskDoneMsg{err: err}
			}
			return taskDoneMsg{status: fmt.Sprintf("saved #%d %s", saved.ID, saved.Name)}
		}
	case inputRename:
		if item, ok := m.currentSaved(); ok {
			return m, m.await(ctrl.RenameSearch(ctx, item.ID, value), "renamed")
		}
	case inputSavedMemo:
		if item, ok := m.currentSaved(); ok {
			return m, m.await(ctrl.SetSearchMemo(ctx, item.ID, value), "memo updated")
		}
	}
	return m, nil
}

// await turns a controller task into a command reporting its outcome.
func (m *browseModel) await(t *async.Task[struct{}], status string) tea.Cmd {
	m.busy++
	ctx := m.ctx
	return func() tea.Msg {
		_, err := t.Wait(ctx)
		return taskDoneMsg{status: status, err: err}
	}
}

func (m *browseModel) setRadius(km float64) {
	if km < radiusStep {
		km = radiusStep
	}
	if err := m.s.ctrl.SetRadius(km); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus("radius "+formatKm(km), false)
}

func (m browseModel) currentFacility() (locator.FacilityView, bool) {
	if m.cursor < 0 || m.cursor >= len(m.views) {
		return locator.FacilityView{}, false
	}
	return m.views[m.cursor], true
}

func (m browseModel) currentSaved() (models.SavedSearch, bool) {
	if m.savedCursor < 0 || m.savedCursor >= len(m.saved) {
		return models.SavedSearch{}, false
	}
	return m.saved[m.savedCursor], true
}

func (m browseModel) View() string {
	var b strings.Builder
	state := m.s.ctrl.Snapshot()

	b.WriteString(titleStyle.Render("🗾 facility-map"))
	if m.busy > 0 {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")
	if state.Pin != nil {
		b.WriteString(fmt.Sprintf("📍 %v, %v  r=%s  %s  %s\n", state.Pin[0], state.Pin[1],
			formatKm(state.RadiusKm), statStyle.Render(fmt.Sprintf("%d件", len(state.Results))), breakdownLine(state.Breakdown())))
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("no pin  r=%s  %d facilities", formatKm(state.RadiusKm), len(state.Facilities))) + "\n")
	}
	b.WriteString("\n")

	rows := max(m.height-9, 3)
	if m.pane == paneFacilities {
		b.WriteString(subtitleStyle.Render("Facilities") + dimStyle.Render("  Saved") + "\n")
		if len(m.views) == 0 && state.Pin != nil {
			b.WriteString(m.nearestRows(state))
		} else {
			b.WriteString(m.facilityRows(rows))
		}
	} else {
		b.WriteString(dimStyle.Render("Facilities  ") + subtitleStyle.Render("Saved") +
			dimStyle.Render(fmt.Sprintf("  %s  sort=%s", m.stats, state.SavedSort)) + "\n")
		b.WriteString(m.savedRows(rows, state))
	}

	b.WriteString("\n")
	switch {
	case m.mode != inputNone:
		b.WriteString(m.input.View())
	case m.status != "" && m.failed:
		b.WriteString(errorStyle.Render("✗ " + m.status))
	case m.status != "":
		b.WriteString(successStyle.Render("✓ " + m.status))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.help()))
	return b.String()
}

func (m browseModel) help() string {
	if m.mode != inputNone {
		return "enter confirm • esc cancel"
	}
	common := "tab pane • / filter • P pin • c clear • +/- radius • s save • q quit"
	if m.pane == paneFacilities {
		return "p pin here • m memo • o color • " + common
	}
	return "enter restore • r rename • m memo • d delete • S sort • " + common
}

func (m browseModel) facilityRows(rows int) string {
	if len(m.views) == 0 {
		return dimStyle.Render("  no facilities") + "\n"
	}
	start, end := window(m.cursor, len(m.views), rows)
	var b strings.Builder
	for i := start; i < end; i++ {
		v := m.views[i]
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		line := cursor + swatch(v.Color) + " " + v.Facility.Name + " " + dimStyle.Render("["+string(v.Facility.Category)+"]")
		if v.HasDistance {
			line += " " + statStyle.Render(formatKm(v.DistanceKm))
		}
		if v.HasMemo {
			line += " 📝 " + v.Memo
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// nearestRows lists the closest facilities when the pin radius holds none.
func (m browseModel) nearestRows(state locator.State) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("  nothing within "+formatKm(state.RadiusKm)+", nearest:") + "\n")
	for _, match := range m.s.ctrl.Nearest(state.Pin.Location(), 3) {
		b.WriteString("  " + swatch(state.ColorOf(match.Facility)) + " " + match.Facility.Name + " " +
			statStyle.Render(formatKm(match.DistanceKm)) + "\n")
	}
	return b.String()
}

func (m browseModel) savedRows(rows int, state locator.State) string {
	if len(m.saved) == 0 {
		return dimStyle.Render("  no saved searches") + "\n"
	}
	start, end := window(m.savedCursor, len(m.saved), rows)
	var b strings.Builder
	for i := start; i < end; i++ {
		s := m.saved[i]
		cursor := "  "
		if i == m.savedCursor {
			cursor = "> "
		}
		line := fmt.Sprintf("%s#%d %s  %s  r=%s km  %d件", cursor, s.ID, s.Name,
			dimStyle.Render(locator.DefaultName(s.Timestamp, m.s.ctrl.Location())), s.Radius, s.Count)
		if s.Memo != "" {
			line += " 📝 " + s.Memo
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// window returns the slice bounds of at most rows items keeping cursor visible.
func window(cursor, n, rows int) (int, int) {
	if n <= rows {
		return 0, n
	}
	start := max(cursor-rows/2, 0)
	end := start + rows
	if end > n {
		end = n
		start = n - rows
	}
	return start, end
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func nextSortMode(cur locator.SortMode) locator.SortMode {
	for i, mode := range locator.SortModes {
		if mode == cur {
			return locator.SortModes[(i+1)%len(locator.SortModes)]
		}
	}
	return locator.SortNewest
}

func parseLatLon(s string) (models.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Location{}, fmt.Errorf("pin must look like lat,lon, got %q", s)
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return models.Location{}, fmt.Errorf("pin must look like lat,lon: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Location{}, fmt.Errorf("pin %v,%v is out of range", lat, lon)
	}
	return models.Location{Lat: lat, Lon: lon}, nil
}

var browseLog string

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactive facility and saved search browser",
	Long: `browse opens a terminal view over the facility catalog. Region data files
are watched and reloaded when they change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// the terminal belongs to the program, so logs go to a file
		logPath := browseLog
		if logPath == "" {
			logPath = filepath.Join(filepath.Dir(cfg.Store.Path), "facility-map.log")
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		level, _ := cfgLevel()
		slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})))

		r := &tuiRenderer{}
		s, err := openSession(ctx, withCatalog(), withRenderer(r))
		if err != nil {
			return err
		}
		defer s.Close()

		p := tea.NewProgram(newBrowseModel(ctx, s, r), tea.WithAltScreen(), tea.WithContext(ctx))
		r.attach(p)

		go func() {
			err := facility.Watch(ctx, cfg.Data.Dir, 500*time.Millisecond, slog.Default(), func() {
				p.Send(catalogChangedMsg{})
			})
			if err != nil {
				slog.Warn("catalog watch stopped", "dir", cfg.Data.Dir, "error", err)
			}
		}()

		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	},
}

func init() {
	browseCmd.Flags().StringVar(&browseLog, "log", "", "Log file (default facility-map.log beside the database)")
	rootCmd.AddCommand(browseCmd)
}
