package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6"))

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(0, 1)
)

func init() {
	// Disable colors if not in a terminal
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		plain := lipgloss.NewStyle()
		titleStyle, subtitleStyle, successStyle = plain, plain, plain
		errorStyle, dimStyle, statStyle = plain, plain, plain
		boxStyle = plain
		colorOutput = false
	}
}

var colorOutput = true

// swatch renders a marker dot in the given color.
func swatch(color string) string {
	if !colorOutput {
		return "●"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func formatKm(km float64) string {
	return strconv.FormatFloat(km, 'f', 2, 64) + " km"
}

// facilityLine renders one facility list row.
func facilityLine(v locator.FacilityView) string {
	var b strings.Builder
	b.WriteString(swatch(v.Color))
	b.WriteString(" ")
	b.WriteString(v.Facility.Name)
	b.WriteString(" ")
	b.WriteString(dimStyle.Render("[" + string(v.Facility.Category) + "]"))
	if v.HasDistance {
		b.WriteString(" ")
		b.WriteString(statStyle.Render(formatKm(v.DistanceKm)))
	}
	if v.HasMemo {
		b.WriteString(" ")
		b.WriteString(titleStyle.Render("📝 " + v.Memo))
	}
	b.WriteString("\n    ")
	b.WriteString(dimStyle.Render(v.Facility.Address))
	return b.String()
}

func printFacilities(w io.Writer, views []locator.FacilityView) {
	for _, v := range views {
		fmt.Fprintln(w, facilityLine(v))
	}
}

func breakdownLine(b facility.Breakdown) string {
	return fmt.Sprintf("%s %d  %s %d  %s %d",
		swatch(facility.ColorNursery), b.Nurseries,
		swatch(facility.ColorKindergarten), b.Kindergartens,
		swatch(facility.ColorSchool), b.Schools)
}

// savedLine renders one saved search row.
func savedLine(s models.SavedSearch, loc *locator.Controller) string {
	b := facility.CountByCategory(s.Results)
	line := fmt.Sprintf("#%d %s  %s  r=%s km  %d件  (%s)  %s",
		s.ID,
		subtitleStyle.Render(s.Name),
		dimStyle.Render(locator.DefaultName(s.Timestamp, loc.Location())),
		s.Radius,
		s.Count,
		dimStyle.Render(fmt.Sprintf("%v, %v", s.Pin[0], s.Pin[1])),
		breakdownLine(b))
	if s.Memo != "" {
		line += "\n    " + titleStyle.Render("📝 "+s.Memo)
	}
	return line
}
