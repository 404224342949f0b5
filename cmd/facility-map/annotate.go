package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
)

var memoCmd = &cobra.Command{
	Use:   "memo FACILITY [TEXT]",
	Short: "Attach a memo to a facility; no text removes it",
	Long: `FACILITY is a facility identity key, an exact name, or a unique part of a
name or address.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, withCatalog())
		if err != nil {
			return err
		}
		defer s.Close()

		f, err := resolveFacility(s.facilities, args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		if _, err := s.ctrl.SaveMemo(ctx, f, text).Wait(ctx); err != nil {
			return err
		}
		state := s.ctrl.Snapshot()
		if state.HasMemo(facility.ID(f)) {
			printSuccess(cmd.OutOrStdout(), "memo saved for %s %s", swatch(state.ColorOf(f)), f.Name)
		} else {
			printSuccess(cmd.OutOrStdout(), "memo removed from %s %s", swatch(state.ColorOf(f)), f.Name)
		}
		return nil
	},
}

var memoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List facility memos",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		state := s.ctrl.Snapshot()
		ids := make([]string, 0, len(state.Memos))
		for id := range state.Memos {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := cmd.OutOrStdout()
		for _, id := range ids {
			m := state.Memos[id]
			color := locator.EffectiveColor(m.FacilityCategory, true, state.CustomColor(id))
			name := m.FacilityName
			if name == "" {
				name = id
			}
			fmt.Fprintf(out, "%s %s  %s\n    %s\n", swatch(color), name, titleStyle.Render("📝 "+m.Memo), dimStyle.Render(id))
		}
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d memos", len(ids))))
		return nil
	},
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var colorCmd = &cobra.Command{
	Use:   "color FACILITY [#RRGGBB]",
	Short: "Override a facility's marker color; no color restores the default",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		color := ""
		if len(args) == 2 {
			color = args[1]
			if !hexColor.MatchString(color) {
				return fmt.Errorf("color must look like #RRGGBB, got %q", color)
			}
		}
		ctx := cmd.Context()
		s, err := openSession(ctx, withCatalog())
		if err != nil {
			return err
		}
		defer s.Close()

		f, err := resolveFacility(s.facilities, args[0])
		if err != nil {
			return err
		}
		if _, err := s.ctrl.SetColor(ctx, f, color).Wait(ctx); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "%s %s", swatch(s.ctrl.Snapshot().ColorOf(f)), f.Name)
		return nil
	},
}

// resolveFacility finds the single facility a command argument refers to.
func resolveFacility(facilities []models.Facility, ref string) (models.Facility, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.Facility{}, fmt.Errorf("empty facility reference")
	}
	for _, f := range facilities {
		if facility.ID(f) == ref {
			return f, nil
		}
	}

	var exact []models.Facility
	for _, f := range facilities {
		if f.Name == ref {
			exact = append(exact, f)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = facility.Filter{Query: ref}.Apply(facilities)
	}
	switch len(candidates) {
	case 0:
		return models.Facility{}, fmt.Errorf("no facility matches %q", ref)
	case 1:
		return candidates[0], nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d facilities match %q; pass an identity key:", len(candidates), ref)
	for i, f := range candidates {
		if i == 5 {
			fmt.Fprintf(&b, "\n  ... and %d more", len(candidates)-i)
			break
		}
		fmt.Fprintf(&b, "\n  %s  %s", facility.ID(f), f.Address)
	}
	return models.Facility{}, fmt.Errorf("%s", b.String())
}

func init() {
	memoCmd.AddCommand(memoListCmd)
	rootCmd.AddCommand(memoCmd, colorCmd)
}
