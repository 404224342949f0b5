package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
)

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved searches",
}

var (
	savedFilter string
	savedSort   string
	savedJSON   bool
	savedName   string
	clearYes    bool
)

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := locator.ParseSortMode(savedSort)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		s.ctrl.SetSavedQuery(savedFilter)
		s.ctrl.SetSavedSort(mode)
		list := s.ctrl.SavedSearches()
		out := cmd.OutOrStdout()

		if savedJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		fmt.Fprintln(out, dimStyle.Render(s.ctrl.Stats().String()))
		if len(list) == 0 {
			fmt.Fprintln(out, dimStyle.Render("no saved searches"))
			return nil
		}
		for _, item := range list {
			fmt.Fprintln(out, savedLine(item, s.ctrl))
		}
		return nil
	},
}

var savedSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Run a pin search and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, withCatalog())
		if err != nil {
			return err
		}
		defer s.Close()

		lat, lon, radius := resolvePin(cmd)
		if err := s.ctrl.SetRadius(radius); err != nil {
			return err
		}
		s.ctrl.DropPin(models.Location{Lat: lat, Lon: lon})
		saved, err := s.ctrl.SaveSearch(ctx, savedName).Wait(ctx)
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "saved #%d %s (%d件)", saved.ID, saved.Name, saved.Count)
		return nil
	},
}

var savedRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a saved search",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.ctrl.RenameSearch(ctx, id, strings.Join(args[1:], " ")).Wait(ctx); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "renamed #%d", id)
		return nil
	},
}

var savedMemoCmd = &cobra.Command{
	Use:   "memo ID [TEXT]",
	Short: "Set the memo of a saved search; no text clears it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.ctrl.SetSearchMemo(ctx, id, strings.Join(args[1:], " ")).Wait(ctx); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "memo updated for #%d", id)
		return nil
	},
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete saved searches",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range ids {
			if _, err := s.ctrl.DeleteSearch(ctx, id).Wait(ctx); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "deleted #%d", id)
		}
		return nil
	},
}

var savedClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every saved search (memos and colors are kept)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to delete every saved search without --yes")
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.ctrl.ClearSearches(ctx).Wait(ctx)
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "deleted %d saved searches", n)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid saved search id %q", s)
	}
	return id, nil
}

func init() {
	sorts := make([]string, len(locator.SortModes))
	for i, m := range locator.SortModes {
		sorts[i] = string(m)
	}
	savedListCmd.Flags().StringVarP(&savedFilter, "filter", "f", "", "Match date, radius, count or coordinates")
	savedListCmd.Flags().StringVarP(&savedSort, "sort", "s", string(locator.SortNewest), "Order: "+strings.Join(sorts, ", "))
	savedListCmd.Flags().BoolVar(&savedJSON, "json", false, "Print as JSON")

	addPinFlags(savedSaveCmd)
	savedSaveCmd.Flags().StringVar(&savedName, "name", "", "Name (default: save time)")

	savedClearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deletion")

	savedCmd.AddCommand(savedListCmd, savedSaveCmd, savedRenameCmd, savedMemoCmd, savedDeleteCmd, savedClearCmd)
	rootCmd.AddCommand(savedCmd)
}
