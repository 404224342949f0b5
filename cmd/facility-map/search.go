package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/models"
)

var (
	pinLat   float64
	pinLon   float64
	radiusKm float64
	saveAs   string
	save     bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List facilities within a radius of a pin, nearest first",
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
		results := s.ctrl.DropPin(models.Location{Lat: lat, Lon: lon})

		out := cmd.OutOrStdout()
		state := s.ctrl.Snapshot()
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("📍 %v, %v  r=%v km", lat, lon, radius)))
		fmt.Fprintf(out, "%s %s\n\n", statStyle.Render(fmt.Sprintf("%d件", len(results))), breakdownLine(state.Breakdown()))
		printFacilities(out, state.FacilityViews())

		if save || saveAs != "" {
			saved, err := s.ctrl.SaveSearch(ctx, saveAs).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			printSuccess(out, "saved #%d %s", saved.ID, saved.Name)
		}
		return nil
	},
}

// resolvePin fills unset pin flags from the configured defaults.
func resolvePin(cmd *cobra.Command) (lat, lon, radius float64) {
	lat, lon, radius = pinLat, pinLon, radiusKm
	if !cmd.Flags().Changed("lat") {
		lat = cfg.Search.Center.Lat
	}
	if !cmd.Flags().Changed("lon") {
		lon = cfg.Search.Center.Lon
	}
	if !cmd.Flags().Changed("radius") {
		radius = cfg.Search.DefaultRadiusKm
	}
	return lat, lon, radius
}

func addPinFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&pinLat, "lat", 0, "Pin latitude (default from config)")
	cmd.Flags().Float64Var(&pinLon, "lon", 0, "Pin longitude (default from config)")
	cmd.Flags().Float64VarP(&radiusKm, "radius", "r", 0, "Search radius in km (default from config)")
}

var (
	facQuery    string
	facCategory string
	facRegion   string
	facNear     []float64
	facBox      []float64
	facLimit    int
)

var facilitiesCmd = &cobra.Command{
	Use:   "facilities",
	Short: "List catalog facilities with their memo and marker color",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, withCatalog())
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		flt := facility.Filter{Query: facQuery, Category: models.Category(facCategory), Region: facRegion}

		if len(facBox) > 0 {
			box, err := parseBox(facBox)
			if err != nil {
				return err
			}
			found, err := s.ctrl.InBox(box)
			if err != nil {
				return err
			}
			state := s.ctrl.Snapshot()
			n := 0
			for _, f := range found {
				if !flt.Match(f) {
					continue
				}
				if facLimit > 0 && n == facLimit {
					break
				}
				n++
				fmt.Fprintf(out, "%s %s %s\n", swatch(state.ColorOf(f)), f.Name, dimStyle.Render(facility.ID(f)))
			}
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d of %d facilities in box", n, len(found))))
			return nil
		}

		if len(facNear) > 0 {
			if len(facNear) != 2 {
				return fmt.Errorf("--near takes lat,lon")
			}
			n := facLimit
			if n <= 0 {
				n = 10
			}
			state := s.ctrl.Snapshot()
			for _, m := range s.ctrl.Nearest(models.Location{Lat: facNear[0], Lon: facNear[1]}, n) {
				if !flt.Match(m.Facility) {
					continue
				}
				id := facility.ID(m.Facility)
				fmt.Fprintf(out, "%s %s %s %s\n", swatch(state.ColorOf(m.Facility)), m.Facility.Name,
					statStyle.Render(formatKm(m.DistanceKm)), dimStyle.Render(id))
			}
			return nil
		}

		s.ctrl.SetFilter(flt)
		views := s.ctrl.Snapshot().FacilityViews()
		if facLimit > 0 && len(views) > facLimit {
			views = views[:facLimit]
		}
		printFacilities(out, views)
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d facilities", len(views))))
		return nil
	},
}

// parseBox reads minLat,minLon,maxLat,maxLon.
func parseBox(v []float64) (models.BoundingBox, error) {
	if len(v) != 4 {
		return models.BoundingBox{}, fmt.Errorf("--box takes minLat,minLon,maxLat,maxLon")
	}
	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: v[0], Lon: v[1]},
		TopRight:   models.Location{Lat: v[2], Lon: v[3]},
	}
	if box.BottomLeft.Lat > box.TopRight.Lat || box.BottomLeft.Lon > box.TopRight.Lon {
		return models.BoundingBox{}, fmt.Errorf("--box corners are reversed: %v", v)
	}
	return box, nil
}

var categoriesHelp = func() string {
	names := make([]string, 0, len(models.KnownCategories))
	for _, c := range models.KnownCategories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}()

func init() {
	addPinFlags(searchCmd)
	searchCmd.Flags().BoolVar(&save, "save", false, "Save the search")
	searchCmd.Flags().StringVar(&saveAs, "name", "", "Save the search under this name")

	facilitiesCmd.Flags().StringVarP(&facQuery, "query", "q", "", "Match name or address")
	facilitiesCmd.Flags().StringVar(&facCategory, "category", "", "Exact category ("+categoriesHelp+")")
	facilitiesCmd.Flags().StringVar(&facRegion, "region", "", "Address contains this region")
	facilitiesCmd.Flags().Float64SliceVar(&facNear, "near", nil, "List the nearest facilities to lat,lon")
	facilitiesCmd.Flags().Float64SliceVar(&facBox, "box", nil, "List facilities inside minLat,minLon,maxLat,maxLon")
	facilitiesCmd.Flags().IntVarP(&facLimit, "limit", "n", 10, "Maximum rows (0 for all)")

	rootCmd.AddCommand(searchCmd, facilitiesCmd)
}
