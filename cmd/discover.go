package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/discovery"
)

var (
	discoverLocation   string
	discoverRadius     float64
	discoverCategories []string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run the grid search around a location and start a session",
	Long:  "Geocodes --location, searches every category in every grid cell within --radius meters, creates the session and hands its identifiers to enrichment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("discover"); err != nil {
			return err
		}
		if discoverLocation == "" {
			return eris.New("--location is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Discover.Run(ctx, discovery.Request{
			Location:   discoverLocation,
			Radius:     discoverRadius,
			Categories: discoverCategories,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session:  %s\n", res.SessionID)
		fmt.Fprintf(out, "center:   %.6f, %.6f\n", res.Center.Lat, res.Center.Lon)
		fmt.Fprintf(out, "cells:    %d\n", res.Cells)
		fmt.Fprintf(out, "places:   %d\n", res.IDs)
		fmt.Fprintf(out, "searches: %d (~$%.2f)\n", res.APICalls, cost.NewCalculator(cost.DefaultRates()).TextSearch(res.APICalls))
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverLocation, "location", "", "address or \"lat, lon\" to search around")
	discoverCmd.Flags().Float64Var(&discoverRadius, "radius", 5000, "search radius in meters")
	discoverCmd.Flags().StringSliceVar(&discoverCategories, "category", nil, "category to search (repeatable, default from config)")
	rootCmd.AddCommand(discoverCmd)
}
