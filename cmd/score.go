package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/scorer"
)

var (
	scoreGeoJSON   string
	scoreTimeOfDay string
	scoreLookback  int
	scoreBuffer    float64
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a route from a GeoJSON LineString and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if scoreGeoJSON == "" {
			return eris.New("--geojson is required")
		}
		if err := cfg.Validate("score"); err != nil {
			return err
		}

		data, err := os.ReadFile(scoreGeoJSON)
		if err != nil {
			return eris.Wrapf(err, "read %s", scoreGeoJSON)
		}
		pts, err := routeFromGeoJSON(data)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sc, err := newScorer(cellReader(st))
		if err != nil {
			return err
		}

		req := scorer.RouteRequest{
			Coordinates: pts,
			TimeOfDay:   scoreTimeOfDay,
		}
		if cmd.Flags().Changed("lookback") {
			req.LookbackMonths = &scoreLookback
		}
		if cmd.Flags().Changed("buffer") {
			req.BufferMeters = &scoreBuffer
		}
		res, err := sc.ScoreRoute(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

// routeFromGeoJSON accepts a LineString geometry, a Feature wrapping one, or
// a FeatureCollection whose first feature is one.
func routeFromGeoJSON(data []byte) ([]model.Point, error) {
	var head struct {
		Type     string            `json:"type"`
		Geometry json.RawMessage   `json:"geometry"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "decode geojson")
	}
	switch head.Type {
	case "FeatureCollection":
		if len(head.Features) == 0 {
			return nil, eris.New("geojson: feature collection is empty")
		}
		return routeFromGeoJSON(head.Features[0])
	case "Feature":
		if len(head.Geometry) == 0 || string(head.Geometry) == "null" {
			return nil, eris.New("geojson: feature has no geometry")
		}
		data = head.Geometry
	}
	line, err := geospatial.ParseLineStringGeoJSON(data)
	if err != nil {
		return nil, err
	}
	return line.Points(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	scoreCmd.Flags().StringVar(&scoreGeoJSON, "geojson", "", "path to a GeoJSON LineString route")
	scoreCmd.Flags().StringVar(&scoreTimeOfDay, "time-of-day", "", "night, morning, day or evening")
	scoreCmd.Flags().IntVar(&scoreLookback, "lookback", 0, "lookback months (default from config)")
	scoreCmd.Flags().Float64Var(&scoreBuffer, "buffer", 0, "corridor buffer in meters (default from config)")
	rootCmd.AddCommand(scoreCmd)
}
