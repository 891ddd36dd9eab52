package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/scorer"
)

var (
	snapshotBBox      string
	snapshotLookback  int
	snapshotTimeOfDay string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the safety heatmap for a bounding box as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if snapshotBBox == "" {
			return eris.New("--bbox is required")
		}
		bbox, err := model.ParseBBox(snapshotBBox)
		if err != nil {
			return err
		}
		if err := cfg.Validate("score"); err != nil {
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
		req := scorer.SnapshotRequest{BBox: bbox, TimeOfDay: snapshotTimeOfDay}
		if cmd.Flags().Changed("lookback") {
			req.LookbackMonths = &snapshotLookback
		}
		snap, err := sc.Snapshot(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotBBox, "bbox", "", "min_lng,min_lat,max_lng,max_lat")
	snapshotCmd.Flags().IntVar(&snapshotLookback, "lookback", 0, "lookback months (default from config)")
	snapshotCmd.Flags().StringVar(&snapshotTimeOfDay, "time-of-day", "", "night, morning, day or evening")
	rootCmd.AddCommand(snapshotCmd)
}
