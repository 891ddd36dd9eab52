package main

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saferoute/internal/ingest"
	"github.com/sells-group/saferoute/internal/model"
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Load incidents and rebuild the H3 crime grid",
}

var gridBuildCSV []string

var gridBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Ingest police.uk street CSVs (or download archives) and rebuild their months",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(gridBuildCSV) == 0 {
			return eris.New("at least one --csv is required")
		}
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inv, closeInv, err := invalidationPublisher()
		if err != nil {
			return err
		}
		defer closeInv()

		b, cats, err := newBuilder(ctx, st, inv)
		if err != nil {
			return err
		}

		var incidents []model.Incident
		for _, path := range gridBuildCSV {
			res, err := readIncidentFile(cmd, path, cats)
			if err != nil {
				return err
			}
			zap.L().Info("read incidents",
				zap.String("path", path),
				zap.Int("rows", res.Rows),
				zap.Int("skipped", res.Skipped),
			)
			incidents = append(incidents, res.Incidents...)
		}

		run, err := b.Ingest(ctx, incidents)
		if err != nil {
			return err
		}
		logRun(run)
		return nil
	},
}

func readIncidentFile(cmd *cobra.Command, path string, cats []model.Category) (*ingest.CSVResult, error) {
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return ingest.ReadPoliceArchive(cmd.Context(), path, cats)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ingest.ReadPoliceCSV(cmd.Context(), f, cats)
}

var (
	gridFetchMonths int
	gridFetchLatest string
	gridFetchArea   string
)

var gridFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull recent months from the police.uk API and rebuild them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		if gridFetchMonths < 1 {
			return eris.New("--months must be >= 1")
		}

		rawArea := gridFetchArea
		if rawArea == "" {
			rawArea = cfg.Ingest.Area
		}
		if rawArea == "" {
			return eris.New("an area is required (--area or ingest.area)")
		}
		area, err := model.ParseBBox(rawArea)
		if err != nil {
			return err
		}

		// police.uk publishes with a lag of roughly two months.
		latest := model.MonthStart(time.Now()).AddDate(0, -2, 0)
		if gridFetchLatest != "" {
			if latest, err = model.ParseMonth(gridFetchLatest); err != nil {
				return err
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inv, closeInv, err := invalidationPublisher()
		if err != nil {
			return err
		}
		defer closeInv()

		b, _, err := newBuilder(ctx, st, inv)
		if err != nil {
			return err
		}

		client := ingest.NewAPIClient(ingest.NewPoliceFetcher(), cfg.Ingest.PoliceAPIURL, cfg.Ingest.MaxSplitDepth, cfg.Ingest.ForceID)

		var (
			mu        sync.Mutex
			incidents []model.Incident
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(2)
		for _, month := range recentMonths(latest, gridFetchMonths) {
			g.Go(func() error {
				got, err := client.CrimesInArea(gctx, area, month)
				if err != nil {
					return err
				}
				zap.L().Info("fetched month",
					zap.String("month", month.Format("2006-01")),
					zap.Int("incidents", len(got)),
				)
				mu.Lock()
				incidents = append(incidents, got...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if len(incidents) == 0 {
			zap.L().Warn("police API returned no incidents", zap.String("area", rawArea))
			return nil
		}

		run, err := b.Ingest(ctx, incidents)
		if err != nil {
			return err
		}
		logRun(run)
		return nil
	},
}

var gridRebuildMonths int

var gridRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-aggregate stored incidents into grid cells",
	Long:  "Rebuilds the most recent --months months of stored incidents, or every stored month when --months is 0.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if gridRebuildMonths < 0 || gridRebuildMonths > 24 {
			return eris.New("--months must be between 0 and 24")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inv, closeInv, err := invalidationPublisher()
		if err != nil {
			return err
		}
		defer closeInv()

		b, _, err := newBuilder(ctx, st, inv)
		if err != nil {
			return err
		}

		var months []time.Time
		if gridRebuildMonths > 0 {
			stored, err := st.IncidentMonths(ctx)
			if err != nil {
				return err
			}
			months = lastN(stored, gridRebuildMonths)
			if len(months) == 0 {
				zap.L().Warn("no stored incidents to rebuild")
				return nil
			}
		}

		run, err := b.RebuildFromStore(ctx, months)
		if err != nil {
			return err
		}
		logRun(run)
		return nil
	},
}

// lastN returns the n latest months of an ascending list.
func lastN(months []time.Time, n int) []time.Time {
	if len(months) <= n {
		return months
	}
	return months[len(months)-n:]
}

func logRun(run *model.IngestionRun) {
	if run == nil {
		return
	}
	zap.L().Info("grid rebuilt",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("records", run.RecordsProcessed),
		zap.Int("cells", run.CellsWritten),
	)
}

func init() {
	gridBuildCmd.Flags().StringSliceVar(&gridBuildCSV, "csv", nil, "street-level CSV or download .zip (repeatable)")
	gridFetchCmd.Flags().IntVar(&gridFetchMonths, "months", 1, "number of months to fetch")
	gridFetchCmd.Flags().StringVar(&gridFetchLatest, "latest", "", "latest month to fetch, YYYY-MM (default two months ago)")
	gridFetchCmd.Flags().StringVar(&gridFetchArea, "area", "", "min_lng,min_lat,max_lng,max_lat (default from config)")
	gridRebuildCmd.Flags().IntVar(&gridRebuildMonths, "months", 12, "months to rebuild, 0 for all")
	gridCmd.AddCommand(gridBuildCmd, gridFetchCmd, gridRebuildCmd)
	rootCmd.AddCommand(gridCmd)
}
