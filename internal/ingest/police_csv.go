package ingest

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/fetcher"
	"github.com/sells-group/saferoute/internal/model"
)

// police.uk street-level CSV columns.
const (
	colCrimeID   = "Crime ID"
	colMonth     = "Month"
	colForce     = "Falls within"
	colLongitude = "Longitude"
	colLatitude  = "Latitude"
	colLocation  = "Location"
	colCrimeType = "Crime type"
	colOutcome   = "Last outcome category"
)

// CSVResult is the outcome of reading one street-level CSV.
type CSVResult struct {
	Incidents []model.Incident
	Rows      int
	Skipped   int
}

// ReadPoliceCSV parses a police.uk street-level CSV. Crime type display names
// are mapped to category ids. Rows without coordinates or with an invalid
// month are skipped and counted.
func ReadPoliceCSV(ctx context.Context, r io.Reader, cats []model.Category) (*CSVResult, error) {
	names := newNameIndex(cats)
	log := zap.L().With(zap.String("component", "ingest.csv"))
	res := &CSVResult{}

	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})
	for rec := range rowCh {
		res.Rows++
		inc, err := incidentFromRecord(rec, names)
		if err != nil {
			res.Skipped++
			log.Debug("skipping row", zap.Int("line", rec.Line), zap.Error(err))
			continue
		}
		res.Incidents = append(res.Incidents, inc)
	}
	if err := <-errCh; err != nil {
		return res, eris.Wrap(err, "ingest: read police csv")
	}

	if res.Skipped > 0 {
		log.Info("rows skipped", zap.Int("rows", res.Rows), zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

func incidentFromRecord(rec fetcher.Record, names nameIndex) (model.Incident, error) {
	lngStr, latStr := rec.Get(colLongitude), rec.Get(colLatitude)
	if lngStr == "" || latStr == "" {
		return model.Incident{}, eris.New("missing coordinates")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return model.Incident{}, eris.Wrap(err, "longitude")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return model.Incident{}, eris.Wrap(err, "latitude")
	}
	loc := model.Point{Lng: lng, Lat: lat}
	if err := loc.Validate("location"); err != nil {
		return model.Incident{}, err
	}

	month, err := model.ParseMonth(rec.Get(colMonth))
	if err != nil {
		return model.Incident{}, err
	}

	crimeType := rec.Get(colCrimeType)
	if crimeType == "" {
		return model.Incident{}, eris.New("missing crime type")
	}

	return model.Incident{
		ID:           rec.Get(colCrimeID),
		Category:     names.lookup(crimeType),
		Month:        month,
		Location:     loc,
		LocationDesc: rec.Get(colLocation),
		Outcome:      rec.Get(colOutcome),
		ForceID:      slug(rec.Get(colForce)),
	}, nil
}

// ReadPoliceArchive reads every street-level CSV inside a police.uk download
// archive.
func ReadPoliceArchive(ctx context.Context, zipPath string, cats []model.Category) (*CSVResult, error) {
	total := &CSVResult{}
	start := time.Now()
	files, err := fetcher.EachZIPEntry(zipPath, fetcher.HasSuffix("-street.csv"), func(name string, r io.Reader) error {
		res, err := ReadPoliceCSV(ctx, r, cats)
		if err != nil {
			return err
		}
		total.Incidents = append(total.Incidents, res.Incidents...)
		total.Rows += res.Rows
		total.Skipped += res.Skipped
		return nil
	})
	if err != nil {
		return total, eris.Wrapf(err, "ingest: read archive %s", zipPath)
	}
	zap.L().Info("police archive read",
		zap.String("component", "ingest.csv"),
		zap.String("path", zipPath),
		zap.Int("files", files),
		zap.Int("incidents", len(total.Incidents)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return total, nil
}
