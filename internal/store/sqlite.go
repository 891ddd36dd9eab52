package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Boundaries are kept
// as WKT with a bounding box alongside for bbox filtering.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crime_categories (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	harm_weight REAL NOT NULL DEFAULT 1.0,
	is_personal INTEGER NOT NULL DEFAULT 0,
	is_property INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS incidents (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	month         TEXT NOT NULL,
	lng           REAL NOT NULL,
	lat           REAL NOT NULL,
	location_desc TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL DEFAULT '',
	force_id      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_incidents_month ON incidents(month);

CREATE TABLE IF NOT EXISTS cells (
	key            TEXT PRIMARY KEY,
	cell_id        TEXT NOT NULL,
	month          TEXT NOT NULL,
	boundary_wkt   TEXT NOT NULL,
	min_lng        REAL NOT NULL,
	min_lat        REAL NOT NULL,
	max_lng        REAL NOT NULL,
	max_lat        REAL NOT NULL,
	total_count    INTEGER NOT NULL DEFAULT 0,
	weighted_count REAL NOT NULL DEFAULT 0,
	stats          TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_cells_month ON cells(month);
CREATE INDEX IF NOT EXISTS idx_cells_month_bbox ON cells(month, min_lng, max_lng);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'running',
	months            TEXT NOT NULL DEFAULT '',
	records_processed INTEGER NOT NULL DEFAULT 0,
	cells_written     INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func monthKey(t time.Time) string {
	return model.MonthStart(t).Format("2006-01-02")
}

const sqliteCellColumns = `cell_id, month, boundary_wkt, total_count, weighted_count, stats`

func (s *SQLiteStore) CellsForMonth(ctx context.Context, month time.Time) ([]*model.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCellColumns+` FROM cells WHERE month = ? ORDER BY cell_id`, monthKey(month))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cells")
	}
	return scanSQLiteCells(rows)
}

func (s *SQLiteStore) CellsInBBox(ctx context.Context, month time.Time, bbox model.BBox) ([]*model.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCellColumns+` FROM cells
WHERE month = ? AND max_lng >= ? AND min_lng <= ? AND max_lat >= ? AND min_lat <= ?
ORDER BY cell_id`,
		monthKey(month), bbox.MinLng, bbox.MaxLng, bbox.MinLat, bbox.MaxLat)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cells in bbox")
	}
	return scanSQLiteCells(rows)
}

func scanSQLiteCells(rows *sql.Rows) ([]*model.Cell, error) {
	defer rows.Close()

	var cells []*model.Cell
	for rows.Next() {
		var (
			c          model.Cell
			id, month  string
			wkt, stats string
		)
		if err := rows.Scan(&id, &month, &wkt, &c.TotalCount, &c.WeightedCount, &stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cell")
		}
		m, err := time.Parse("2006-01-02", month)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse cell %s month", id)
		}
		poly, err := geospatial.ParsePolygonWKT(wkt)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode cell %s boundary", id)
		}
		if err := json.Unmarshal([]byte(stats), &c.CategoryCounts); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode cell %s stats", id)
		}
		c.ID = model.CellID(id)
		c.Month = m
		c.Boundary = poly.Ring()
		cells = append(cells, &c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: iterate cells")
}

func (s *SQLiteStore) UpsertCells(ctx context.Context, month time.Time, cells []*model.Cell) (int64, error) {
	mk := monthKey(month)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin cell upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE month = ?`, mk); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear month cells")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cells
(key, cell_id, month, boundary_wkt, min_lng, min_lat, max_lng, max_lat, total_count, weighted_count, stats)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare cell insert")
	}
	defer stmt.Close()

	var n int64
	for _, c := range cells {
		poly, err := geospatial.NewPolygon(c.Boundary)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: cell %s boundary", c.ID)
		}
		wkt, err := poly.WKT()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode cell %s", c.ID)
		}
		stats, err := json.Marshal(c.CategoryCounts)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal cell %s stats", c.ID)
		}
		b := poly.Bounds()
		if _, err := stmt.ExecContext(ctx,
			model.CellKey(c.ID, month), string(c.ID), mk, wkt,
			b.MinLng, b.MinLat, b.MaxLng, b.MaxLat,
			c.TotalCount, c.WeightedCount, string(stats),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert cell %s", c.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit cell upsert")
	}
	return n, nil
}

func (s *SQLiteStore) DeleteCellsForMonth(ctx context.Context, month time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE month = ?`, monthKey(month))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete cells")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin incident insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO incidents
(id, category, month, lng, lat, location_desc, outcome, force_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET category = excluded.category, month = excluded.month,
lng = excluded.lng, lat = excluded.lat, location_desc = excluded.location_desc,
outcome = excluded.outcome, force_id = excluded.force_id`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare incident insert")
	}
	defer stmt.Close()

	var n int64
	for _, inc := range incidents {
		id := inc.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, inc.Category, monthKey(inc.Month),
			inc.Location.Lng, inc.Location.Lat, inc.LocationDesc, inc.Outcome, inc.ForceID); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert incident %s", id)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit incident insert")
	}
	return n, nil
}

func (s *SQLiteStore) IncidentsForMonth(ctx context.Context, month time.Time) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, lng, lat, location_desc, outcome, force_id FROM incidents WHERE month = ? ORDER BY id`,
		monthKey(month))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query incidents")
	}
	defer rows.Close()

	m := model.MonthStart(month)
	var out []model.Incident
	for rows.Next() {
		inc := model.Incident{Month: m}
		if err := rows.Scan(&inc.ID, &inc.Category, &inc.Location.Lng, &inc.Location.Lat,
			&inc.LocationDesc, &inc.Outcome, &inc.ForceID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident")
		}
		out = append(out, inc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate incidents")
}

func (s *SQLiteStore) IncidentMonths(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT month FROM incidents ORDER BY month`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query incident months")
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan month")
		}
		m, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse month %q", raw)
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate months")
}

func (s *SQLiteStore) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, harm_weight, is_personal, is_property FROM crime_categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query categories")
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.HarmWeight, &c.IsPersonal, &c.IsProperty); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate categories")
}

func (s *SQLiteStore) UpsertCategories(ctx context.Context, cats []model.Category) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin category upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, c := range cats {
		if _, err := tx.ExecContext(ctx, `INSERT INTO crime_categories (id, name, harm_weight, is_personal, is_property)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, harm_weight = excluded.harm_weight,
is_personal = excluded.is_personal, is_property = excluded.is_property`,
			c.ID, c.Name, c.HarmWeight, c.IsPersonal, c.IsProperty); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert category %s", c.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit category upsert")
	}
	return n, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, months []time.Time) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Months:    monthStrings(months),
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, status, months, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), strings.Join(run.Months, ","), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.IngestionRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, records_processed = ?, cells_written = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), run.RecordsProcessed, run.CellsWritten, run.ErrorMessage, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.IngestionRun, error) {
	var (
		r        model.IngestionRun
		status   string
		months   string
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, months, records_processed, cells_written, error_message, started_at, finished_at FROM ingestion_runs WHERE id = ?`,
		id,
	).Scan(&r.ID, &status, &months, &r.RecordsProcessed, &r.CellsWritten, &r.ErrorMessage, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	r.Status = model.RunStatus(status)
	if months != "" {
		r.Months = strings.Split(months, ",")
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
