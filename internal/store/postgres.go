package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/db"
	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
)

// PostgresStore implements Store on PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlCellsForMonth = `SELECT cell_id, month, ST_AsEWKB(geom), total_count, weighted_count, stats
FROM saferoute.cells WHERE month = $1 ORDER BY cell_id`

	sqlCellsInBBox = `SELECT cell_id, month, ST_AsEWKB(geom), total_count, weighted_count, stats
FROM saferoute.cells WHERE month = $1 AND geom && ST_MakeEnvelope($2, $3, $4, $5, 4326) ORDER BY cell_id`

	sqlIncidentsForMonth = `SELECT id, category, month, lng, lat, location_desc, outcome, force_id
FROM saferoute.incidents WHERE month = $1 ORDER BY id`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CellsForMonth(ctx context.Context, month time.Time) ([]*model.Cell, error) {
	rows, err := s.pool.Query(ctx, sqlCellsForMonth, model.MonthStart(month))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cells")
	}
	return collectCells(rows)
}

func (s *PostgresStore) CellsInBBox(ctx context.Context, month time.Time, bbox model.BBox) ([]*model.Cell, error) {
	rows, err := s.pool.Query(ctx, sqlCellsInBBox,
		model.MonthStart(month), bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cells in bbox")
	}
	return collectCells(rows)
}

func collectCells(rows pgx.Rows) ([]*model.Cell, error) {
	defer rows.Close()

	var cells []*model.Cell
	for rows.Next() {
		var (
			c     model.Cell
			id    string
			ewkb  []byte
			stats []byte
		)
		if err := rows.Scan(&id, &c.Month, &ewkb, &c.TotalCount, &c.WeightedCount, &stats); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cell")
		}
		poly, err := geospatial.ParsePolygonEWKB(ewkb)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode cell %s boundary", id)
		}
		c.ID = model.CellID(id)
		c.Month = model.MonthStart(c.Month)
		c.Boundary = poly.Ring()
		if err := json.Unmarshal(stats, &c.CategoryCounts); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode cell %s stats", id)
		}
		cells = append(cells, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate cells")
	}
	return cells, nil
}

var cellStageColumns = []string{"key", "cell_id", "month", "ewkb", "total_count", "weighted_count", "stats"}

// UpsertCells stages the month's cells with COPY, then swaps them in for the
// old rows inside one transaction so readers never see a partial month.
func (s *PostgresStore) UpsertCells(ctx context.Context, month time.Time, cells []*model.Cell) (int64, error) {
	month = model.MonthStart(month)

	rows := make([][]any, 0, len(cells))
	for _, c := range cells {
		poly, err := geospatial.NewPolygon(c.Boundary)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: cell %s boundary", c.ID)
		}
		ewkb, err := poly.EWKB()
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode cell %s", c.ID)
		}
		stats, err := json.Marshal(c.CategoryCounts)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal cell %s stats", c.ID)
		}
		rows = append(rows, []any{
			model.CellKey(c.ID, month), string(c.ID), month, ewkb, c.TotalCount, c.WeightedCount, string(stats),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin cell upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE _cells_stage (
		key TEXT, cell_id TEXT, month DATE, ewkb BYTEA,
		total_count INTEGER, weighted_count DOUBLE PRECISION, stats TEXT
	) ON COMMIT DROP`); err != nil {
		return 0, eris.Wrap(err, "postgres: create cell staging table")
	}

	if _, err := db.CopyFrom(ctx, tx, "_cells_stage", cellStageColumns, rows); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM saferoute.cells WHERE month = $1`, month); err != nil {
		return 0, eris.Wrap(err, "postgres: clear month cells")
	}

	tag, err := tx.Exec(ctx, `INSERT INTO saferoute.cells (key, cell_id, month, geom, total_count, weighted_count, stats)
SELECT key, cell_id, month, ST_GeomFromEWKB(ewkb), total_count, weighted_count, stats::jsonb FROM _cells_stage`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert cells")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit cell upsert")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteCellsForMonth(ctx context.Context, month time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM saferoute.cells WHERE month = $1`, model.MonthStart(month))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete cells")
	}
	return tag.RowsAffected(), nil
}

var incidentColumns = []string{"id", "category", "month", "lng", "lat", "location_desc", "outcome", "force_id"}

// InsertIncidents loads incidents idempotently. Incidents without an id get a
// random one.
func (s *PostgresStore) InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error) {
	rows := make([][]any, len(incidents))
	for i, inc := range incidents {
		id := inc.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = []any{
			id, inc.Category, model.MonthStart(inc.Month), inc.Location.Lng, inc.Location.Lat,
			inc.LocationDesc, inc.Outcome, inc.ForceID,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "saferoute.incidents",
		Columns:      incidentColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert incidents")
	}
	return n, nil
}

func (s *PostgresStore) IncidentsForMonth(ctx context.Context, month time.Time) ([]model.Incident, error) {
	rows, err := s.pool.Query(ctx, sqlIncidentsForMonth, model.MonthStart(month))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		var inc model.Incident
		if err := rows.Scan(&inc.ID, &inc.Category, &inc.Month, &inc.Location.Lng, &inc.Location.Lat,
			&inc.LocationDesc, &inc.Outcome, &inc.ForceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident")
		}
		inc.Month = model.MonthStart(inc.Month)
		out = append(out, inc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate incidents")
}

func (s *PostgresStore) IncidentMonths(ctx context.Context) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT month FROM saferoute.incidents ORDER BY month`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query incident months")
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var m time.Time
		if err := rows.Scan(&m); err != nil {
			return nil, eris.Wrap(err, "postgres: scan month")
		}
		out = append(out, model.MonthStart(m))
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate months")
}

func (s *PostgresStore) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, harm_weight, is_personal, is_property FROM saferoute.crime_categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query categories")
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.HarmWeight, &c.IsPersonal, &c.IsProperty); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate categories")
}

func (s *PostgresStore) UpsertCategories(ctx context.Context, cats []model.Category) (int64, error) {
	rows := make([][]any, len(cats))
	for i, c := range cats {
		rows[i] = []any{c.ID, c.Name, c.HarmWeight, c.IsPersonal, c.IsProperty}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "saferoute.crime_categories",
		Columns:      []string{"id", "name", "harm_weight", "is_personal", "is_property"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert categories")
	}
	return n, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, months []time.Time) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Months:    monthStrings(months),
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO saferoute.ingestion_runs (id, status, months, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.Months, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.IngestionRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE saferoute.ingestion_runs SET status = $1, records_processed = $2, cells_written = $3, error_message = $4, finished_at = $5 WHERE id = $6`,
		string(run.Status), run.RecordsProcessed, run.CellsWritten, run.ErrorMessage, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.IngestionRun, error) {
	var (
		r      model.IngestionRun
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, status, months, records_processed, cells_written, error_message, started_at, finished_at FROM saferoute.ingestion_runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &status, &r.Months, &r.RecordsProcessed, &r.CellsWritten, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}
