package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "saferoute.db", cfg.Store.SQLitePath)
	assert.Equal(t, 10, cfg.Grid.Resolution)
	assert.Equal(t, 12, cfg.Scoring.LookbackMonths)
	assert.InDelta(t, 50.0, cfg.Scoring.BufferMeters, 1e-9)
	assert.InDelta(t, 100.0, cfg.Scoring.SegmentLengthM, 1e-9)
	assert.InDelta(t, 200.0, cfg.Scoring.MaxSegmentLengthM, 1e-9)
	assert.Equal(t, 200, cfg.Scoring.MaxSegments)
	assert.InDelta(t, 1.5, cfg.Scoring.HotspotMultiplier, 1e-9)
	assert.InDelta(t, 2.0, cfg.Scoring.CriticalMultiplier, 1e-9)
	assert.Equal(t, 4, cfg.Scoring.FetchConcurrency)
	assert.Equal(t, 3600, cfg.Cache.TTLSecs)
	assert.Equal(t, "https://data.police.uk/api", cfg.Ingest.PoliceAPIURL)
	assert.Equal(t, 4, cfg.Ingest.MaxSplitDepth)
	assert.Equal(t, "saferoute.cells.invalidated", cfg.NATS.Subject)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/crime.db
log:
  level: debug
  format: console
server:
  port: 9090
scoring:
  lookback_months: 6
  buffer_meters: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/crime.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Scoring.LookbackMonths)
	assert.InDelta(t, 25.0, cfg.Scoring.BufferMeters, 1e-9)
	// Defaults still apply for unset values
	assert.Equal(t, 200, cfg.Scoring.MaxSegments)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SAFEROUTE_STORE_DRIVER", "postgres")
	t.Setenv("SAFEROUTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SAFEROUTE_SERVER_PORT", "3000")
	t.Setenv("SAFEROUTE_GRID_RESOLUTION", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Grid.Resolution)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "test.db"
	cfg.Grid.Resolution = 10
	cfg.Scoring = ScoringConfig{
		LookbackMonths:     12,
		BufferMeters:       50,
		SegmentLengthM:     100,
		MaxSegmentLengthM:  200,
		MaxSegments:        200,
		HotspotMultiplier:  1.5,
		CriticalMultiplier: 2.0,
		FetchConcurrency:   4,
	}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	for _, mode := range []string{"serve", "score", "ingest"} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/saferoute"
	assert.NoError(t, cfg.Validate("ingest"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Scoring.LookbackMonths = 25
	cfg.Scoring.BufferMeters = -1
	cfg.Grid.Resolution = 16

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "scoring.lookback_months 25 outside 1..24")
	assert.Contains(t, err.Error(), "scoring.buffer_meters must be >= 0")
	assert.Contains(t, err.Error(), "grid.resolution 16")
}

func TestValidate_ScoringIgnoredForIngest(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.FetchConcurrency = 0
	assert.NoError(t, cfg.Validate("ingest"))
	assert.Error(t, cfg.Validate("score"))
}

func TestValidate_HotspotMultipliers(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.CriticalMultiplier = 1.2
	err := cfg.Validate("score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hotspot_multiplier")
}

func TestValidate_NATSSubject(t *testing.T) {
	cfg := validDefaults()
	cfg.NATS.URL = "nats://localhost:4222"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.subject")
}

func TestValidate_IngestSplitDepth(t *testing.T) {
	cfg := validDefaults()
	cfg.Ingest.MaxSplitDepth = -1
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest.max_split_depth")
}
