package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"migrate", "categories", "grid", "score", "snapshot", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "saferoute", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGridCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range gridCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"build", "fetch", "rebuild"} {
		assert.True(t, names[name], "expected grid subcommand %q not found", name)
	}
}

func TestCommandFlags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)

	flag = gridRebuildCmd.Flags().Lookup("months")
	require.NotNil(t, flag)
	assert.Equal(t, "12", flag.DefValue)

	flag = gridBuildCmd.Flags().Lookup("csv")
	require.NotNil(t, flag)

	flag = scoreCmd.Flags().Lookup("geojson")
	require.NotNil(t, flag)

	flag = snapshotCmd.Flags().Lookup("bbox")
	require.NotNil(t, flag)

	flag = categoriesSeedCmd.Flags().Lookup("file")
	require.NotNil(t, flag)
}

func TestRecentMonths(t *testing.T) {
	got := recentMonths(time.Date(2024, time.February, 17, 0, 0, 0, 0, time.UTC), 3)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), got[1])
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), got[2])
}

func TestLastN(t *testing.T) {
	m := func(mo time.Month) time.Time { return time.Date(2024, mo, 1, 0, 0, 0, 0, time.UTC) }
	months := []time.Time{m(1), m(2), m(3)}
	assert.Equal(t, []time.Time{m(2), m(3)}, lastN(months, 2))
	assert.Equal(t, months, lastN(months, 5))
	assert.Empty(t, lastN(nil, 3))
}

func TestRouteFromGeoJSON(t *testing.T) {
	want := []model.Point{{Lng: -1.40, Lat: 50.90}, {Lng: -1.39, Lat: 50.91}}
	line := `{"type":"LineString","coordinates":[[-1.40,50.90],[-1.39,50.91]]}`

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"geometry", line, false},
		{"feature", `{"type":"Feature","properties":{},"geometry":` + line + `}`, false},
		{"collection", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":` + line + `}]}`, false},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`, true},
		{"null geometry", `{"type":"Feature","geometry":null}`, true},
		{"point", `{"type":"Point","coordinates":[-1.4,50.9]}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := routeFromGeoJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
