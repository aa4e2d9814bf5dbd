package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitch/internal/config"
	apperrors "stitch/internal/errors"
	"stitch/internal/linkage"
	"stitch/internal/shared/testutil"
	"stitch/internal/tabio"
)

const heatCSV = `Date,GEOID10,HeatIndex
2016-01-01,1001020100,10
2016-01-02,1001020100,11
2016-01-03,1001020100,12
2016-01-01,6037101110,20
2016-01-02,6037101110,21
2016-01-03,6037101110,22
`

const surveyCSV = `hhidpn,iwdate,LINKCEN2010
1,2016-01-03,1001020100
2,2016-01-02,6037101110
3,2016-01-03,9999
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig writes a survey and one year of heat index data and returns
// a configuration linking three lags with telemetry off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	ctxDir := filepath.Join(root, "context")
	require.NoError(t, os.MkdirAll(ctxDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ctxDir, "heat_index_2016.csv"), []byte(heatCSV), 0644))
	surveyPath := filepath.Join(root, "survey.csv")
	require.NoError(t, os.WriteFile(surveyPath, []byte(surveyCSV), 0644))

	cfg := config.Default()
	cfg.Link.SurveyPath = surveyPath
	cfg.Link.ContextDir = ctxDir
	cfg.Link.SaveDir = filepath.Join(root, "out")
	cfg.Link.OutputName = "linked.csv"
	cfg.Link.IDColumn = "hhidpn"
	cfg.Link.DateColumn = "iwdate"
	cfg.Link.MeasureType = "heat_index"
	cfg.Link.NLags = 3
	cfg.Telemetry.Metrics = false
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := New(cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestRunWritesLinkedOutput(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Batch.Requested)
	assert.Len(t, summary.Batch.Files, 3)
	assert.Empty(t, summary.Batch.Failed)
	assert.Equal(t, 3, summary.Rows)
	assert.FileExists(t, summary.OutputPath)
	assert.NoDirExists(t, a.Paths.TempDir)

	out, err := tabio.Read(context.Background(), summary.OutputPath, tabio.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
	for _, name := range []string{"hhidpn", "iwdate", "LINKCEN2010", "HeatIndex_0day_prior", "HeatIndex_1day_prior", "HeatIndex_2day_prior"} {
		assert.True(t, out.Has(name), "missing column %s", name)
	}

	runID, snap, ok := a.Board.Current()
	require.True(t, ok)
	assert.Equal(t, summary.RunID, runID)
	assert.Equal(t, "finalize", snap.Step)
	assert.True(t, snap.Complete)
}

func TestRunKeepTemp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Link.KeepTemp = true
	cfg.Link.TempFormat = "csv"
	a := newTestApp(t, cfg)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"heat_index_lag_0000.csv", "heat_index_lag_0001.csv", "heat_index_lag_0002.csv"} {
		assert.FileExists(t, filepath.Join(a.Paths.TempDir, name))
	}
	assert.Len(t, summary.Batch.Files, 3)
}

func TestRunParquetWithLagDates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Link.TempFormat = "parquet"
	cfg.Link.OutputName = "linked.parquet"
	cfg.Link.IncludeLagDate = true
	a := newTestApp(t, cfg)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Batch.Failed)
	assert.NoDirExists(t, a.Paths.TempDir)

	out, err := tabio.Read(context.Background(), summary.OutputPath, tabio.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, out.NumRows())
	for n := 0; n < 3; n++ {
		for _, base := range []string{"iwdate", "LINKCEN2010", "HeatIndex"} {
			name := linkage.LagColumn(base, n)
			assert.True(t, out.Has(name), "missing column %s", name)
		}
	}

	heat, _ := out.Column("HeatIndex_1day_prior")
	assert.Equal(t, []string{"11", "20", ""}, heat.Strings())
	geoid, _ := out.Column("LINKCEN2010")
	lagGeoid, _ := out.Column("LINKCEN2010_1day_prior")
	assert.Equal(t, geoid.Format(0), lagGeoid.Format(0))
	survDate, _ := out.Column("iwdate")
	lagDate, _ := out.Column("iwdate_0day_prior")
	assert.Equal(t, survDate.Format(1), lagDate.Format(1))
}

func TestRunCleansOnlyItsTempFiles(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	require.NoError(t, os.MkdirAll(a.Paths.TempDir, 0755))
	other := filepath.Join(a.Paths.TempDir, "pm25_lag_0000.parquet")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, other)
	for _, path := range summary.Batch.Files {
		assert.NoFileExists(t, path)
	}
}

func TestRunLogsTraceID(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Tracing = true
	logger, logs := testutil.NewTestLogger(nil)
	a, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.Run(context.Background())
	require.NoError(t, err)

	started := logs.Find("Linkage starting")
	require.Len(t, started, 1)
	assert.Equal(t, "app", started[0].Attrs["component"])
	assert.NotEmpty(t, started[0].Attrs["trace_id"])
}

func TestRunParallelMatchesSequential(t *testing.T) {
	read := func(parallel bool) string {
		cfg := testConfig(t)
		cfg.Link.Parallel = parallel
		cfg.Link.MaxWorkers = 2
		a := newTestApp(t, cfg)
		summary, err := a.Run(context.Background())
		require.NoError(t, err)
		data, err := os.ReadFile(summary.OutputPath)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, read(false), read(true))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		errType apperrors.ErrorType
	}{
		{
			name:    "missing survey",
			mutate:  func(c *config.Config) { c.Link.SurveyPath = filepath.Join(c.Link.ContextDir, "nope.csv") },
			errType: apperrors.ErrTypeNotFound,
		},
		{
			name:    "stata output",
			mutate:  func(c *config.Config) { c.Link.OutputName = "linked.dta" },
			errType: apperrors.ErrTypeConfig,
		},
		{
			name:    "no measure",
			mutate:  func(c *config.Config) { c.Link.MeasureType = "" },
			errType: apperrors.ErrTypeConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, discard())
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx)
	require.Error(t, err)
	assert.NoFileExists(t, a.Paths.OutputPath)
}

func TestInspect(t *testing.T) {
	cfg := testConfig(t)

	inv, err := Inspect(context.Background(), cfg.Link, discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"HeatIndex"}, inv.DataColumns)
	assert.Equal(t, "Date", inv.DateColumn)
	assert.Equal(t, "GEOID10", inv.GeoIDColumn)
	require.Len(t, inv.Years, 1)
	assert.Equal(t, 2016, inv.Years[0].Year)
	assert.Equal(t, "heat_index_2016.csv", filepath.Base(inv.Years[0].Path))

	cfg.Link.ContextDir = ""
	_, err = Inspect(context.Background(), cfg.Link, discard())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}
