package linkage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitch/internal/contextual"
	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
	"stitch/internal/shared/testutil"
	"stitch/internal/survey"
	"stitch/internal/tabio"
)

func day(s string) int64 {
	d, ok := frame.ParseDate(s)
	if !ok {
		panic("bad date " + s)
	}
	return d
}

const heatCSV = `Date,GEOID10,HeatIndex
2016-01-01,1001020100,10
2016-01-02,1001020100,11
2016-01-03,1001020100,12
2016-01-01,6037101110,20
2016-01-02,6037101110,21
2016-01-03,6037101110,22
`

func testSurvey(t *testing.T) *survey.Dataset {
	t.Helper()
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{1, 2, 3}, nil),
		frame.NewString("iwdate", []string{"2016-01-03", "2016-01-02", "2016-01-03"}, nil),
		frame.NewString("LINKCEN2010", []string{"1001020100", "6037101110", "9999"}, nil),
	)
	require.NoError(t, err)
	d, err := survey.NewDataset(f, survey.Options{IDColumn: "hhidpn", DateColumn: "iwdate", GeoIDColumn: "LINKCEN2010"})
	require.NoError(t, err)
	return d
}

func testCollection(t *testing.T) *contextual.Collection {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "heat_index_2016.csv"), []byte(heatCSV), 0644))
	c, err := contextual.NewCollection(context.Background(), dir, contextual.CollectionOptions{Measure: "heat_index"})
	require.NoError(t, err)
	return c
}

func TestRequiredYears(t *testing.T) {
	got := RequiredYears(day("2016-01-01"), day("2020-12-31"), 180)
	assert.Equal(t, []int{2015, 2016, 2017, 2018, 2019, 2020}, got)
	assert.Equal(t, []int{2016}, RequiredYears(day("2016-06-01"), day("2016-07-01"), 0))
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "HeatIndex_7day_prior", LagColumn("HeatIndex", 7))
	assert.True(t, IsLagGeoIDColumn("LINKCEN2010_7day_prior", "LINKCEN2010"))
	assert.False(t, IsLagGeoIDColumn("LINKCEN2010", "LINKCEN2010"))
	assert.False(t, IsLagGeoIDColumn("iwdate_7day_prior", "LINKCEN2010"))
	assert.Equal(t, "heat_index_lag_0042.parquet", TempFileName("heat_index", 42, tabio.FormatParquet))

	n, ok := LagNumber("/tmp/x/heat_index_lag_0042.parquet")
	require.True(t, ok)
	assert.Equal(t, 42, n)
	_, ok = LagNumber("notes.txt")
	assert.False(t, ok)

	sorted := SortByLag([]string{"p_lag_0010.csv", "other.csv", "p_lag_0002.csv", "p_lag_0100.csv"})
	assert.Equal(t, []string{"p_lag_0002.csv", "p_lag_0010.csv", "p_lag_0100.csv", "other.csv"}, sorted)
}

type fakeHistory map[string]string

func (h fakeHistory) GeoIDAt(id string, day int64) (string, bool) {
	g, ok := h[id]
	return g, ok
}

func TestDefaultKeyPreparer(t *testing.T) {
	d := testSurvey(t)
	plan, err := DefaultKeyPreparer{}.Prepare(context.Background(), d, []int{0, 2}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hhidpn", "iwdate_0day_prior", "LINKCEN2010_0day_prior", "iwdate_2day_prior", "LINKCEN2010_2day_prior"}, plan.Frame.Names())

	dates, ids, err := plan.Keys(2)
	require.NoError(t, err)
	assert.Equal(t, day("2016-01-01"), dates.Int[0])
	assert.Equal(t, "01001020100", ids.Str[0])

	_, _, err = plan.Keys(9)
	assert.Error(t, err)

	set := UniqueGeoIDs(plan)
	assert.Equal(t, []string{"00000009999", "01001020100", "06037101110"}, set.Sorted())

	moved := d.WithHistory(fakeHistory{"2": "17031010100"})
	plan, err = DefaultKeyPreparer{}.Prepare(context.Background(), moved, []int{0}, "")
	require.NoError(t, err)
	_, ids, err = plan.Keys(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001020100", "17031010100", "00000009999"}, ids.Str)
}

func buildTable(t *testing.T, c *contextual.Collection) *ContextTable {
	t.Helper()
	require.NoError(t, c.Preload(context.Background(), []int{2016}))
	table, err := NewContextTable(c.Frames([]int{2016}), c.DateColumn(), c.GeoIDColumn(), c.DataColumns())
	require.NoError(t, err)
	return table
}

func TestHashJoiner(t *testing.T) {
	d := testSurvey(t)
	table := buildTable(t, testCollection(t))
	plan, err := DefaultKeyPreparer{}.Prepare(context.Background(), d, []int{1, 5}, "")
	require.NoError(t, err)

	out, err := HashJoiner{}.Join(context.Background(), plan, 1, table, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"hhidpn", "HeatIndex_1day_prior"}, out.Names())
	vals, _ := out.Column("HeatIndex_1day_prior")
	assert.Equal(t, 11.0, vals.Float[0])
	assert.Equal(t, 20.0, vals.Float[1])
	assert.True(t, vals.IsNull(2))

	withKeys, err := HashJoiner{}.Join(context.Background(), plan, 1, table, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hhidpn", "iwdate_1day_prior", "LINKCEN2010_1day_prior", "HeatIndex_1day_prior"}, withKeys.Names())

	empty, err := HashJoiner{}.Join(context.Background(), plan, 5, table, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hhidpn"}, empty.Names())
}

func TestContextTableRejectsCrossYearDuplicates(t *testing.T) {
	part := func() *frame.Frame {
		f, err := frame.New(
			frame.NewDate("Date", []int64{day("2016-01-01")}, nil),
			frame.NewString("GEOID10", []string{"01001020100"}, nil),
			frame.NewFloat("HeatIndex", frame.Float32, []float64{1}, nil),
		)
		require.NoError(t, err)
		return f
	}
	_, err := NewContextTable([]*frame.Frame{part(), part()}, "Date", "GEOID10", []string{"HeatIndex"})
	var dup *apperrors.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, 2, dup.Rows)
	assert.Equal(t, 1, dup.Pairs)

	empty, err := NewContextTable(nil, "Date", "GEOID10", []string{"HeatIndex"})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

type fakeProbe struct {
	avail uint64
	err   error
}

func (p fakeProbe) AvailableBytes() (uint64, error) { return p.avail, p.err }

func TestWorkerCount(t *testing.T) {
	minInt := func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}
	assert.Equal(t, 5, WorkerCount(5, fakeProbe{}, 0, nil))
	assert.Equal(t, DefaultWorkers(), WorkerCount(0, nil, 0, nil))
	assert.Equal(t, DefaultWorkers(), WorkerCount(0, fakeProbe{err: errors.New("no meminfo")}, 0, nil))
	assert.Equal(t, 1, WorkerCount(0, fakeProbe{avail: 2 << 30}, 0, nil))
	assert.Equal(t, 1, WorkerCount(0, fakeProbe{avail: 10 << 30}, 6<<30, nil))
	assert.Equal(t, minInt(3, runtime.NumCPU()), WorkerCount(0, fakeProbe{avail: 10 << 30}, 0, nil))
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	s := NewScheduler(3, nil)
	var done int
	results := s.Run(context.Background(), []int{4, 0, 3, 1, 2}, func(ctx context.Context, lag int) (string, error) {
		switch lag {
		case 2:
			panic("boom")
		case 3:
			return "", errors.New("write failed")
		case 4:
			return "", nil
		}
		return "file", nil
	}, func(LagResult) { done++ })

	require.Len(t, results, 5)
	assert.Equal(t, 5, done)
	for i, r := range results {
		assert.Equal(t, i, r.Lag)
	}
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "file", results[1].Path)
	assert.True(t, apperrors.IsType(results[2].Err, apperrors.ErrTypeLagJoin))
	assert.Contains(t, results[2].Err.Error(), "lag 2")
	assert.True(t, apperrors.IsType(results[3].Err, apperrors.ErrTypeLagJoin))
	assert.True(t, results[4].Skipped)
}

func TestSchedulerCallsOnDoneSerially(t *testing.T) {
	var inside, overlaps atomic.Int32
	var order []int
	lags := []int{0, 1, 2, 3, 4, 5, 6, 7}
	NewScheduler(4, nil).Run(context.Background(), lags, func(context.Context, int) (string, error) {
		return "file", nil
	}, func(r LagResult) {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
		order = append(order, r.Lag)
		time.Sleep(time.Millisecond)
		inside.Add(-1)
	})

	assert.Zero(t, overlaps.Load())
	assert.ElementsMatch(t, lags, order)
}

func TestSchedulerLogsFailedLags(t *testing.T) {
	logger, logs := testutil.NewTestLogger(nil)
	s := NewScheduler(2, logger)
	s.Run(context.Background(), []int{0, 1, 2}, func(ctx context.Context, lag int) (string, error) {
		if lag == 1 {
			return "", errors.New("disk full")
		}
		return "file", nil
	}, nil)

	failed := logs.Find("Lag failed")
	require.Len(t, failed, 1)
	assert.Equal(t, slog.LevelError, failed[0].Level)
	assert.EqualValues(t, 1, failed[0].Attrs["lag"])
	assert.Contains(t, failed[0].Attrs["error"], "disk full")
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := NewScheduler(2, nil).Run(ctx, []int{0, 1, 2}, func(context.Context, int) (string, error) {
		return "x", nil
	}, nil)
	assert.Empty(t, results)
}

func runBatch(t *testing.T, parallel bool) (*BatchResult, *frame.Frame) {
	t.Helper()
	d := testSurvey(t)
	o := NewOrchestrator(nil)
	o.Probe = fakeProbe{avail: 64 << 30}
	metrics, err := NewMetrics()
	require.NoError(t, err)
	o.Metrics = metrics

	tempDir := filepath.Join(t.TempDir(), "temp_lag_files")
	res, err := o.Run(context.Background(), BatchRequest{
		Survey:   d,
		Context:  testCollection(t),
		Lags:     []int{0, 1, 2, 5},
		TempDir:  tempDir,
		Prefix:   "heat_index",
		Parallel: parallel,
	})
	require.NoError(t, err)

	merged, err := Finalize(context.Background(), FinalizeRequest{Survey: d, Files: res.Files, Prefix: "heat_index"})
	require.NoError(t, err)
	return res, merged
}

func TestOrchestratorSequential(t *testing.T) {
	res, merged := runBatch(t, false)
	assert.Equal(t, 4, res.Requested)
	assert.Len(t, res.Files, 3)
	assert.Equal(t, []int{5}, res.Skipped)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []int{2016}, res.Years)
	assert.Equal(t, 1, res.Workers)
	assert.Contains(t, res.Describe(), "3 of 4 lags written")

	for _, p := range res.Files {
		assert.FileExists(t, p)
	}
	assert.NoFileExists(t, filepath.Join(filepath.Dir(res.Files[0]), "heat_index_lag_0005.parquet"))

	assert.Equal(t, []string{"hhidpn", "iwdate", "LINKCEN2010",
		"HeatIndex_0day_prior", "HeatIndex_1day_prior", "HeatIndex_2day_prior"}, merged.Names())
	geo, _ := merged.Column("LINKCEN2010")
	assert.Equal(t, []string{"01001020100", "06037101110", "00000009999"}, geo.Str)
	lag1, _ := merged.Column("HeatIndex_1day_prior")
	assert.Equal(t, 11.0, lag1.Float[0])
	assert.Equal(t, 20.0, lag1.Float[1])
	assert.True(t, lag1.IsNull(2))
}

func TestParallelMatchesSequential(t *testing.T) {
	_, seq := runBatch(t, false)
	res, par := runBatch(t, true)
	assert.GreaterOrEqual(t, res.Workers, 1)

	dir := t.TempDir()
	seqPath := filepath.Join(dir, "seq.csv")
	parPath := filepath.Join(dir, "par.csv")
	require.NoError(t, tabio.Write(seq, seqPath))
	require.NoError(t, tabio.Write(par, parPath))

	a, err := os.ReadFile(seqPath)
	require.NoError(t, err)
	b, err := os.ReadFile(parPath)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestOrchestratorNoOverlap(t *testing.T) {
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{1}, nil),
		frame.NewString("iwdate", []string{"2010-05-01"}, nil),
		frame.NewString("LINKCEN2010", []string{"1001020100"}, nil),
	)
	require.NoError(t, err)
	d, err := survey.NewDataset(f, survey.Options{IDColumn: "hhidpn", DateColumn: "iwdate", GeoIDColumn: "LINKCEN2010"})
	require.NoError(t, err)

	res, err := NewOrchestrator(nil).Run(context.Background(), BatchRequest{
		Survey:  d,
		Context: testCollection(t),
		Lags:    []int{0, 1},
		TempDir: t.TempDir(),
		Prefix:  "heat_index",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.Equal(t, []int{0, 1}, res.Skipped)
	assert.Empty(t, res.Years)
}

func TestOrchestratorRejectsStataTemp(t *testing.T) {
	_, err := NewOrchestrator(nil).Run(context.Background(), BatchRequest{
		Survey: testSurvey(t),
		Lags:   []int{0},
		Format: tabio.FormatStata,
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestFinalizeRejectsReorderedFile(t *testing.T) {
	d := testSurvey(t)
	dir := t.TempDir()
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{2, 1, 3}, nil),
		frame.NewFloat("HeatIndex_0day_prior", frame.Float32, []float64{1, 2, 3}, nil),
	)
	require.NoError(t, err)
	path := filepath.Join(dir, "heat_index_lag_0000.parquet")
	require.NoError(t, tabio.Write(f, path))

	_, err = Finalize(context.Background(), FinalizeRequest{Survey: d, Files: []string{path}, Prefix: "heat_index"})
	var ra *apperrors.RowAlignmentError
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, 0, ra.Row)
	assert.Equal(t, "1", ra.Expected)
	assert.Equal(t, "2", ra.Got)
}

func TestFinalizeRejectsShortFile(t *testing.T) {
	d := testSurvey(t)
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{1, 2}, nil),
		frame.NewFloat("HeatIndex_0day_prior", frame.Float32, []float64{1, 2}, nil),
	)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "heat_index_lag_0000.csv")
	require.NoError(t, tabio.Write(f, path))

	_, err = Finalize(context.Background(), FinalizeRequest{Survey: d, Files: []string{path}, Prefix: "heat_index"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRowAlignment))
}

func TestFinalizeIgnoresOtherPrefixes(t *testing.T) {
	d := testSurvey(t)
	merged, err := Finalize(context.Background(), FinalizeRequest{
		Survey: d,
		Files:  []string{"/nowhere/pm25_lag_0000.parquet"},
		Prefix: "heat_index",
	})
	require.NoError(t, err)
	assert.Equal(t, d.Frame().Names(), merged.Names())
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordLag(context.Background(), LagResult{Lag: 1, Duration: time.Second})
	m.RecordMatches(context.Background(), 3)
	m.RecordContext(context.Background(), 10, 2)
	_, span := m.StartSpan(context.Background(), "x")
	EndSpan(span, time.Now(), nil)
}
