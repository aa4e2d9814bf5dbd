package tabio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

func sampleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	d, ok := frame.ParseDate("2016-03-01")
	require.True(t, ok)
	f, err := frame.New(
		frame.NewDate("Date", []int64{d, d + 1, d + 2}, nil),
		frame.NewString("GEOID10", []string{"01001020100", "01001020200", "01001020300"}, nil),
		frame.NewFloat("tmmx", frame.Float32, []float64{30.5, 0, 28.25}, []bool{false, true, false}),
		frame.NewInt64("n", []int64{1, 2, 3}, nil),
	)
	require.NoError(t, err)
	return f
}

func writeText(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a/tmmx_2016.csv", FormatCSV},
		{"tmmx_2016.CSV", FormatCSV},
		{"x.dta", FormatStata},
		{"x.parquet", FormatParquet},
		{"x.pq", FormatParquet},
		{"x.feather", FormatFeather},
		{"x.xlsx", FormatExcel},
		{"x.xls", FormatExcel},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DetectFormat("notes.txt")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Parquet")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)
	assert.Equal(t, ".parquet", f.Extension())

	_, err = ParseFormat("sas7bdat")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	types := map[string]frame.Kind{"Date": frame.Date, "GEOID10": frame.String, "tmmx": frame.Float32, "n": frame.Int64}

	for _, ext := range []string{".csv", ".parquet", ".feather", ".xlsx"} {
		t.Run(ext, func(t *testing.T) {
			src := sampleFrame(t)
			path := filepath.Join(t.TempDir(), "out"+ext)
			require.NoError(t, Write(src, path))

			names, err := ReadHeader(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, []string{"Date", "GEOID10", "tmmx", "n"}, names)

			got, err := Read(ctx, path, ReadOptions{Types: types})
			require.NoError(t, err)
			require.Equal(t, 3, got.NumRows())
			for _, name := range src.Names() {
				want, _ := src.Column(name)
				have, ok := got.Column(name)
				require.True(t, ok, name)
				assert.Equal(t, want.Kind, have.Kind, name)
				assert.Equal(t, want.Strings(), have.Strings(), name)
			}
		})
	}
}

func TestWriteRejectsStata(t *testing.T) {
	err := Write(sampleFrame(t), filepath.Join(t.TempDir(), "out.dta"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestLegacyExcelRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeText(t, dir, "old.xls", "not a workbook")
	_, err := Read(context.Background(), path, ReadOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

const longCSV = `Date,GEOID10,tmmx
2016-01-01,1001020100,1.5
2016-01-01,1001020200,2.5
2016-01-02,1001020100,3.5
2016-01-02,1001020200,NA
2016-01-03,1001020100,5.5
`

func TestCSVEngines(t *testing.T) {
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", longCSV)
	types := map[string]frame.Kind{"Date": frame.String, "GEOID10": frame.String, "tmmx": frame.Float64}

	for _, engine := range []Engine{EngineArrow, EngineStandard} {
		t.Run(string(engine), func(t *testing.T) {
			got, err := Read(context.Background(), path, ReadOptions{
				Types:   types,
				Engines: []Engine{engine},
				Columns: []string{"GEOID10", "tmmx"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"GEOID10", "tmmx"}, got.Names())
			g, _ := got.Column("GEOID10")
			assert.Equal(t, "1001020100", g.Format(0))
			v, _ := got.Column("tmmx")
			assert.Equal(t, []string{"1.5", "2.5", "3.5", "", "5.5"}, v.Strings())
		})
	}
}

func TestCSVEngineFallback(t *testing.T) {
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", longCSV)
	got, err := Read(context.Background(), path, ReadOptions{Engines: []Engine{"bogus", EngineStandard}})
	require.NoError(t, err)
	assert.Equal(t, 5, got.NumRows())

	_, err = Read(context.Background(), path, ReadOptions{Engines: []Engine{"bogus"}})
	assert.Error(t, err)
}

func TestStreamStatsCountOnlyWinningEngine(t *testing.T) {
	// The last row is short: the arrow engine rejects it after handing two
	// chunks to fn, the standard engine pads it.
	body := "Date,GEOID10,tmmx\n" +
		"2016-01-01,1001020100,1.5\n" +
		"2016-01-01,1001020200,2.5\n" +
		"2016-01-02,1001020100,3.5\n" +
		"2016-01-02,1001020200,4.5\n" +
		"2016-01-03,1001020100\n"
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", body)

	seen := 0
	count := func(chunk *frame.Frame) (*frame.Frame, error) {
		seen += chunk.NumRows()
		return chunk, nil
	}
	got, stats, err := StreamWithStats(context.Background(), path, ReadOptions{
		Types:     map[string]frame.Kind{"Date": frame.String, "GEOID10": frame.String, "tmmx": frame.Float64},
		ChunkRows: 2,
	}, count)
	require.NoError(t, err)
	assert.Equal(t, 5, got.NumRows())
	assert.Equal(t, EngineStandard, stats.Engine)
	assert.Equal(t, 5, stats.SourceRows)
	assert.Greater(t, seen, stats.SourceRows)
}

func TestStreamStatsNonCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.parquet")
	require.NoError(t, Write(sampleFrame(t), path))

	_, stats, err := StreamWithStats(context.Background(), path, ReadOptions{ChunkRows: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SourceRows)
	assert.Empty(t, stats.Engine)
}

func TestStreamFiltersChunks(t *testing.T) {
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", longCSV)
	var chunks int
	keep := func(chunk *frame.Frame) (*frame.Frame, error) {
		chunks++
		g, _ := chunk.Column("GEOID10")
		mask := make([]bool, chunk.NumRows())
		for i := range mask {
			mask[i] = g.Format(i) == "1001020200"
		}
		return chunk.Filter(mask), nil
	}

	got, err := Stream(context.Background(), path, ReadOptions{
		Types:     map[string]frame.Kind{"GEOID10": frame.String},
		Engines:   []Engine{EngineStandard},
		ChunkRows: 2,
	}, keep)
	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
	assert.Equal(t, 2, got.NumRows())
	assert.Equal(t, []string{"Date", "GEOID10", "tmmx"}, got.Names())
}

func TestStreamAllFilteredKeepsSchema(t *testing.T) {
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", longCSV)
	none := func(chunk *frame.Frame) (*frame.Frame, error) {
		return chunk.Filter(make([]bool, chunk.NumRows())), nil
	}
	got, err := Stream(context.Background(), path, ReadOptions{Engines: []Engine{EngineStandard}}, none)
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumRows())
	assert.Equal(t, []string{"Date", "GEOID10", "tmmx"}, got.Names())
}

func TestHeaderOnlyCSV(t *testing.T) {
	path := writeText(t, t.TempDir(), "empty.csv", "Date,GEOID10,tmmx\n")
	got, err := Read(context.Background(), path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumRows())
	assert.Equal(t, []string{"Date", "GEOID10", "tmmx"}, got.Names())
}

func TestReadMissingColumn(t *testing.T) {
	path := writeText(t, t.TempDir(), "tmmx_2016.csv", longCSV)
	_, err := Read(context.Background(), path, ReadOptions{Columns: []string{"Tmax"}})
	assert.Error(t, err)
}

func TestParquetColumnSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.parquet")
	require.NoError(t, Write(sampleFrame(t), path))

	got, err := Read(context.Background(), path, ReadOptions{Columns: []string{"tmmx", "GEOID10"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"tmmx", "GEOID10"}, got.Names())

	_, err = Read(context.Background(), path, ReadOptions{Columns: []string{"nope"}})
	assert.Error(t, err)
}
