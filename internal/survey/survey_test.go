package survey

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

func day(s string) int64 {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return frame.DayOf(t)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.csv")
	body := "hhidpn,iwdate,LINKCEN2010,age\n" +
		"10001,2016-03-01,1001020100,70\n" +
		"10002,2016-05-10,6037101110,65\n" +
		"10003,,6037101110,80\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	d, err := Load(context.Background(), path, Options{IDColumn: "hhidpn", DateColumn: "iwdate", GeoIDColumn: "LINKCEN2010"})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"hhidpn", "iwdate", "LINKCEN2010", "age"}, d.Frame().Names())

	geo, _ := d.Frame().Column("LINKCEN2010")
	assert.Equal(t, []string{"01001020100", "06037101110", "06037101110"}, geo.Str)

	dates, _ := d.Frame().Column("iwdate")
	assert.Equal(t, frame.Date, dates.Kind)
	assert.True(t, dates.IsNull(2))

	lo, hi, ok := d.DateRange()
	require.True(t, ok)
	assert.Equal(t, day("2016-03-01"), lo)
	assert.Equal(t, day("2016-05-10"), hi)
	assert.Nil(t, d.History())
}

func TestLoadMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.csv")
	require.NoError(t, os.WriteFile(path, []byte("hhidpn,iwdate\n1,2016-01-01\n"), 0644))

	_, err := Load(context.Background(), path, Options{IDColumn: "hhidpn", DateColumn: "iwdate", GeoIDColumn: "LINKCEN2010"})
	var mc *apperrors.MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, path, mc.Files[0].Path)
	assert.Equal(t, []string{"LINKCEN2010"}, mc.Files[0].Missing)
}

func TestDateRangeAllMissing(t *testing.T) {
	f, err := frame.New(
		frame.NewString("id", []string{"a"}, nil),
		frame.NewString("d", []string{""}, []bool{true}),
		frame.NewString("g", []string{"1"}, nil),
	)
	require.NoError(t, err)
	d, err := NewDataset(f, Options{IDColumn: "id", DateColumn: "d", GeoIDColumn: "g"})
	require.NoError(t, err)
	_, _, ok := d.DateRange()
	assert.False(t, ok)
}

func historyFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{1, 1, 1, 2, 3}, nil),
		frame.NewString("trmove_tr", []string{"0. no move", "1. move", "1. move", "0. no move", "1. move"}, nil),
		frame.NewFloat("mvyear", frame.Float64, []float64{0, 2015, 2016, 0, 0}, []bool{true, false, false, true, true}),
		frame.NewFloat("mvmonth", frame.Float64, []float64{0, 6, 0, 0, 0}, []bool{true, false, true, true, true}),
		frame.NewString("LINKCEN2010", []string{"1001020100", "1001020200", "1001020300", "6037101110", "6037101120"}, nil),
		frame.NewFloat("year", frame.Float64, []float64{999, 2016, 2018, 999, 2016}, nil),
	)
	require.NoError(t, err)
	return f
}

func TestResidentialHistory(t *testing.T) {
	h, err := NewResidentialHistory(historyFrame(t), DefaultHistoryOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, h.Subjects())

	tests := []struct {
		name   string
		id     string
		day    int64
		want   string
		wantOK bool
	}{
		{name: "before first move", id: "1", day: day("2015-05-31"), want: "01001020100", wantOK: true},
		{name: "first move day", id: "1", day: day("2015-06-01"), want: "01001020200", wantOK: true},
		{name: "move without month", id: "1", day: day("2016-01-01"), want: "01001020300", wantOK: true},
		{name: "never moved", id: "2", day: day("2020-01-01"), want: "06037101110", wantOK: true},
		{name: "undated move ignored", id: "3", day: day("2020-01-01")},
		{name: "unknown subject", id: "9", day: day("2020-01-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.GeoIDAt(tt.id, tt.day)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResidentialHistoryMissingColumn(t *testing.T) {
	opts := DefaultHistoryOptions()
	opts.MoveColumn = "moved"
	_, err := NewResidentialHistory(historyFrame(t), opts)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeMissingCol))
}

func TestWithHistory(t *testing.T) {
	f, err := frame.New(
		frame.NewInt64("hhidpn", []int64{1}, nil),
		frame.NewString("iwdate", []string{"2016-01-01"}, nil),
		frame.NewString("LINKCEN2010", []string{"1001020100"}, nil),
	)
	require.NoError(t, err)
	d, err := NewDataset(f, Options{IDColumn: "hhidpn", DateColumn: "iwdate", GeoIDColumn: "LINKCEN2010"})
	require.NoError(t, err)
	h, err := NewResidentialHistory(historyFrame(t), DefaultHistoryOptions())
	require.NoError(t, err)

	linked := d.WithHistory(h)
	assert.NotNil(t, linked.History())
	assert.Nil(t, d.History())
}
