package survey

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/tabio"
)

// HistoryOptions names the residential history columns and markers.
type HistoryOptions struct {
	IDColumn         string       `yaml:"id_column" validate:"required"`
	MoveColumn       string       `yaml:"move_column" validate:"required"`
	MoveYearColumn   string       `yaml:"move_year_column" validate:"required"`
	MoveMonthColumn  string       `yaml:"move_month_column" validate:"required"`
	MovedMark        string       `yaml:"moved_mark" validate:"required"`
	GeoIDColumn      string       `yaml:"geoid_column" validate:"required"`
	SurveyYearColumn string       `yaml:"survey_year_column" validate:"required"`
	FirstTractMark   float64      `yaml:"first_tract_mark"`
	Logger           *slog.Logger `yaml:"-"`
}

// DefaultHistoryOptions returns the column names used by the HRS tract
// history files.
func DefaultHistoryOptions() HistoryOptions {
	return HistoryOptions{
		IDColumn:         "hhidpn",
		MoveColumn:       "trmove_tr",
		MoveYearColumn:   "mvyear",
		MoveMonthColumn:  "mvmonth",
		MovedMark:        "1. move",
		GeoIDColumn:      "LINKCEN2010",
		SurveyYearColumn: "year",
		FirstTractMark:   999,
	}
}

// residence is one tract a subject lived in from start onwards.
type residence struct {
	start int64
	geoid string
}

// ResidentialHistory resolves the tract a subject lived in on a given
// day. Each subject has a first tract, marked by FirstTractMark in the
// survey year column, and zero or more moves dated by move year and
// month. A move takes effect on the first day of its month; a move with
// no month takes effect on January 1.
type ResidentialHistory struct {
	spells map[string][]residence
}

// NewResidentialHistory builds a history from an in-memory frame.
func NewResidentialHistory(f *frame.Frame, opts HistoryOptions) (*ResidentialHistory, error) {
	required := []string{opts.IDColumn, opts.MoveColumn, opts.MoveYearColumn,
		opts.MoveMonthColumn, opts.GeoIDColumn, opts.SurveyYearColumn}
	if missing := f.Missing(required...); len(missing) > 0 {
		mc := &apperrors.MissingColumnError{}
		mc.Add("residential history", missing, f.Names())
		return nil, mc
	}
	col := func(name string) *frame.Column {
		c, _ := f.Column(name)
		return c
	}
	ids := col(opts.IDColumn)
	moves := col(opts.MoveColumn)
	years := col(opts.MoveYearColumn)
	months := col(opts.MoveMonthColumn)
	tracts := geoid.PadColumn(col(opts.GeoIDColumn))
	surveyYears := col(opts.SurveyYearColumn).Convert(frame.Float64)
	mark := strings.TrimSpace(opts.MovedMark)

	h := &ResidentialHistory{spells: make(map[string][]residence)}
	for i := 0; i < f.NumRows(); i++ {
		if ids.IsNull(i) || tracts.IsNull(i) || tracts.Str[i] == "" {
			continue
		}
		id := ids.Format(i)
		switch {
		case !surveyYears.IsNull(i) && surveyYears.Float[i] == opts.FirstTractMark:
			h.spells[id] = append(h.spells[id], residence{start: math.MinInt64, geoid: tracts.Str[i]})
		case strings.TrimSpace(moves.Format(i)) == mark:
			year, ok := intValue(years, i)
			if !ok {
				continue
			}
			month, ok := intValue(months, i)
			if !ok || month < 1 || month > 12 {
				month = 1
			}
			start := frame.DayOf(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
			h.spells[id] = append(h.spells[id], residence{start: start, geoid: tracts.Str[i]})
		}
	}
	for id, spells := range h.spells {
		sort.SliceStable(spells, func(a, b int) bool { return spells[a].start < spells[b].start })
		h.spells[id] = spells
	}
	return h, nil
}

// LoadResidentialHistory reads a residential history file.
func LoadResidentialHistory(ctx context.Context, path string, opts HistoryOptions) (*ResidentialHistory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f, err := tabio.Read(ctx, path, tabio.ReadOptions{
		Types: map[string]frame.Kind{
			opts.GeoIDColumn: frame.String,
			opts.MoveColumn:  frame.String,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load residential history: %w", err)
	}
	h, err := NewResidentialHistory(f, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded residential history",
		slog.String("component", "survey"),
		slog.String("path", path),
		slog.Int("rows", f.NumRows()),
		slog.Int("subjects", h.Subjects()))
	return h, nil
}

// GeoIDAt returns the tract id lived in on day: the latest residence that
// started on or before day.
func (h *ResidentialHistory) GeoIDAt(id string, day int64) (string, bool) {
	spells := h.spells[id]
	i := sort.Search(len(spells), func(i int) bool { return spells[i].start > day })
	if i == 0 {
		return "", false
	}
	return spells[i-1].geoid, true
}

// Subjects returns the number of subjects with at least one residence.
func (h *ResidentialHistory) Subjects() int { return len(h.spells) }

func intValue(c *frame.Column, i int) (int, bool) {
	if c.IsNull(i) {
		return 0, false
	}
	switch c.Kind {
	case frame.Int64:
		return int(c.Int[i]), true
	case frame.Float64, frame.Float32:
		v := c.Float[i]
		if math.IsNaN(v) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	}
	v, err := strconv.Atoi(strings.TrimSpace(c.Format(i)))
	if err != nil {
		return 0, false
	}
	return v, true
}
