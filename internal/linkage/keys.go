package linkage

import (
	"context"
	"fmt"

	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/survey"
)

// LagPlan holds the join keys of every lag, row-aligned with the survey
// table. It is built once per run and read concurrently by the joins.
type LagPlan struct {
	Frame       *frame.Frame
	Lags        []int
	IDColumn    string
	DateColumn  string
	GeoIDColumn string
}

// DateColumnFor returns the lagged date column of lag n.
func (p *LagPlan) DateColumnFor(n int) string { return LagColumn(p.DateColumn, n) }

// GeoIDColumnFor returns the lagged GEOID column of lag n.
func (p *LagPlan) GeoIDColumnFor(n int) string { return LagColumn(p.GeoIDColumn, n) }

// Keys returns the lagged date and GEOID columns of lag n.
func (p *LagPlan) Keys(n int) (dates, ids *frame.Column, err error) {
	dates, ok := p.Frame.Column(p.DateColumnFor(n))
	if !ok {
		return nil, nil, fmt.Errorf("lag %d not in plan", n)
	}
	ids, ok = p.Frame.Column(p.GeoIDColumnFor(n))
	if !ok {
		return nil, nil, fmt.Errorf("lag %d not in plan", n)
	}
	return dates, ids, nil
}

// IDs returns the subject id column.
func (p *LagPlan) IDs() *frame.Column {
	c, _ := p.Frame.Column(p.IDColumn)
	return c
}

// KeyPreparer computes the lagged join keys for a set of lags.
type KeyPreparer interface {
	Prepare(ctx context.Context, d *survey.Dataset, lags []int, geoidCol string) (*LagPlan, error)
}

// DefaultKeyPreparer shifts each interview date back by the lag and takes
// the subject's GEOID on the shifted date: from the residential history
// when it knows the subject, otherwise from the survey.
type DefaultKeyPreparer struct{}

// Prepare implements KeyPreparer. geoidCol overrides the survey's GEOID
// column when non-empty.
func (DefaultKeyPreparer) Prepare(ctx context.Context, d *survey.Dataset, lags []int, geoidCol string) (*LagPlan, error) {
	if geoidCol == "" {
		geoidCol = d.GeoIDColumn()
	}
	f := d.Frame()
	ids, ok := f.Column(d.IDColumn())
	if !ok {
		return nil, fmt.Errorf("id column %q not found", d.IDColumn())
	}
	dates, ok := f.Column(d.DateColumn())
	if !ok {
		return nil, fmt.Errorf("date column %q not found", d.DateColumn())
	}
	geo, ok := f.Column(geoidCol)
	if !ok {
		return nil, fmt.Errorf("geoid column %q not found", geoidCol)
	}
	geo = geoid.PadColumn(geo)
	if dates.Kind != frame.Date {
		dates = frame.ParseDates(dates)
	}

	n := f.NumRows()
	idText := ids.Strings()
	history := d.History()
	cols := make([]*frame.Column, 0, 1+2*len(lags))
	cols = append(cols, ids)

	for _, lag := range lags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		days := make([]int64, n)
		var dayNull []bool
		lagged := make([]string, n)
		var geoNull []bool
		for i := 0; i < n; i++ {
			if dates.IsNull(i) {
				if dayNull == nil {
					dayNull = make([]bool, n)
				}
				dayNull[i] = true
			} else {
				days[i] = dates.Int[i] - int64(lag)
			}

			if history != nil && !dates.IsNull(i) {
				if id, ok := history.GeoIDAt(idText[i], days[i]); ok {
					lagged[i] = id
					continue
				}
			}
			if geo.IsNull(i) {
				if geoNull == nil {
					geoNull = make([]bool, n)
				}
				geoNull[i] = true
				continue
			}
			lagged[i] = geo.Str[i]
		}
		cols = append(cols,
			frame.NewDate(LagColumn(d.DateColumn(), lag), days, dayNull),
			frame.NewString(LagColumn(geoidCol, lag), lagged, geoNull))
	}

	plan, err := frame.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("build lag plan: %w", err)
	}
	return &LagPlan{
		Frame:       plan,
		Lags:        append([]int(nil), lags...),
		IDColumn:    d.IDColumn(),
		DateColumn:  d.DateColumn(),
		GeoIDColumn: geoidCol,
	}, nil
}

// UniqueGeoIDs collects every non-missing lagged GEOID in plan.
func UniqueGeoIDs(plan *LagPlan) geoid.Set {
	set := geoid.NewSet()
	for _, c := range plan.Frame.Columns() {
		if !IsLagGeoIDColumn(c.Name, plan.GeoIDColumn) {
			continue
		}
		for i := 0; i < c.Len(); i++ {
			if !c.IsNull(i) {
				set.Add(c.Str[i])
			}
		}
	}
	return set
}

// RequiredYears returns every calendar year from the year of
// (minDay - maxLag) to the year of maxDay, inclusive.
func RequiredYears(minDay, maxDay int64, maxLag int) []int {
	first := frame.TimeOf(minDay - int64(maxLag)).Year()
	last := frame.TimeOf(maxDay).Year()
	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}
	return years
}
