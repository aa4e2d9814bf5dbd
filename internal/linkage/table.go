package linkage

import (
	"fmt"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

type contextKey struct {
	day   int64
	geoid string
}

// ContextTable is the concatenation of every loaded contextual year with
// a (date, GEOID) index. It is read-only after NewContextTable returns and
// is shared by all joins of a run.
type ContextTable struct {
	frame       *frame.Frame
	dateColumn  string
	geoidColumn string
	dataColumns []string
	index       map[contextKey]int
}

// NewContextTable concatenates parts and indexes them. Rows with a missing
// date or GEOID cannot match and are left out of the index. A (date,
// GEOID) pair present in two parts is an error.
func NewContextTable(parts []*frame.Frame, dateCol, geoidCol string, dataCols []string) (*ContextTable, error) {
	t := &ContextTable{
		dateColumn:  dateCol,
		geoidColumn: geoidCol,
		dataColumns: dataCols,
	}
	var err error
	if len(parts) == 0 {
		cols := []*frame.Column{frame.Empty(dateCol, frame.Date, 0), frame.Empty(geoidCol, frame.String, 0)}
		for _, c := range dataCols {
			cols = append(cols, frame.Empty(c, frame.Float64, 0))
		}
		t.frame, err = frame.New(cols...)
	} else {
		t.frame, err = frame.ConcatRows(parts...)
	}
	if err != nil {
		return nil, fmt.Errorf("concatenate contextual years: %w", err)
	}
	if missing := t.frame.Missing(append([]string{dateCol, geoidCol}, dataCols...)...); len(missing) > 0 {
		mc := &apperrors.MissingColumnError{}
		mc.Add("contextual table", missing, t.frame.Names())
		return nil, mc
	}

	dates, _ := t.frame.Column(dateCol)
	ids, _ := t.frame.Column(geoidCol)
	t.index = make(map[contextKey]int, t.frame.NumRows())
	dup := &apperrors.DuplicateKeyError{Path: "contextual table"}
	seen := map[contextKey]int{}
	for i := 0; i < t.frame.NumRows(); i++ {
		if dates.IsNull(i) || ids.IsNull(i) {
			continue
		}
		k := contextKey{day: dates.Int[i], geoid: ids.Str[i]}
		if _, ok := t.index[k]; ok {
			seen[k]++
			if seen[k] == 1 {
				dup.Pairs++
				dup.Rows++
				if len(dup.Examples) < apperrors.MaxDuplicateExamples {
					dup.Examples = append(dup.Examples, apperrors.KeyPair{Date: frame.FormatDay(k.day), GeoID: k.geoid})
				}
			}
			dup.Rows++
			continue
		}
		t.index[k] = i
	}
	if dup.Pairs > 0 {
		return nil, dup
	}
	return t, nil
}

// Lookup returns the row holding (day, geoid).
func (t *ContextTable) Lookup(day int64, geoid string) (int, bool) {
	i, ok := t.index[contextKey{day: day, geoid: geoid}]
	return i, ok
}

// Frame returns the concatenated table.
func (t *ContextTable) Frame() *frame.Frame { return t.frame }

// DataColumns returns the measure columns.
func (t *ContextTable) DataColumns() []string { return t.dataColumns }

// Len returns the number of rows.
func (t *ContextTable) Len() int { return t.frame.NumRows() }

// MemoryBytes estimates the heap footprint of the table and its index.
func (t *ContextTable) MemoryBytes() int64 {
	return t.frame.MemoryBytes() + int64(len(t.index))*48
}
