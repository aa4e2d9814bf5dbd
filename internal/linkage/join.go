package linkage

import (
	"context"
	"fmt"

	"stitch/internal/frame"
)

// Joiner produces the output of one lag: a frame row-aligned with the
// plan, keyed by the subject id column. A frame holding only the id column
// means nothing matched.
type Joiner interface {
	Join(ctx context.Context, plan *LagPlan, lag int, table *ContextTable, includeLagKeys bool) (*frame.Frame, error)
}

// HashJoiner looks every subject's lagged (date, GEOID) up in the context
// table index. Subjects without a match get missing values.
type HashJoiner struct{}

// Join implements Joiner.
func (HashJoiner) Join(ctx context.Context, plan *LagPlan, lag int, table *ContextTable, includeLagKeys bool) (*frame.Frame, error) {
	dates, ids, err := plan.Keys(lag)
	if err != nil {
		return nil, err
	}
	n := plan.Frame.NumRows()
	rows := make([]int, n)
	matched := 0
	for i := 0; i < n; i++ {
		rows[i] = -1
		if dates.IsNull(i) || ids.IsNull(i) || ids.Str[i] == "" {
			continue
		}
		if r, ok := table.Lookup(dates.Int[i], ids.Str[i]); ok {
			rows[i] = r
			matched++
		}
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	cols := []*frame.Column{plan.IDs()}
	if matched == 0 {
		return frame.New(cols...)
	}
	if includeLagKeys {
		cols = append(cols, dates, ids)
	}
	for _, name := range table.DataColumns() {
		c, ok := table.Frame().Column(name)
		if !ok {
			return nil, fmt.Errorf("data column %q not in context table", name)
		}
		cols = append(cols, c.Take(rows).WithName(LagColumn(name, lag)))
	}
	return frame.New(cols...)
}
