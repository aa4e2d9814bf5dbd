package geoid

import "stitch/internal/frame"

// PadColumn renders c as text and pads every non-missing value. Missing
// values stay missing.
func PadColumn(c *frame.Column) *frame.Column {
	n := c.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			continue
		}
		out[i] = Pad(c.Format(i))
	}
	var null []bool
	if c.Null != nil {
		null = append([]bool(nil), c.Null...)
	}
	return frame.NewString(c.Name, out, null)
}

// NormalizeColumn renders c as digit-only padded text. Missing values and
// values without digits become "" and the result has no null mask.
func NormalizeColumn(c *frame.Column) *frame.Column {
	n := c.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			continue
		}
		out[i] = Normalize(c.Format(i))
	}
	return frame.NewString(c.Name, out, nil)
}
