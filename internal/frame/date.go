package frame

import (
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"20060102",
	"02Jan2006",
}

// DayOf returns the calendar day of t as days since 1970-01-01.
func DayOf(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}

// TimeOf returns midnight UTC of day.
func TimeOf(day int64) time.Time {
	return time.Unix(day*secondsPerDay, 0).UTC()
}

// FormatDay renders day as YYYY-MM-DD.
func FormatDay(day int64) string {
	return TimeOf(day).Format("2006-01-02")
}

// ParseDate parses s in any of the accepted layouts. Time-of-day components
// are discarded.
func ParseDate(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DayOf(t), true
		}
	}
	return 0, false
}

// ParseDates converts a column to Date, turning unparseable values into
// missing ones. Numbers are read as their decimal text, so 20160101 parses
// as 2016-01-01.
func ParseDates(c *Column) *Column {
	switch c.Kind {
	case Date:
		return c
	case String:
		return c.Convert(Date)
	}
	return c.Convert(String).Convert(Date)
}
