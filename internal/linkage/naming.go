// Package linkage joins lagged contextual measures onto survey subjects.
//
// A run computes every lag's join keys once (a LagPlan), loads only the
// contextual years and GEOIDs those keys can touch, joins each lag against
// one shared read-only ContextTable, writes one file per lag and finally
// merges the lag files column-wise onto the survey table.
package linkage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"stitch/internal/tabio"
)

// LagSuffix marks columns derived for a lag.
const LagSuffix = "day_prior"

// LagColumn returns the name of base shifted by n days, e.g.
// "HeatIndex_7day_prior".
func LagColumn(base string, n int) string {
	return fmt.Sprintf("%s_%d%s", base, n, LagSuffix)
}

// IsLagGeoIDColumn reports whether name is a lagged GEOID column for
// geoidCol.
func IsLagGeoIDColumn(name, geoidCol string) bool {
	return strings.HasPrefix(name, geoidCol+"_") && strings.HasSuffix(name, LagSuffix)
}

// TempFilePrefix is the name prefix shared by every lag file of prefix.
func TempFilePrefix(prefix string) string {
	return prefix + "_lag_"
}

// TempFileName returns the file name of lag n's output.
func TempFileName(prefix string, n int, format tabio.Format) string {
	return fmt.Sprintf("%s%04d%s", TempFilePrefix(prefix), n, format.Extension())
}

var lagNumber = regexp.MustCompile(`_lag_(\d+)\.`)

// LagNumber extracts the lag from a file produced by TempFileName.
func LagNumber(path string) (int, bool) {
	m := lagNumber.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortByLag orders paths by embedded lag number, ascending. Paths without
// a lag number sort last by name.
func SortByLag(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := LagNumber(out[i])
		b, bok := LagNumber(out[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		}
		return out[i] < out[j]
	})
	return out
}
