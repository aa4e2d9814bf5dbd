// Package tabio reads and writes tabular files in every format the linkage
// engine accepts. Each Format is dispatched through one reader and one
// writer; CSV additionally supports an ordered list of parsing engines.
package tabio

import (
	"fmt"
	"path/filepath"
	"strings"

	apperrors "stitch/internal/errors"
)

// Format is the closed set of supported tabular formats.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatStata
	FormatParquet
	FormatFeather
	FormatExcel
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatStata:
		return "stata"
	case FormatParquet:
		return "parquet"
	case FormatFeather:
		return "feather"
	case FormatExcel:
		return "excel"
	default:
		return "unknown"
	}
}

// Extension returns the canonical file extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatStata:
		return ".dta"
	case FormatParquet:
		return ".parquet"
	case FormatFeather:
		return ".feather"
	case FormatExcel:
		return ".xlsx"
	default:
		return ""
	}
}

var formatByExt = map[string]Format{
	".csv":     FormatCSV,
	".dta":     FormatStata,
	".parquet": FormatParquet,
	".pq":      FormatParquet,
	".feather": FormatFeather,
	".xlsx":    FormatExcel,
	".xls":     FormatExcel,
}

// DefaultExtensions lists every extension DetectFormat recognizes, in the
// order used for directory discovery.
var DefaultExtensions = []string{".csv", ".dta", ".parquet", ".pq", ".feather", ".xlsx", ".xls"}

// DetectFormat maps a path to its Format by extension, case-insensitively.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := formatByExt[ext]; ok {
		return f, nil
	}
	return FormatUnknown, apperrors.NewConfigError(fmt.Sprintf("unsupported file extension %q for %s", ext, path), nil)
}

// ParseFormat resolves a format name such as "parquet" or "feather".
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "csv":
		return FormatCSV, nil
	case "dta", "stata":
		return FormatStata, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "feather", "arrow", "ipc":
		return FormatFeather, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	}
	return FormatUnknown, apperrors.NewConfigError(fmt.Sprintf("unknown format %q", name), nil)
}

// Writable reports whether Write supports f.
func (f Format) Writable() bool {
	switch f {
	case FormatCSV, FormatParquet, FormatFeather, FormatExcel:
		return true
	}
	return false
}
