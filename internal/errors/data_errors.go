package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FileColumns names the columns one file is missing next to the ones it has.
type FileColumns struct {
	Path      string
	Missing   []string
	Available []string
}

// MissingColumnError reports required columns absent from one or more files.
// All offending files are collected before the error is returned.
type MissingColumnError struct {
	Files []FileColumns
}

func (e *MissingColumnError) errorType() ErrorType { return ErrTypeMissingCol }

func (e *MissingColumnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] required columns missing in %d file(s)", ErrTypeMissingCol, len(e.Files))
	for _, f := range e.Files {
		fmt.Fprintf(&b, "; %s: missing %v, available %v", f.Path, f.Missing, f.Available)
	}
	return b.String()
}

// Add records one file's missing columns.
func (e *MissingColumnError) Add(path string, missing, available []string) {
	e.Files = append(e.Files, FileColumns{Path: path, Missing: missing, Available: available})
}

// Empty reports whether no file has been recorded.
func (e *MissingColumnError) Empty() bool { return len(e.Files) == 0 }

// KeyPair is one (date, geoid) key.
type KeyPair struct {
	Date  string
	GeoID string
}

func (k KeyPair) String() string { return "(" + k.Date + ", " + k.GeoID + ")" }

// DuplicateKeyError reports (date, geoid) pairs that occur more than once in
// one loaded contextual table.
type DuplicateKeyError struct {
	Path string
	// Rows counts every row whose key also appears on another row.
	Rows int
	// Pairs counts distinct duplicated keys.
	Pairs int
	// Examples holds at most ten duplicated keys in order of first
	// occurrence.
	Examples []KeyPair
}

// MaxDuplicateExamples bounds DuplicateKeyError.Examples.
const MaxDuplicateExamples = 10

func (e *DuplicateKeyError) errorType() ErrorType { return ErrTypeDuplicateKey }

func (e *DuplicateKeyError) Error() string {
	examples := make([]string, len(e.Examples))
	for i, k := range e.Examples {
		examples[i] = k.String()
	}
	return fmt.Sprintf("[%s] %s: %d rows share %d duplicated (date, geoid) pairs, first: %s",
		ErrTypeDuplicateKey, e.Path, e.Rows, e.Pairs, strings.Join(examples, ", "))
}

// RowAlignmentError reports a lag output whose id column does not match the
// survey id column row for row.
type RowAlignmentError struct {
	Path string
	// Row is the first mismatching row, or -1 on a length mismatch.
	Row      int
	Expected string
	Got      string
	Lengths  [2]int
}

func (e *RowAlignmentError) errorType() ErrorType { return ErrTypeRowAlignment }

func (e *RowAlignmentError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("[%s] %s: %d rows, survey has %d", ErrTypeRowAlignment, e.Path, e.Lengths[1], e.Lengths[0])
	}
	return fmt.Sprintf("[%s] %s: row %d id %q, survey has %q", ErrTypeRowAlignment, e.Path, e.Row, e.Got, e.Expected)
}

// SortedFiles returns the offending paths in lexical order.
func (e *MissingColumnError) SortedFiles() []string {
	paths := make([]string, len(e.Files))
	for i, f := range e.Files {
		paths[i] = f.Path
	}
	sort.Strings(paths)
	return paths
}
