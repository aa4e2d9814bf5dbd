package linkage

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
	"stitch/internal/geoid"
	"stitch/internal/survey"
	"stitch/internal/tabio"
)

// FinalizeRequest describes the merge of lag files onto the survey.
type FinalizeRequest struct {
	Survey *survey.Dataset
	Files  []string
	// Prefix keeps only files whose name starts with Prefix + "_lag_".
	Prefix string
	// GeoIDColumn names the base GEOID column; the survey's when empty.
	GeoIDColumn string
	Logger      *slog.Logger
}

// Finalize reads every lag file in lag order, checks that its id column
// matches the survey row for row, and appends its other columns to the
// survey table. GEOID columns of the result are normalized to padded
// digits, with missing values as empty text.
func Finalize(ctx context.Context, req FinalizeRequest) (*frame.Frame, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "finalize"))
	geoidCol := req.GeoIDColumn
	if geoidCol == "" {
		geoidCol = req.Survey.GeoIDColumn()
	}
	base := req.Survey.Frame()
	idCol := req.Survey.IDColumn()
	ids, _ := base.Column(idCol)
	want := ids.Strings()

	var paths []string
	marker := TempFilePrefix(req.Prefix)
	for _, p := range req.Files {
		if strings.HasPrefix(filepath.Base(p), marker) {
			paths = append(paths, p)
		}
	}
	paths = SortByLag(paths)

	parts := []*frame.Frame{base}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := tabio.Read(ctx, path, tabio.ReadOptions{
			Types:  map[string]frame.Kind{idCol: ids.Kind},
			Logger: log,
		})
		if err != nil {
			return nil, err
		}
		if err := checkAlignment(path, f, idCol, want); err != nil {
			return nil, err
		}
		parts = append(parts, f.Drop(idCol))
	}

	merged, err := frame.ConcatColumns(parts...)
	if err != nil {
		return nil, apperrors.NewConfigError("merge lag outputs", err)
	}
	for _, c := range merged.Columns() {
		if c.Name == geoidCol || IsLagGeoIDColumn(c.Name, geoidCol) {
			if merged, err = merged.WithColumn(geoid.NormalizeColumn(c)); err != nil {
				return nil, err
			}
		}
	}
	log.Info("Merged lag outputs",
		slog.Int("files", len(paths)),
		slog.Int("rows", merged.NumRows()),
		slog.Int("columns", merged.NumCols()))
	return merged, nil
}

func checkAlignment(path string, f *frame.Frame, idCol string, want []string) error {
	c, ok := f.Column(idCol)
	if !ok {
		mc := &apperrors.MissingColumnError{}
		mc.Add(path, []string{idCol}, f.Names())
		return mc
	}
	if c.Len() != len(want) {
		return &apperrors.RowAlignmentError{
			Path:    path,
			Row:     -1,
			Lengths: [2]int{len(want), c.Len()},
		}
	}
	got := c.Strings()
	for i := range want {
		if got[i] != want[i] {
			return &apperrors.RowAlignmentError{
				Path:     path,
				Row:      i,
				Expected: want[i],
				Got:      got[i],
			}
		}
	}
	return nil
}
