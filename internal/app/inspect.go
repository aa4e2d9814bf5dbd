package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"stitch/internal/config"
	apperrors "stitch/internal/errors"
)

// YearFile is one year of a contextual collection.
type YearFile struct {
	Year int    `json:"year"`
	Path string `json:"path"`
}

// Inventory describes a contextual directory without loading any rows.
type Inventory struct {
	Dir         string     `json:"dir"`
	DateColumn  string     `json:"date_column"`
	GeoIDColumn string     `json:"geoid_column"`
	DataColumns []string   `json:"data_columns"`
	Years       []YearFile `json:"years"`
}

// Inspect discovers and validates the contextual files described by link.
// Only headers are read.
func Inspect(ctx context.Context, link config.LinkConfig, logger *slog.Logger) (*Inventory, error) {
	if link.ContextDir == "" {
		return nil, apperrors.NewConfigError("context directory is required", nil)
	}
	dir, err := filepath.Abs(link.ContextDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", link.ContextDir, err)
	}
	renameFile := link.RenameFile
	if renameFile != "" {
		if renameFile, err = filepath.Abs(renameFile); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", link.RenameFile, err)
		}
	}

	coll, err := OpenCollection(ctx, link, &config.Paths{ContextDir: dir, RenameFile: renameFile}, logger)
	if err != nil {
		return nil, err
	}
	inv := &Inventory{
		Dir:         coll.Dir(),
		DateColumn:  coll.DateColumn(),
		GeoIDColumn: coll.GeoIDColumn(),
		DataColumns: coll.DataColumns(),
	}
	for _, y := range coll.Years() {
		p, _ := coll.Path(y)
		inv.Years = append(inv.Years, YearFile{Year: y, Path: p})
	}
	return inv, nil
}
