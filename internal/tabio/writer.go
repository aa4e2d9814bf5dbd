package tabio

import (
	"fmt"
	"os"
	"path/filepath"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

// Write persists f to path in the format implied by its extension. Parent
// directories are created as needed.
func Write(f *frame.Frame, path string) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	return WriteFormat(f, path, format)
}

// WriteFormat persists f to path in format.
func WriteFormat(f *frame.Frame, path string, format Format) error {
	if !format.Writable() {
		return apperrors.NewConfigError(fmt.Sprintf("writing %s files is not supported", format), nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var err error
	switch format {
	case FormatCSV:
		err = writeCSV(f, path)
	case FormatParquet:
		err = writeParquet(f, path)
	case FormatFeather:
		err = writeFeather(f, path)
	case FormatExcel:
		err = writeExcel(f, path)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
