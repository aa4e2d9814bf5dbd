package tabio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "stitch/internal/errors"
	"stitch/internal/frame"
)

// excelMaxRows is the row limit of one xlsx worksheet, header included.
const excelMaxRows = 1_048_576

func checkLegacyExcel(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return apperrors.NewConfigError("legacy .xls workbooks are not supported, save as .xlsx: "+path, nil)
	}
	return nil
}

// openFirstSheet opens the workbook and returns its first worksheet name.
func openFirstSheet(path string) (*excelize.File, string, error) {
	if err := checkLegacyExcel(path); err != nil {
		return nil, "", err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, "", fmt.Errorf("workbook has no sheets")
	}
	return f, sheets[0], nil
}

func excelHeader(path string) ([]string, error) {
	f, sheet, err := openFirstSheet(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	return rows.Columns()
}

// streamExcel reads the first worksheet. The first row is the header.
func streamExcel(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	f, sheet, err := openFirstSheet(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	chunkRows := opts.chunkRows()
	b := frame.NewBuilder(header)
	acc := newAccumulator(fn)
	flush := func() error {
		chunk, err := b.Build(opts.Types)
		if err != nil {
			return err
		}
		b.Reset()
		if chunk, err = finishChunk(chunk, opts); err != nil {
			return err
		}
		return acc.add(chunk)
	}

	for rows.Next() {
		row, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		b.Append(row)
		if b.Len() >= chunkRows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	if b.Len() > 0 || (len(acc.parts) == 0 && acc.empty == nil) {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return acc.result()
}

// writeExcel writes f to the first worksheet with a stream writer.
func writeExcel(f *frame.Frame, path string) error {
	if err := checkLegacyExcel(path); err != nil {
		return err
	}
	if f.NumRows()+1 > excelMaxRows {
		return apperrors.NewConfigError(fmt.Sprintf("%d rows exceed the xlsx sheet limit", f.NumRows()), nil)
	}

	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	sw, err := wb.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	cols := f.Columns()
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	values := make([]interface{}, len(cols))
	for i := 0; i < f.NumRows(); i++ {
		for j, c := range cols {
			values[j] = excelValue(c, i)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return wb.SaveAs(path)
}

func excelValue(c *frame.Column, i int) interface{} {
	if c.IsNull(i) {
		return nil
	}
	switch c.Kind {
	case frame.Int64:
		return c.Int[i]
	case frame.Float64, frame.Float32:
		return c.Float[i]
	default:
		return c.Format(i)
	}
}
