package tabio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"stitch/internal/frame"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// nullValues are read as missing by the Arrow engine, mirroring
// frame.IsNullText for the standard engine.
var nullValues = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", "<NA>", "#N/A", "."}

func openCSV(path string) (*os.File, *bufio.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReaderSize(file, 1<<20)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return file, br, nil
}

func csvHeader(path string) ([]string, error) {
	file, br, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv file")
	}
	return header, err
}

// streamCSVArrow decodes with the arrow inferring reader. The reader
// panics on a file with a header and no rows; that panic is returned as an
// error so the next engine runs.
func streamCSVArrow(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (out *frame.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("arrow csv reader: %v", r)
		}
	}()
	file, br, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	readerOpts := []arrowcsv.Option{
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(opts.chunkRows()),
		arrowcsv.WithAllocator(memory.DefaultAllocator),
		arrowcsv.WithNullReader(true, nullValues...),
	}
	if types := arrowTypes(opts.Types); types != nil {
		readerOpts = append(readerOpts, arrowcsv.WithColumnTypes(types))
	}
	if len(opts.Columns) > 0 {
		readerOpts = append(readerOpts, arrowcsv.WithIncludeColumns(opts.Columns))
	}
	r := arrowcsv.NewInferringReader(br, readerOpts...)
	defer r.Release()

	acc := newAccumulator(fn)
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := frameFromRecord(r.Record())
		if err != nil {
			return nil, err
		}
		if chunk, err = finishChunk(chunk, opts); err != nil {
			return nil, err
		}
		if err := acc.add(chunk); err != nil {
			return nil, err
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(acc.parts) == 0 && acc.empty == nil {
		// No record batch means no schema to report; the standard engine
		// still yields the header columns.
		return nil, fmt.Errorf("no rows decoded")
	}
	return acc.result()
}

func streamCSVStandard(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	file, br, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv file")
	}
	if err != nil {
		return nil, err
	}
	header = append([]string(nil), header...)

	positions := make([]int, len(header))
	names := header
	for i := range positions {
		positions[i] = i
	}
	if len(opts.Columns) > 0 {
		index := make(map[string]int, len(header))
		for i, h := range header {
			index[h] = i
		}
		positions = positions[:0]
		names = make([]string, 0, len(opts.Columns))
		var missing []string
		for _, name := range opts.Columns {
			i, ok := index[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			positions = append(positions, i)
			names = append(names, name)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("columns %v not found in %s", missing, filepath.Base(path))
		}
	}

	chunkRows := opts.chunkRows()
	b := frame.NewBuilder(names)
	acc := newAccumulator(fn)
	row := make([]string, len(positions))

	flush := func() error {
		chunk, err := b.Build(opts.Types)
		if err != nil {
			return err
		}
		b.Reset()
		return acc.add(chunk)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for j, p := range positions {
			if p < len(rec) {
				row[j] = rec[p]
			} else {
				row[j] = ""
			}
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
	if b.Len() > 0 || (len(acc.parts) == 0 && acc.empty == nil) {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return acc.result()
}

// finishChunk applies column order and type hints to a decoded chunk.
func finishChunk(chunk *frame.Frame, opts ReadOptions) (*frame.Frame, error) {
	chunk, err := selectColumns(chunk, opts.Columns)
	if err != nil {
		return nil, err
	}
	return applyTypes(chunk, opts.Types)
}

// writeCSV streams f to path row by row.
func writeCSV(f *frame.Frame, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriterSize(file, 1<<20)
	writer := csv.NewWriter(bw)
	if err := writer.Write(f.Names()); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	cols := f.Columns()
	record := make([]string, len(cols))
	for i := 0; i < f.NumRows(); i++ {
		for j, c := range cols {
			record[j] = c.Format(i)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}
