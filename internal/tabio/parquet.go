package tabio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"stitch/internal/frame"
)

func openParquet(path string, batchRows int) (*file.Reader, *pqarrow.FileReader, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, nil, err
	}
	props := pqarrow.ArrowReadProperties{Parallel: false, BatchSize: int64(batchRows)}
	fr, err := pqarrow.NewFileReader(pf, props, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, nil, err
	}
	return pf, fr, nil
}

func parquetHeader(path string) ([]string, error) {
	pf, fr, err := openParquet(path, DefaultChunkRows)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	schema, err := fr.Schema()
	if err != nil {
		return nil, err
	}
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names, nil
}

// streamParquet reads record batches of up to opts.ChunkRows rows, loading
// only the requested columns.
func streamParquet(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	pf, fr, err := openParquet(path, opts.chunkRows())
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	var indices []int
	if len(opts.Columns) > 0 {
		schema := pf.MetaData().Schema
		var missing []string
		for _, name := range opts.Columns {
			idx := schema.ColumnIndexByName(name)
			if idx < 0 {
				missing = append(missing, name)
				continue
			}
			indices = append(indices, idx)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("columns %v not found", missing)
		}
	}

	rr, err := fr.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return nil, err
	}
	defer rr.Release()

	acc := newAccumulator(fn)
	for rr.Next() {
		chunk, err := frameFromRecord(rr.Record())
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
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(acc.parts) == 0 && acc.empty == nil {
		return emptyFromSchema(fr, opts)
	}
	return acc.result()
}

// emptyFromSchema returns a zero-row frame with the file's columns.
func emptyFromSchema(fr *pqarrow.FileReader, opts ReadOptions) (*frame.Frame, error) {
	schema, err := fr.Schema()
	if err != nil {
		return nil, err
	}
	cols := make([]*frame.Column, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		kind, err := kindOf(f.Type)
		if err != nil {
			return nil, err
		}
		cols = append(cols, frame.Empty(f.Name, kind, 0))
	}
	f, err := frame.New(cols...)
	if err != nil {
		return nil, err
	}
	return finishChunk(f, opts)
}

func writeParquet(f *frame.Frame, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	rec := recordFromFrame(f, memory.DefaultAllocator)
	defer rec.Release()
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	chunk := int64(f.NumRows())
	if chunk == 0 {
		chunk = 1
	}
	if err := pqarrow.WriteTable(tbl, out, chunk, props, pqarrow.DefaultWriterProps()); err != nil {
		return err
	}
	return nil
}
