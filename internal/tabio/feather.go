package tabio

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"stitch/internal/frame"
)

func featherHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r, err := ipc.NewFileReader(file, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	schema := r.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names, nil
}

// streamFeather hands each IPC record batch to fn.
func streamFeather(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r, err := ipc.NewFileReader(file, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	acc := newAccumulator(fn)
	for i := 0; i < r.NumRecords(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("record batch %d: %w", i, err)
		}
		chunk, err := frameFromRecord(rec)
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
	if len(acc.parts) == 0 && acc.empty == nil {
		cols := make([]*frame.Column, 0, r.Schema().NumFields())
		for _, f := range r.Schema().Fields() {
			kind, err := kindOf(f.Type)
			if err != nil {
				return nil, err
			}
			cols = append(cols, frame.Empty(f.Name, kind, 0))
		}
		empty, err := frame.New(cols...)
		if err != nil {
			return nil, err
		}
		return finishChunk(empty, opts)
	}
	return acc.result()
}

func writeFeather(f *frame.Frame, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	rec := recordFromFrame(f, memory.DefaultAllocator)
	defer rec.Release()

	w, err := ipc.NewFileWriter(out, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return err
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Close()
}
