package tabio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kshedden/datareader"

	"stitch/internal/frame"
)

func openStata(path string) (*os.File, *datareader.StataReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := datareader.NewStataReader(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	r.ConvertDates = true
	r.InsertCategoryLabels = false
	return file, r, nil
}

func stataHeader(path string) ([]string, error) {
	file, r, err := openStata(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.ColumnNames(), nil
}

// streamStata decodes observations in chunks of opts.ChunkRows.
func streamStata(ctx context.Context, path string, opts ReadOptions, fn ChunkFunc) (*frame.Frame, error) {
	file, r, err := openStata(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	names := r.ColumnNames()
	acc := newAccumulator(fn)
	read := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, err := r.Read(opts.chunkRows())
		done := errors.Is(err, io.EOF)
		if err != nil && !done {
			return nil, err
		}
		if len(series) > 0 && seriesLen(series[0]) > 0 {
			chunk, err := frameFromSeries(names, series)
			if err != nil {
				return nil, err
			}
			read += chunk.NumRows()
			if chunk, err = finishChunk(chunk, opts); err != nil {
				return nil, err
			}
			if err := acc.add(chunk); err != nil {
				return nil, err
			}
		} else {
			done = true
		}
		if done {
			break
		}
	}
	if read == 0 {
		cols := make([]*frame.Column, len(names))
		for i, name := range names {
			cols[i] = frame.Empty(name, frame.Float64, 0)
		}
		empty, err := frame.New(cols...)
		if err != nil {
			return nil, err
		}
		return finishChunk(empty, opts)
	}
	return acc.result()
}

func seriesLen(s *datareader.Series) int {
	switch d := s.Data().(type) {
	case []float64:
		return len(d)
	case []float32:
		return len(d)
	case []int64:
		return len(d)
	case []int32:
		return len(d)
	case []int16:
		return len(d)
	case []int8:
		return len(d)
	case []string:
		return len(d)
	case []time.Time:
		return len(d)
	}
	return 0
}

func frameFromSeries(names []string, series []*datareader.Series) (*frame.Frame, error) {
	cols := make([]*frame.Column, len(series))
	for i, s := range series {
		name := s.Name
		if name == "" && i < len(names) {
			name = names[i]
		}
		c, err := columnFromSeries(name, s)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return frame.New(cols...)
}

func columnFromSeries(name string, s *datareader.Series) (*frame.Column, error) {
	missing := s.Missing()
	var null []bool
	if missing != nil {
		for _, m := range missing {
			if m {
				null = append([]bool(nil), missing...)
				break
			}
		}
	}

	switch d := s.Data().(type) {
	case []float64:
		return frame.NewFloat(name, frame.Float64, append([]float64(nil), d...), null), nil
	case []float32:
		vals := make([]float64, len(d))
		for i, v := range d {
			vals[i] = float64(v)
		}
		return frame.NewFloat(name, frame.Float32, vals, null), nil
	case []int64:
		return frame.NewInt64(name, append([]int64(nil), d...), null), nil
	case []int32:
		vals := make([]int64, len(d))
		for i, v := range d {
			vals[i] = int64(v)
		}
		return frame.NewInt64(name, vals, null), nil
	case []int16:
		vals := make([]int64, len(d))
		for i, v := range d {
			vals[i] = int64(v)
		}
		return frame.NewInt64(name, vals, null), nil
	case []int8:
		vals := make([]int64, len(d))
		for i, v := range d {
			vals[i] = int64(v)
		}
		return frame.NewInt64(name, vals, null), nil
	case []string:
		return frame.NewString(name, append([]string(nil), d...), null), nil
	case []time.Time:
		days := make([]int64, len(d))
		for i, v := range d {
			days[i] = frame.DayOf(v)
		}
		return frame.NewDate(name, days, null), nil
	}
	return nil, fmt.Errorf("column %q: unsupported stata series %T", name, s.Data())
}
