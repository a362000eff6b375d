// Package export writes IDX datasets to columnar files.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/fileutil"
	"github.com/eunmann/idxgo/pkg/humanfmt"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/eunmann/idxgo/pkg/logging"
	"github.com/parquet-go/parquet-go"
)

// Metadata keys stored in the parquet footer.
const (
	MetaType  = "idx.type"
	MetaShape = "idx.shape"
)

const defaultBatchSize = 1024

// Row is one dimension-0 entry of a dataset, flattened in row-major order.
type Row struct {
	Row    int64     `parquet:"row"`
	Values []float64 `parquet:"values,list"`
}

// Options configures WriteParquet.
type Options struct {
	// BatchSize is the number of rows handed to the writer at once.
	// Default: 1024.
	BatchSize int
}

// Result summarizes a finished export.
type Result struct {
	Rows  int64
	Bytes int64
}

// WriteParquet writes one parquet row per entry of dimension 0 of ds. The
// element type and full shape are kept as footer metadata. The file appears
// at path only once it is complete.
func WriteParquet(ctx context.Context, ds *idx.Dataset, path string, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	start := time.Now()
	log := logctx.FromContext(ctx)
	res := &Result{}

	err := fileutil.WriteTmpThenMove(filepath.Dir(path), path, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create parquet file: %w", err)
		}
		defer f.Close()

		w := parquet.NewGenericWriter[Row](f,
			parquet.Compression(&parquet.Zstd),
			parquet.KeyValueMetadata(MetaType, ds.Type().String()),
			parquet.KeyValueMetadata(MetaShape, humanfmt.Shape(ds.Shape())),
		)

		n, err := writeRows(ctx, w, ds, opts.BatchSize)
		if err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		res.Rows = n
		return f.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", path, err)
	}

	if info, err := os.Stat(path); err == nil {
		res.Bytes = info.Size()
	}

	logging.FileCreated(log, "export", time.Since(start)).
		Str("path", path).
		Count("rows", res.Rows).
		Bytes("bytes", res.Bytes).
		Throughput(int64(ds.Len())).
		Log("parquet export complete")
	return res, nil
}

func writeRows(ctx context.Context, w *parquet.GenericWriter[Row], ds *idx.Dataset, batchSize int) (int64, error) {
	rows := int(ds.Rows())
	batch := make([]Row, 0, batchSize)
	var values []float64
	var written int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		written += int64(len(batch))
		batch = batch[:0]
		values = values[:0]
		return nil
	}

	for i := range rows {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}

		v, err := ds.Index(i)
		if err != nil {
			return written, err
		}
		start := len(values)
		values = v.AppendFloat64s(values)
		batch = append(batch, Row{Row: int64(i), Values: values[start:len(values):len(values)]})

		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
