// Package source loads IDX datasets from local files or S3 objects,
// decompressing gzip, zstd and lz4 containers on the fly.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/eunmann/idxgo/pkg/logging"
	"github.com/eunmann/idxgo/pkg/s3fetch"
)

// Options configures Load.
type Options struct {
	// Dataset is passed through to the decoder. Mmap only applies to
	// uncompressed local files.
	Dataset idx.Options

	// Client is used for s3:// locations. If nil, one is created from the
	// default AWS configuration on first use.
	Client *s3fetch.Client
}

// Load opens the dataset at location, which is a local path or an
// s3://bucket/key URI. A .gz, .zst or .lz4 suffix selects decompression.
func Load(ctx context.Context, location string, opts Options) (*idx.Dataset, error) {
	compression := DetectCompression(location)

	if s3fetch.IsS3URI(location) {
		return loadS3(ctx, location, compression, opts)
	}
	if compression == None {
		return idx.Open(ctx, location, opts.Dataset)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", idx.ErrFileOpen, err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", idx.ErrFileOpen, location)
	}

	return decode(ctx, location, bufio.NewReader(f), compression, opts)
}

func loadS3(ctx context.Context, uri string, compression Compression, opts Options) (*idx.Dataset, error) {
	bucket, key, err := s3fetch.ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client, err = s3fetch.NewClient(ctx)
		if err != nil {
			return nil, err
		}
	}

	body, err := client.OpenObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", idx.ErrFileOpen, err)
	}
	defer body.Close()

	return decode(ctx, uri, bufio.NewReader(body), compression, opts)
}

func decode(ctx context.Context, location string, r io.Reader, compression Compression, opts Options) (*idx.Dataset, error) {
	start := time.Now()
	log := logctx.FromContext(logctx.WithDataset(ctx, location))

	zr, err := NewReader(r, compression)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	defer zr.Close()

	ds, err := idx.Decode(zr, opts.Dataset)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", location, err)
	}

	logging.FileOpened(log, "open", time.Since(start)).
		Str("type", ds.Type().String()).
		Interface("shape", ds.Shape()).
		Bytes("payload_bytes", int64(ds.Len())).
		Str("compression", compression.String()).
		LogDebug("dataset decoded")
	return ds, nil
}
