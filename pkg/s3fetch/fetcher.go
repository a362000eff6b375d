package s3fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/fileutil"
	"github.com/eunmann/idxgo/pkg/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FetchConfig configures a batch download of IDX objects.
type FetchConfig struct {
	// URIs are the s3://bucket/key objects to download.
	URIs []string
	// OutDir is the local directory files are written to.
	OutDir string
	// Concurrency is the number of parallel downloads (default: 4).
	Concurrency int
	// RequestsPerSecond caps how fast downloads are started. Zero means
	// unlimited.
	RequestsPerSecond float64
	// Force re-downloads files that are already present and complete.
	Force bool
}

// FetchResult describes a completed batch.
type FetchResult struct {
	// LocalFiles holds the local path of each URI, in input order.
	LocalFiles []string
	// Downloaded and Skipped count files fetched and files already present.
	Downloaded int
	Skipped    int
	// Bytes is the number of bytes downloaded.
	Bytes int64
}

// compressedExts are suffixes of files whose IDX header is not readable
// without decompressing. Matching ignores case.
var compressedExts = []string{".gz", ".zst", ".lz4"}

// tmpDirPattern names the per-run directory partial downloads go to.
const tmpDirPattern = ".idxfetch-*"

type fetchTask struct {
	uri, bucket, key, local string
}

// FetchAll downloads every object in cfg.URIs into cfg.OutDir. Files are
// written to a temp path and renamed into place, so a file present under
// its final name is complete and is skipped unless cfg.Force is set.
func FetchAll(ctx context.Context, client *Client, cfg FetchConfig) (*FetchResult, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	tasks, err := planFetch(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	removeStaleTmpDirs(cfg.OutDir)

	tmpDir, err := os.MkdirTemp(cfg.OutDir, tmpDirPattern)
	if err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	log := logctx.FromContext(ctx)
	start := time.Now()
	tracker := logging.NewProgressTracker("fetch", int64(len(tasks)), log)

	var (
		downloaded atomic.Int64
		skipped    atomic.Int64
		bytes      atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			itemStart := time.Now()

			if !cfg.Force && alreadyFetched(task.local) {
				skipped.Add(1)
				tracker.RecordCompletion(time.Since(itemStart))
				log.Debug().Str("uri", task.uri).Str("path", task.local).Msg("already present, skipping")
				return nil
			}

			if err := limiter.Wait(ctx); err != nil {
				tracker.RecordFailure()
				return fmt.Errorf("wait for rate limiter: %w", err)
			}

			var n int64
			err := fileutil.WriteTmpThenMove(tmpDir, task.local, func(tmpPath string) error {
				var dlErr error
				n, dlErr = client.DownloadFile(ctx, task.bucket, task.key, tmpPath)
				return dlErr
			})
			if err != nil {
				tracker.RecordFailure()
				return fmt.Errorf("fetch %s: %w", task.uri, err)
			}

			downloaded.Add(1)
			bytes.Add(n)
			tracker.RecordCompletion(time.Since(itemStart))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("wait for downloads: %w", err)
	}

	res := &FetchResult{
		LocalFiles: make([]string, len(tasks)),
		Downloaded: int(downloaded.Load()),
		Skipped:    int(skipped.Load()),
		Bytes:      bytes.Load(),
	}
	for i, task := range tasks {
		res.LocalFiles[i] = task.local
	}

	logging.PhaseComplete(log, "fetch", time.Since(start)).
		ProgressFromTracker(tracker).
		Int("skipped", res.Skipped).
		Bytes("bytes", res.Bytes).
		Throughput(res.Bytes).
		Log("fetch complete")

	return res, nil
}

func planFetch(cfg FetchConfig) ([]fetchTask, error) {
	tasks := make([]fetchTask, 0, len(cfg.URIs))
	owners := make(map[string]string, len(cfg.URIs))

	for _, uri := range cfg.URIs {
		bucket, key, err := ParseObjectURI(uri)
		if err != nil {
			return nil, err
		}
		name := localName(key)
		if name == "." || name == ".." || name == "/" {
			return nil, fmt.Errorf("%w: %q has no usable file name", ErrInvalidURI, uri)
		}
		local := filepath.Join(cfg.OutDir, name)
		if prev, ok := owners[local]; ok {
			return nil, fmt.Errorf("%s and %s both map to %s", prev, uri, local)
		}
		owners[local] = uri
		tasks = append(tasks, fetchTask{uri: uri, bucket: bucket, key: key, local: local})
	}
	return tasks, nil
}

// removeStaleTmpDirs clears partial downloads left by interrupted runs.
func removeStaleTmpDirs(outDir string) {
	dirs, err := filepath.Glob(filepath.Join(outDir, tmpDirPattern))
	if err != nil {
		return
	}
	for _, dir := range dirs {
		if err := fileutil.CleanupTmpFiles(dir); err == nil {
			_ = os.Remove(dir)
		}
	}
}

func alreadyFetched(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range compressedExts {
		if strings.HasSuffix(lower, ext) {
			return fileutil.IsNonEmpty(path)
		}
	}
	return fileutil.IDXFileValid(path)
}
