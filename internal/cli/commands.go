package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/export"
	"github.com/eunmann/idxgo/pkg/humanfmt"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/eunmann/idxgo/pkg/rowindex"
	"github.com/eunmann/idxgo/pkg/s3fetch"
)

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("at least one IDX file is required")
	}
	ctx, done, err := g.setup(ctx, "info")
	if err != nil {
		return err
	}
	defer done()

	for i, location := range fs.Args() {
		ds, err := g.load(logctx.WithInt(ctx, "file", i), location)
		if err != nil {
			return err
		}
		printInfo(location, ds, g.human)
		if err := ds.Close(); err != nil {
			return fmt.Errorf("close %s: %w", location, err)
		}
	}
	return nil
}

func printInfo(location string, ds *idx.Dataset, human bool) {
	size := strconv.Itoa(ds.Len()) + " bytes"
	if human {
		size += " (" + humanfmt.Bytes(int64(ds.Len())) + ")"
	}

	fmt.Fprintln(stdout, location)
	fmt.Fprintf(stdout, "  type:     %s\n", ds.Type())
	fmt.Fprintf(stdout, "  rank:     %d\n", ds.Rank())
	fmt.Fprintf(stdout, "  shape:    %s\n", humanfmt.Shape(ds.Shape()))
	fmt.Fprintf(stdout, "  rows:     %d\n", ds.Rows())
	fmt.Fprintf(stdout, "  columns:  %d\n", ds.Columns())
	fmt.Fprintf(stdout, "  elements: %d\n", ds.NumElements())
	fmt.Fprintf(stdout, "  payload:  %s\n", size)
}

func runDump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	index := fs.String("index", "", "comma-separated indices selecting a sub-array, e.g. 0,3")
	limit := fs.Int("limit", 0, "max lines to print (0 = all)")
	decimal := fs.Bool("decimal", false, "print decoded values instead of hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one IDX file is required")
	}
	indices, err := parseIndices(*index)
	if err != nil {
		return err
	}
	ctx, done, err := g.setup(ctx, "dump")
	if err != nil {
		return err
	}
	defer done()

	ds, err := g.load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()

	v, err := ds.At(indices...)
	if err != nil {
		return err
	}
	return dumpView(v, *limit, *decimal)
}

// dumpView prints v with one line per run of the last dimension.
func dumpView(v idx.View, limit int, decimal bool) error {
	width := v.Type().Width()
	perLine := 1
	if shape := v.Shape(); len(shape) > 0 {
		perLine = int(shape[len(shape)-1])
	}
	if perLine == 0 {
		return nil
	}

	data := v.Bytes()
	lineBytes := perLine * width
	var values []float64
	if decimal {
		values = v.AppendFloat64s(nil)
	}

	for line := 0; line*lineBytes < len(data); line++ {
		if limit > 0 && line >= limit {
			break
		}
		fields := make([]string, perLine)
		for i := range fields {
			e := line*perLine + i
			if decimal {
				fields[i] = strconv.FormatFloat(values[e], 'g', -1, 64)
			} else {
				fields[i] = hex.EncodeToString(data[e*width : (e+1)*width])
			}
		}
		if _, err := fmt.Fprintln(stdout, strings.Join(fields, " ")); err != nil {
			return err
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	out := fs.String("out", "", "output parquet file")
	batch := fs.Int("batch", 0, "rows per parquet write batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one IDX file is required")
	}
	ctx, done, err := g.setup(ctx, "export")
	if err != nil {
		return err
	}
	defer done()

	ds, err := g.load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()

	res, err := export.WriteParquet(ctx, ds, *out, export.Options{BatchSize: *batch})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d rows to %s\n", res.Rows, *out)
	return nil
}

func runOverlap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("overlap", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	list := fs.Bool("list", false, "print the overlapping row indices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: overlap [options] <reference> <candidate>")
	}
	ctx, done, err := g.setup(ctx, "overlap")
	if err != nil {
		return err
	}
	defer done()

	ref, err := g.load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer ref.Close()

	cand, err := g.load(ctx, fs.Arg(1))
	if err != nil {
		return err
	}
	defer cand.Close()

	rows, err := rowindex.Overlap(ref, cand)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%d of %d rows of %s appear in %s\n",
		rows.GetCardinality(), cand.Rows(), fs.Arg(1), fs.Arg(0))
	if *list {
		it := rows.Iterator()
		for it.HasNext() {
			fmt.Fprintln(stdout, it.Next())
		}
	}
	return nil
}

func runDups(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dups", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	list := fs.Bool("list", false, "print the duplicate row indices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one IDX file is required")
	}
	ctx, done, err := g.setup(ctx, "dups")
	if err != nil {
		return err
	}
	defer done()

	ds, err := g.load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()

	ix, err := rowindex.Build(ds)
	if err != nil {
		return err
	}
	dups := ix.Duplicates()

	fmt.Fprintf(stdout, "%d of %d rows of %s repeat an earlier row (%d distinct)\n",
		dups.GetCardinality(), ds.Rows(), fs.Arg(0), ix.Len())
	if *list {
		it := dups.Iterator()
		for it.HasNext() {
			fmt.Fprintln(stdout, it.Next())
		}
	}
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	out := fs.String("out", "", "local directory for downloaded files")
	concurrency := fs.Int("concurrency", 4, "parallel downloads")
	rps := fs.Float64("rps", 0, "max downloads started per second (0 = unlimited)")
	force := fs.Bool("force", false, "re-download files that are already present")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}
	if fs.NArg() == 0 {
		return errors.New("at least one s3:// URI is required")
	}
	ctx, done, err := g.setup(ctx, "fetch")
	if err != nil {
		return err
	}
	defer done()

	client, err := s3fetch.NewClient(ctx)
	if err != nil {
		return err
	}
	return fetch(ctx, client, s3fetch.FetchConfig{
		URIs:              fs.Args(),
		OutDir:            *out,
		Concurrency:       *concurrency,
		RequestsPerSecond: *rps,
		Force:             *force,
	})
}

func fetch(ctx context.Context, client *s3fetch.Client, cfg s3fetch.FetchConfig) error {
	res, err := s3fetch.FetchAll(ctx, client, cfg)
	if err != nil {
		return err
	}
	for _, path := range res.LocalFiles {
		fmt.Fprintln(stdout, path)
	}
	return nil
}
