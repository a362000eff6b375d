// Package cli implements the command-line interface for idxinspect.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/humanfmt"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/eunmann/idxgo/pkg/logging"
	"github.com/eunmann/idxgo/pkg/membudget"
	"github.com/eunmann/idxgo/pkg/memdiag"
	"github.com/eunmann/idxgo/pkg/source"
	"github.com/rs/zerolog"
)

const usage = `usage: idxinspect <command> [options]
commands:
  info     print the header of one or more IDX files
  dump     print the elements of a selected sub-array
  export   write a dataset to parquet
  overlap  count rows of one dataset that also appear in another
  dups     count rows that repeat an earlier row of the same dataset
  fetch    download IDX files from S3`

// stdout receives command output.
var stdout io.Writer = os.Stdout

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "info":
		return runInfo(ctx, args[1:])
	case "dump":
		return runDump(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "overlap":
		return runOverlap(ctx, args[1:])
	case "dups":
		return runDups(ctx, args[1:])
	case "fetch":
		return runFetch(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// globalFlags are accepted by every command.
type globalFlags struct {
	debug     bool
	human     bool
	mmap      bool
	memBudget string

	budget  *membudget.Budget
	tracker *memdiag.Tracker
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.BoolVar(&g.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&g.human, "human", false, "human-readable console logs and sizes")
	fs.BoolVar(&g.mmap, "mmap", false, "memory-map uncompressed local files")
	fs.StringVar(&g.memBudget, "mem-budget", "", "max heap bytes for decoded payloads, e.g. 4GiB (env "+membudget.EnvVar+")")
	return g
}

// setup initializes logging, the memory budget and memory diagnostics.
// The returned context carries the logger. The caller must call done.
func (g *globalFlags) setup(ctx context.Context, phase string) (context.Context, func(), error) {
	logging.Init(g.debug, g.human)
	ctx = logctx.WithLogger(ctx, logging.WithPhase(phase))

	budget, err := determineMemoryBudget(g.memBudget)
	if err != nil {
		return nil, nil, err
	}
	g.budget = budget

	g.tracker = memdiag.NewTracker(memdiag.DefaultConfig(), *logging.L())
	g.tracker.Start()
	g.tracker.SetPhase(phase)

	log := logctx.FromContext(ctx)
	return ctx, func() { g.finish(log) }, nil
}

// finish stops memory diagnostics and reports the peak heap they saw.
func (g *globalFlags) finish(log zerolog.Logger) {
	g.tracker.Stop()
	if peak := g.tracker.PeakHeap(); peak > 0 {
		log.Debug().
			Uint64("peak_heap_bytes", peak).
			Str("peak_heap", humanfmt.Bytes(int64(peak))).
			Msg("memory peak")
	}
}

// load opens a dataset with the configured mmap mode and budget.
func (g *globalFlags) load(ctx context.Context, location string) (*idx.Dataset, error) {
	ds, err := source.Load(ctx, location, source.Options{
		Dataset: idx.Options{Mmap: g.mmap, Budget: g.budget},
	})
	if err != nil {
		return nil, err
	}
	g.tracker.LogWithBudget("dataset_loaded", g.budget.InUse(), g.budget.Total())
	return ds, nil
}

// determineMemoryBudget resolves the budget from the flag, the environment
// or system RAM, in that order.
func determineMemoryBudget(flagValue string) (*membudget.Budget, error) {
	budget, err := membudget.Resolve(flagValue)
	if err != nil {
		return nil, err
	}
	logging.L().Debug().
		Uint64("budget_bytes", budget.Total()).
		Str("source", string(budget.Source())).
		Msg("memory budget")
	return budget, nil
}

// parseIndices parses a comma-separated index list such as "0,3".
func parseIndices(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid --index %q: %w", s, err)
		}
		out[i] = n
	}
	return out, nil
}
