// Package membudget caps how many payload bytes the process holds in heap
// memory at once.
//
// idx.Decode reserves a dataset's payload before allocating it and
// Dataset.Close gives the bytes back, so loading several large files
// concurrently fails fast instead of exhausting RAM.
package membudget

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/eunmann/idxgo/pkg/sysmem"
)

// DefaultBudgetBytes is the fallback budget when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 8 * 1024 * 1024 * 1024

// EnvVar names the environment variable consulted by Resolve.
const EnvVar = "IDX_MEM_BUDGET"

// ErrBudgetExceeded indicates a reservation that does not fit.
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// BudgetSource indicates how the memory budget was determined.
type BudgetSource string

const (
	BudgetSourceAuto50Pct BudgetSource = "auto-50pct"
	BudgetSourceDefault   BudgetSource = "default"
	BudgetSourceCLI       BudgetSource = "cli"
	BudgetSourceEnv       BudgetSource = "env"
)

// Budget tracks reserved bytes against a fixed total.
//
// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	inUse  atomic.Uint64
	source BudgetSource
}

// Config holds configuration for creating a Budget.
type Config struct {
	TotalBytes uint64
	Source     BudgetSource
}

// New creates a Budget.
func New(cfg Config) *Budget {
	return &Budget{
		total:  cfg.TotalBytes,
		source: cfg.Source,
	}
}

// NewFromSystemRAM creates a Budget of half the detected RAM, or
// DefaultBudgetBytes when detection is unreliable.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	if !result.Reliable {
		return New(Config{TotalBytes: DefaultBudgetBytes, Source: BudgetSourceDefault})
	}
	return New(Config{TotalBytes: result.TotalBytes / 2, Source: BudgetSourceAuto50Pct})
}

// Resolve picks the budget from, in order: flagValue, the IDX_MEM_BUDGET
// environment variable, system RAM.
func Resolve(flagValue string) (*Budget, error) {
	if flagValue != "" {
		n, err := ParseHumanSize(flagValue)
		if err != nil {
			return nil, fmt.Errorf("invalid --mem-budget %q: %w", flagValue, err)
		}
		return New(Config{TotalBytes: n, Source: BudgetSourceCLI}), nil
	}
	if env := os.Getenv(EnvVar); env != "" {
		n, err := ParseHumanSize(env)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvVar, env, err)
		}
		return New(Config{TotalBytes: n, Source: BudgetSourceEnv}), nil
	}
	return NewFromSystemRAM(), nil
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	return b.inUse.Load()
}

// Available returns total minus in-use bytes.
func (b *Budget) Available() uint64 {
	inUse := b.inUse.Load()
	if inUse >= b.total {
		return 0
	}
	return b.total - inUse
}

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource {
	return b.source
}

// TryReserve reserves n bytes if they fit and reports whether it did.
// It never blocks.
func (b *Budget) TryReserve(n uint64) bool {
	for {
		current := b.inUse.Load()
		next := current + n
		if next < current || next > b.total {
			return false
		}
		if b.inUse.CompareAndSwap(current, next) {
			return true
		}
	}
}

// Release returns n bytes. Releasing more than is reserved clamps to zero.
func (b *Budget) Release(n uint64) {
	for {
		current := b.inUse.Load()
		next := uint64(0)
		if n < current {
			next = current - n
		}
		if b.inUse.CompareAndSwap(current, next) {
			return
		}
	}
}

// ParseHumanSize parses a size such as "512MB", "4GiB" or "1.5G".
// Supported suffixes: B, KB, KiB/K, MB, MiB/M, GB, GiB/G, TB, TiB/T.
func ParseHumanSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size string")
	}

	numEnd := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numEnd = i
			break
		}
	}

	numStr, suffix := s[:numEnd], s[numEnd:]

	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "KB":
		multiplier = 1e3
	case "KiB", "K":
		multiplier = 1 << 10
	case "MB":
		multiplier = 1e6
	case "MiB", "M":
		multiplier = 1 << 20
	case "GB":
		multiplier = 1e9
	case "GiB", "G":
		multiplier = 1 << 30
	case "TB":
		multiplier = 1e12
	case "TiB", "T":
		multiplier = 1 << 40
	default:
		return 0, fmt.Errorf("unknown size suffix: %q", suffix)
	}

	return uint64(num * multiplier), nil
}
