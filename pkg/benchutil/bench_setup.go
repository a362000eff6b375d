package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if IDX_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("IDX_LONG_BENCH") == "" {
		b.Skip("set IDX_LONG_BENCH=1 to run scaling benchmark")
	}
}

// Sizes returns BenchmarkSizes, plus ScalingSizes when IDX_LONG_BENCH is set.
func Sizes() []int {
	if os.Getenv("IDX_LONG_BENCH") == "" {
		return BenchmarkSizes
	}
	return append(append([]int(nil), BenchmarkSizes...), ScalingSizes...)
}
