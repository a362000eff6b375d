package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// Standard benchmark row counts for quick runs.
var BenchmarkSizes = []int{1000, 10000}

// ScalingSizes are larger row counts for scaling tests, up to the size of
// the MNIST training set. Used with IDX_LONG_BENCH=1.
var ScalingSizes = []int{10000, 30000, 60000}
