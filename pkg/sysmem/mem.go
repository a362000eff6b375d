// Package sysmem detects total system memory, used to size the default
// payload budget.
package sysmem

// DefaultMemoryBytes (4 GiB) is assumed when detection is unavailable.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result is a detected memory size.
type Result struct {
	TotalBytes uint64
	// Reliable is false when TotalBytes is the DefaultMemoryBytes fallback.
	Reliable bool
}

// Total returns total system memory, falling back to DefaultMemoryBytes.
func Total() Result {
	bytes, ok := totalSystemMemory()
	if !ok || bytes == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: bytes, Reliable: true}
}

// TotalBytes returns Total().TotalBytes.
func TotalBytes() uint64 {
	return Total().TotalBytes
}
