//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package sysmem

// Unprobed platforms use the fallback.
func totalSystemMemory() (uint64, bool) {
	return 0, false
}
