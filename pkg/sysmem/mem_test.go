package sysmem

import (
	"runtime"
	"testing"
)

func TestTotal(t *testing.T) {
	result := Total()

	if result.TotalBytes == 0 {
		t.Fatal("Total() returned 0 bytes")
	}

	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly":
		if !result.Reliable {
			t.Errorf("Reliable = false on %s, want detected memory", runtime.GOOS)
		}
	default:
		if result.Reliable {
			t.Errorf("Reliable = true on %s, want fallback", runtime.GOOS)
		}
		if result.TotalBytes != DefaultMemoryBytes {
			t.Errorf("TotalBytes = %d on %s, want %d", result.TotalBytes, runtime.GOOS, DefaultMemoryBytes)
		}
	}

	t.Logf("Detected memory: %d bytes, reliable=%v", result.TotalBytes, result.Reliable)
}

func TestTotalBytes(t *testing.T) {
	if got, want := TotalBytes(), Total().TotalBytes; got != want {
		t.Errorf("TotalBytes() = %d, Total().TotalBytes = %d", got, want)
	}
}
