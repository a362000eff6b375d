// Package memdiag provides memory diagnostics for debugging memory usage.
//
// Enable periodic memory logging with IDX_MEM_DEBUG=1.
// Enable the pprof server with IDX_MEM_PPROF=1 (listens on :6060).
package memdiag

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/eunmann/idxgo/pkg/humanfmt"
	"github.com/rs/zerolog"
)

const pprofAddr = ":6060"

// Config holds configuration for memory diagnostics.
type Config struct {
	// Enabled controls whether memory diagnostics are active.
	Enabled bool

	// PprofEnabled controls whether the pprof server is started.
	PprofEnabled bool

	// LogInterval is the interval for periodic memory logging.
	LogInterval time.Duration
}

// DefaultConfig returns the default configuration, reading from environment.
func DefaultConfig() Config {
	return Config{
		Enabled:      os.Getenv("IDX_MEM_DEBUG") == "1",
		PprofEnabled: os.Getenv("IDX_MEM_PPROF") == "1",
		LogInterval:  5 * time.Second,
	}
}

// Stats holds memory statistics from runtime.
type Stats struct {
	HeapAlloc  uint64
	HeapSys    uint64
	HeapInuse  uint64
	StackInuse uint64
	Sys        uint64
	NumGC      uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:  m.HeapAlloc,
		HeapSys:    m.HeapSys,
		HeapInuse:  m.HeapInuse,
		StackInuse: m.StackInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

func size(b uint64) string {
	return humanfmt.Bytes(int64(b))
}

// Tracker logs memory usage over time. A Tracker can be started and
// stopped once.
type Tracker struct {
	config  Config
	log     zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	phase    string
	peakHeap uint64
}

// NewTracker creates a new memory tracker that logs to log.
func NewTracker(config Config, log zerolog.Logger) *Tracker {
	if config.LogInterval <= 0 {
		config.LogInterval = DefaultConfig().LogInterval
	}
	return &Tracker{
		config: config,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		phase:  "init",
	}
}

// Start begins periodic memory logging if enabled.
func (t *Tracker) Start() {
	if !t.config.Enabled || !t.started.CompareAndSwap(false, true) {
		return
	}

	t.log.Info().Msg("memory diagnostics enabled")

	if t.config.PprofEnabled {
		go func() {
			t.log.Info().Str("addr", pprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				t.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go t.logLoop()
}

// Stop stops periodic logging and waits for the final log line.
func (t *Tracker) Stop() {
	if !t.started.Load() || !t.stopped.CompareAndSwap(false, true) {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

// SetPhase sets the current phase for logging context.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()

	t.LogNow("phase_change")
}

func (t *Tracker) sample() (Stats, string, uint64) {
	stats := Read()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.peakHeap = max(t.peakHeap, stats.HeapAlloc)
	return stats, t.phase, t.peakHeap
}

// LogNow logs current memory stats immediately.
func (t *Tracker) LogNow(reason string) {
	if !t.config.Enabled {
		return
	}

	stats, phase, peak := t.sample()
	t.log.Debug().
		Str("reason", reason).
		Str("phase", phase).
		Str("heap_alloc", size(stats.HeapAlloc)).
		Str("heap_sys", size(stats.HeapSys)).
		Str("heap_inuse", size(stats.HeapInuse)).
		Str("stack_inuse", size(stats.StackInuse)).
		Str("sys_total", size(stats.Sys)).
		Str("peak_heap", size(peak)).
		Uint32("num_gc", stats.NumGC).
		Msg("memory stats")
}

// LogWithBudget logs memory stats next to the payload bytes reserved in a
// memory budget, and warns when the heap is far larger than the
// reservations account for.
func (t *Tracker) LogWithBudget(reason string, budgetInUse, budgetTotal uint64) {
	if !t.config.Enabled {
		return
	}

	stats, phase, peak := t.sample()

	var ratio float64
	if budgetInUse > 0 {
		ratio = float64(stats.HeapAlloc) / float64(budgetInUse)
	}

	t.log.Debug().
		Str("reason", reason).
		Str("phase", phase).
		Str("heap_alloc", size(stats.HeapAlloc)).
		Str("budget_inuse", size(budgetInUse)).
		Str("budget_total", size(budgetTotal)).
		Float64("heap_vs_budget_ratio", ratio).
		Str("peak_heap", size(peak)).
		Msg("memory stats with budget")

	if ratio > 2.0 && budgetInUse > 100*1024*1024 {
		t.log.Warn().
			Str("heap_alloc", size(stats.HeapAlloc)).
			Str("budget_inuse", size(budgetInUse)).
			Float64("ratio", ratio).
			Msg("heap usage significantly exceeds budget reservations")
	}
}

// PeakHeap returns the peak heap allocation seen.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

func (t *Tracker) logLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.config.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			t.LogNow("shutdown")
			return
		case <-ticker.C:
			t.LogNow("periodic")
		}
	}
}
