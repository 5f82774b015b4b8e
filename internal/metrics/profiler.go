package metrics

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one point-in-time reading the profiler takes.
type Sample struct {
	At         time.Time
	RSSBytes   uint64
	Goroutines int
}

// Profiler periodically samples process RSS and goroutine count, detects
// steady state, and flags sustained growth that looks like a leak rather
// than working-set warmup. It reads /proc/self/status directly on Linux,
// with a runtime.MemStats fallback elsewhere.
type Profiler struct {
	reg      *Registry
	logger   *zap.Logger
	interval time.Duration

	// steadyStateBytes is the RSS variance, over the trailing window,
	// below which the profiler considers the process to have reached
	// steady state rather than still warming up.
	steadyStateBytes uint64

	mu      sync.Mutex
	window  []Sample
	steady  bool
}

const profilerWindowSize = 5

// NewProfiler builds a Profiler reporting into reg (nil-safe) and logging
// through logger. steadyStateBytes is the configured RSS variance
// threshold (config.MetricsConfig.SteadyStateBytes).
func NewProfiler(reg *Registry, logger *zap.Logger, interval time.Duration, steadyStateBytes uint64) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{
		reg:              reg,
		logger:           logger,
		interval:         interval,
		steadyStateBytes: steadyStateBytes,
	}
}

// Run samples on Profiler's interval until ctx is cancelled.
func (p *Profiler) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Profiler) sample() {
	rss := readRSSBytes()
	goroutines := runtime.NumGoroutine()
	s := Sample{At: time.Now(), RSSBytes: rss, Goroutines: goroutines}

	p.mu.Lock()
	p.window = append(p.window, s)
	if len(p.window) > profilerWindowSize {
		p.window = p.window[len(p.window)-profilerWindowSize:]
	}
	wasSteady := p.steady
	p.steady = p.isSteadyLocked()
	full := len(p.window) == profilerWindowSize
	p.mu.Unlock()

	p.reg.setProcessStats(rss, goroutines)

	if full && !p.steady && wasSteady {
		p.logger.Warn("process RSS left steady state, possible leak",
			zap.Uint64("rss_bytes", rss),
			zap.Int("goroutines", goroutines),
		)
	}
}

// isSteadyLocked reports whether the trailing window's RSS variance is
// below the configured threshold. Requires p.mu held.
func (p *Profiler) isSteadyLocked() bool {
	if len(p.window) < profilerWindowSize {
		return false
	}
	var min, max uint64
	min, max = p.window[0].RSSBytes, p.window[0].RSSBytes
	for _, s := range p.window[1:] {
		if s.RSSBytes < min {
			min = s.RSSBytes
		}
		if s.RSSBytes > max {
			max = s.RSSBytes
		}
	}
	return max-min <= p.steadyStateBytes
}

// Steady reports whether the process has reached steady-state RSS over the
// trailing sample window.
func (p *Profiler) Steady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steady
}

// readRSSBytes returns the process's resident set size. On Linux it reads
// VmRSS from /proc/self/status; elsewhere it falls back to the Go runtime's
// heap-in-use figure, which understates true RSS but still tracks growth.
func readRSSBytes() uint64 {
	if runtime.GOOS == "linux" {
		if rss, ok := readLinuxVmRSS(); ok {
			return rss
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse + ms.StackInuse
}

func readLinuxVmRSS() (uint64, bool) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
