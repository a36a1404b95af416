// Package governor samples process resource usage on a fixed interval
// and applies relief actions when thresholds are exceeded.
package governor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultInterval is the sampling period.
	defaultInterval = 2 * time.Second
	// defaultMemoryLimitMB triggers a forced memory release when exceeded.
	defaultMemoryLimitMB = 100
	// defaultCPULoadLimit triggers a sampling cooldown when exceeded.
	defaultCPULoadLimit = 2.0
	// loadCooldown is the extra pause applied after a high-load sample.
	loadCooldown = time.Second
)

// Sample is one resource measurement.
type Sample struct {
	HeapMB  float64
	Load1m  float64
	LoadOK  bool // false when the load average is unavailable
}

// Sampler produces resource measurements. The default reads the Go
// runtime heap and /proc/loadavg.
type Sampler func() Sample

// Governor runs the periodic resource check loop.
type Governor struct {
	logger        *zap.Logger
	interval      time.Duration
	memoryLimitMB float64
	cpuLoadLimit  float64
	sample        Sampler
	release       func() // memory relief action
	cooldown      func(time.Duration)
}

// Opts holds parameters for creating a Governor.
type Opts struct {
	Logger        *zap.Logger
	Interval      time.Duration // defaults to 2s
	MemoryLimitMB float64       // defaults to 100
	CPULoadLimit  float64       // defaults to 2.0
	Sampler       Sampler       // defaults to the runtime/procfs sampler
	Release       func()        // defaults to debug.FreeOSMemory
	Cooldown      func(time.Duration)
}

// New creates a Governor.
func New(opts Opts) (*Governor, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MemoryLimitMB <= 0 {
		opts.MemoryLimitMB = defaultMemoryLimitMB
	}
	if opts.CPULoadLimit <= 0 {
		opts.CPULoadLimit = defaultCPULoadLimit
	}
	if opts.Sampler == nil {
		opts.Sampler = defaultSampler
	}
	if opts.Release == nil {
		opts.Release = debug.FreeOSMemory
	}
	if opts.Cooldown == nil {
		opts.Cooldown = func(d time.Duration) { time.Sleep(d) }
	}
	return &Governor{
		logger:        opts.Logger,
		interval:      opts.Interval,
		memoryLimitMB: opts.MemoryLimitMB,
		cpuLoadLimit:  opts.CPULoadLimit,
		sample:        opts.Sampler,
		release:       opts.Release,
		cooldown:      opts.Cooldown,
	}, nil
}

// Run samples on each tick until the context is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.check()
		}
	}
}

// check evaluates one sample against the thresholds.
func (g *Governor) check() {
	s := g.sample()

	if s.HeapMB > g.memoryLimitMB {
		g.logger.Warn("memory usage above limit, forcing release",
			zap.Float64("heap_mb", s.HeapMB),
			zap.Float64("limit_mb", g.memoryLimitMB))
		g.release()
	}

	if s.LoadOK && s.Load1m > g.cpuLoadLimit {
		g.logger.Warn("cpu load above limit, pausing sampling",
			zap.Float64("load_1m", s.Load1m),
			zap.Float64("limit", g.cpuLoadLimit))
		g.cooldown(loadCooldown)
	}
}

// defaultSampler reads the heap size from the Go runtime and the 1-minute
// load average from /proc/loadavg.
func defaultSampler() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Sample{HeapMB: float64(ms.HeapAlloc) / (1024 * 1024)}

	load, err := readLoadAvg("/proc/loadavg")
	if err == nil {
		s.Load1m = load
		s.LoadOK = true
	}
	return s
}

// readLoadAvg parses the 1-minute load average from a loadavg file.
func readLoadAvg(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("governor: malformed loadavg %q", string(data))
	}
	return strconv.ParseFloat(fields[0], 64)
}
