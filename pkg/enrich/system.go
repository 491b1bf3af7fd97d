// Package enrich implements the built-in Enricher plugins: host
// resource sampling and distributed-tracing context extraction.
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"corelog/pkg/types"
)

// SystemEnricher adds a host CPU/memory snapshot to the event (the
// pipeline runner merges it into Data), resampled on an interval rather than on every event: CPU percentage is a
// delta between two cpu.Times() reads, so sampling on every call would
// make the window meaningless for high-throughput producers.
type SystemEnricher struct {
	interval time.Duration

	mu           sync.Mutex
	lastCPUTimes cpu.TimesStat
	lastSample   time.Time
	cachedCPU    float64
	cachedMemPct float64
}

// NewSystemEnricher constructs a SystemEnricher that resamples no more
// often than interval.
func NewSystemEnricher(interval time.Duration) *SystemEnricher {
	if interval <= 0 {
		interval = time.Second
	}
	return &SystemEnricher{interval: interval}
}

func (SystemEnricher) Name() string { return "system" }

func (e *SystemEnricher) Enrich(ctx context.Context, env *types.LogEnvelope) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.lastSample) >= e.interval {
		e.resample()
	}

	return map[string]any{
		"host_cpu_percent": e.cachedCPU,
		"host_mem_percent": e.cachedMemPct,
	}, nil
}

func (e *SystemEnricher) resample() {
	if times, err := cpu.Times(false); err == nil && len(times) > 0 {
		if !e.lastSample.IsZero() {
			total := times[0].Total() - e.lastCPUTimes.Total()
			idle := times[0].Idle - e.lastCPUTimes.Idle
			if total > 0 {
				e.cachedCPU = 100.0 * (total - idle) / total
			}
		}
		e.lastCPUTimes = times[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		e.cachedMemPct = vm.UsedPercent
	}

	e.lastSample = time.Now()
}
