// Package memwatch samples process heap usage and notifies subscribers when
// it crosses a configured threshold, letting caches shed weight before the
// runtime is under real pressure.
package memwatch

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// HeapAllocMB returns the current heap allocation in mebibytes.
func HeapAllocMB() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc / (1 << 20)
}

// Monitor periodically samples heap usage.
type Monitor struct {
	thresholdMB uint64
	interval    time.Duration
	log         zerolog.Logger
	onPressure  []func()
}

// NewMonitor builds a monitor. A zero threshold disables it.
func NewMonitor(thresholdMB int, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		thresholdMB: uint64(max(thresholdMB, 0)),
		interval:    interval,
		log:         log,
	}
}

// OnPressure registers a callback invoked whenever a sample exceeds the
// threshold. Registration must finish before Run starts.
func (m *Monitor) OnPressure(fn func()) {
	m.onPressure = append(m.onPressure, fn)
}

// Run samples until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.thresholdMB == 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			allocMB := HeapAllocMB()
			if allocMB < m.thresholdMB {
				continue
			}
			m.log.Warn().
				Uint64("heap_alloc_mb", allocMB).
				Uint64("threshold_mb", m.thresholdMB).
				Msg("memory pressure detected")
			for _, fn := range m.onPressure {
				fn()
			}
		}
	}
}
