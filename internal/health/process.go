package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats describes the running process.
type ProcessStats struct {
	PID            int     `json:"pid"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64  `json:"heap_sys_bytes"`
	RSSBytes       uint64  `json:"rss_bytes"`
	Goroutines     int     `json:"goroutines"`
	CPUPercent     float64 `json:"cpu_percent"`
}

// HeapMB returns allocated heap in megabytes.
func (p ProcessStats) HeapMB() float64 {
	return float64(p.HeapAllocBytes) / (1024 * 1024)
}

// RSSMB returns resident set size in megabytes.
func (p ProcessStats) RSSMB() float64 {
	return float64(p.RSSBytes) / (1024 * 1024)
}

// CollectProcessStats samples the current process. RSS and CPU are left at
// zero when the platform does not expose them.
func CollectProcessStats(ctx context.Context, startedAt time.Time) ProcessStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	pid := os.Getpid()
	stats := ProcessStats{
		PID:            pid,
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		Goroutines:     runtime.NumGoroutine(),
	}
	if !startedAt.IsZero() {
		stats.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}
