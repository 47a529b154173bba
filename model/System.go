package model

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
)

// SystemSnapshot is the host resource usage reported by one poll.
type SystemSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
}

const gigabyte = 1024 * 1024 * 1024

// cpuSampleWindow is how long the CPU usage is sampled for a single local snapshot.
var cpuSampleWindow = time.Second

// GetLocalSystemInfo measures the host this process runs on, with the same fields and units as
// the backend's /api/system.
func GetLocalSystemInfo(ctx context.Context) (SystemSnapshot, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return SystemSnapshot{}, errors.Wrap(err, "reading cpu usage")
	}
	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemSnapshot{}, errors.Wrap(err, "reading memory usage")
	}
	diskUsage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return SystemSnapshot{}, errors.Wrap(err, "reading disk usage")
	}

	snapshot := SystemSnapshot{
		MemoryPercent: memory.UsedPercent,
		MemoryUsedGB:  float64(memory.Used) / gigabyte,
		MemoryTotalGB: float64(memory.Total) / gigabyte,
		DiskPercent:   diskUsage.UsedPercent,
		DiskUsedGB:    float64(diskUsage.Used) / gigabyte,
		DiskTotalGB:   float64(diskUsage.Total) / gigabyte,
	}
	if len(cpuPercent) > 0 {
		snapshot.CPUPercent = cpuPercent[0]
	}
	return snapshot, nil
}
