package monitoring

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemSnapshot is the host/process resource view reported by /health.
type SystemSnapshot struct {
	CPUPercent        float64 `json:"cpu_percent"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// SampleSystem collects a best-effort resource snapshot. Individual probe
// failures leave the corresponding field at zero rather than failing the
// health check.
func SampleSystem() SystemSnapshot {
	var snap SystemSnapshot

	// 100ms sample interval: long enough for a valid delta, short enough
	// for an interactive health endpoint.
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedPercent = vm.UsedPercent
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			snap.ProcessCPUPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			snap.ProcessMemoryMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	return snap
}
