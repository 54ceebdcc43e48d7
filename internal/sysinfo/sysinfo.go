// Package sysinfo probes the host for the status endpoint and the
// storage guard.
package sysinfo

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status is the system probe result.
type Status struct {
	UptimeSeconds  uint64  `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	CPUTempCelsius float64 `json:"cpu_temp_celsius,omitempty"`
	Load1          float64 `json:"load_1"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskUsedPct    float64 `json:"disk_used_percent"`
}

// Probe gathers a snapshot. Individual probe failures leave their field
// zero rather than failing the whole call; only the disk probe for path
// is mandatory.
func Probe(path string) (Status, error) {
	var s Status

	usage, err := disk.Usage(path)
	if err != nil {
		return s, err
	}
	s.DiskTotalBytes = usage.Total
	s.DiskFreeBytes = usage.Free
	s.DiskUsedPct = usage.UsedPercent

	if up, err := host.Uptime(); err == nil {
		s.UptimeSeconds = up
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedPercent = vm.UsedPercent
	}
	if temps, err := host.SensorsTemperatures(); err == nil {
		for _, t := range temps {
			if t.SensorKey == "cpu_thermal" || t.SensorKey == "coretemp" || t.SensorKey == "cpu-thermal" {
				s.CPUTempCelsius = t.Temperature
				break
			}
		}
	}
	return s, nil
}

// FreeBytes reports the free space on the volume holding path.
func FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
