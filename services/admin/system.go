package admin

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/needful-app/needful/internal/httputil"
)

// HostStatus describes the machine the API runs on.
type HostStatus struct {
	Hostname        string  `json:"hostname,omitempty"`
	OS              string  `json:"os,omitempty"`
	Platform        string  `json:"platform,omitempty"`
	PlatformVersion string  `json:"platform_version,omitempty"`
	KernelVersion   string  `json:"kernel_version,omitempty"`
	UptimeSeconds   uint64  `json:"uptime_seconds,omitempty"`
	CPUs            int     `json:"cpus"`
	CPUPercent      float64 `json:"cpu_percent"`
	Load1           float64 `json:"load_1"`
	Load5           float64 `json:"load_5"`
	Load15          float64 `json:"load_15"`
	MemoryTotal     uint64  `json:"memory_total"`
	MemoryUsed      uint64  `json:"memory_used"`
	MemoryPercent   float64 `json:"memory_percent"`
}

// RuntimeStatus describes the Go process.
type RuntimeStatus struct {
	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc"`
	HeapSys       uint64 `json:"heap_sys"`
	NumGC         uint32 `json:"num_gc"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SystemStatus is the body of GET /admin/system.
type SystemStatus struct {
	Service  string            `json:"service"`
	Version  string            `json:"version"`
	Host     HostStatus        `json:"host"`
	Runtime  RuntimeStatus     `json:"runtime"`
	Warnings map[string]string `json:"warnings,omitempty"`
}

func (s *Service) handleSystem(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		Service: s.Name(),
		Version: s.Version(),
		Runtime: s.runtimeStatus(),
	}
	status.Host, status.Warnings = hostStatus(r.Context())
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Service) runtimeStatus() RuntimeStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStatus{
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     ms.HeapAlloc,
		HeapSys:       ms.HeapSys,
		NumGC:         ms.NumGC,
		UptimeSeconds: int64(s.now().Sub(s.started) / time.Second),
	}
}

// hostStatus collects what the platform exposes. Probes that fail are
// reported as warnings instead of failing the request.
func hostStatus(ctx context.Context) (HostStatus, map[string]string) {
	var hs HostStatus
	warnings := map[string]string{}

	if info, err := host.InfoWithContext(ctx); err != nil {
		warnings["host"] = err.Error()
	} else {
		hs.Hostname = info.Hostname
		hs.OS = info.OS
		hs.Platform = info.Platform
		hs.PlatformVersion = info.PlatformVersion
		hs.KernelVersion = info.KernelVersion
		hs.UptimeSeconds = info.Uptime
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		warnings["cpu_count"] = err.Error()
	} else {
		hs.CPUs = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		warnings["cpu_percent"] = err.Error()
	} else if len(pct) > 0 {
		hs.CPUPercent = pct[0]
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		warnings["load"] = err.Error()
	} else {
		hs.Load1, hs.Load5, hs.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		warnings["memory"] = err.Error()
	} else {
		hs.MemoryTotal = vm.Total
		hs.MemoryUsed = vm.Used
		hs.MemoryPercent = vm.UsedPercent
	}

	if len(warnings) == 0 {
		warnings = nil
	}
	return hs, warnings
}
