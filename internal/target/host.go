package target

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how often the host is actually probed; requests in
// between share the last snapshot.
const DefaultCacheTTL = 100 * time.Millisecond

const mb = 1024 * 1024

// HostMetrics is the body of GET /metrics.
type HostMetrics struct {
	System  SystemMetrics  `json:"system"`
	Memory  MemoryMetrics  `json:"memory"`
	CPU     CPUMetrics     `json:"cpu"`
	Disk    DiskMetrics    `json:"disk"`
	Network NetworkMetrics `json:"network"`
}

type SystemMetrics struct {
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"go_version"`
	Uptime       string `json:"uptime"`
	Timestamp    string `json:"timestamp"`
}

type MemoryMetrics struct {
	TotalMB     uint64  `json:"total_mb"`
	UsedMB      uint64  `json:"used_mb"`
	FreeMB      uint64  `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type CPUMetrics struct {
	Cores        int     `json:"cores"`
	UsagePercent float64 `json:"usage_percent"`
}

type DiskMetrics struct {
	TotalGB     uint64  `json:"total_gb"`
	UsedGB      uint64  `json:"used_gb"`
	FreeGB      uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

type NetworkMetrics struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// HostCollector gathers HostMetrics with gopsutil and caches them for ttl.
//
// A section the platform cannot report is left zero and logged at debug;
// the system section is always filled so the response stays usable.
type HostCollector struct {
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	cached    *HostMetrics
	collected time.Time
}

// NewHostCollector creates a collector. A nil logger disables logging.
func NewHostCollector(ttl time.Duration, logger *zap.Logger) *HostCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostCollector{ttl: ttl, logger: logger}
}

// Collect returns the current snapshot, reusing the cached one while it is
// younger than the ttl.
func (c *HostCollector) Collect() HostMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.collected) < c.ttl {
		return *c.cached
	}

	m := c.collect()
	c.cached = &m
	c.collected = time.Now()
	return m
}

func (c *HostCollector) collect() HostMetrics {
	now := time.Now()
	m := HostMetrics{
		System: SystemMetrics{
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
			GoVersion:    runtime.Version(),
			Timestamp:    now.Format(time.RFC3339Nano),
		},
	}

	if info, err := host.Info(); err == nil {
		m.System.Hostname = info.Hostname
		m.System.Platform = info.Platform
		m.System.Uptime = (time.Duration(info.Uptime) * time.Second).String()
		if info.KernelArch != "" {
			m.System.Architecture = info.KernelArch
		}
	} else {
		c.logger.Debug("host info unavailable", zap.Error(err))
		m.System.Hostname, _ = os.Hostname()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.Memory = MemoryMetrics{
			TotalMB:     vm.Total / mb,
			UsedMB:      vm.Used / mb,
			FreeMB:      vm.Free / mb,
			UsedPercent: vm.UsedPercent,
		}
	} else {
		c.logger.Debug("memory stats unavailable", zap.Error(err))
	}

	if cores, err := cpu.Counts(false); err == nil {
		m.CPU.Cores = cores
	} else {
		c.logger.Debug("cpu count unavailable", zap.Error(err))
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPU.UsagePercent = pct[0]
	}

	if du, err := disk.Usage("/"); err == nil {
		m.Disk = DiskMetrics{
			TotalGB:     du.Total / (mb * 1024),
			UsedGB:      du.Used / (mb * 1024),
			FreeGB:      du.Free / (mb * 1024),
			UsedPercent: du.UsedPercent,
		}
	} else {
		c.logger.Debug("disk stats unavailable", zap.Error(err))
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		m.Network = NetworkMetrics{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}

	return m
}
