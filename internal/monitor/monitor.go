// Package monitor samples the CPU and memory use of the container that
// serves the target while a load test runs.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// DefaultInterval is the pause between two samples.
const DefaultInterval = 2 * time.Second

// Sample is one reading of a container's resource use.
type Sample struct {
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryMB   float64   `json:"memoryMB"`
}

// Source reads one sample for a container.
type Source interface {
	Sample(ctx context.Context, containerName string) (Sample, error)
}

// Summary aggregates the samples taken over a monitoring window.
type Summary struct {
	Container   string        `json:"container"`
	Duration    time.Duration `json:"duration"`
	Samples     int           `json:"samples"`
	Failed      int           `json:"failed"`
	AvgCPU      float64       `json:"avgCpuPercent"`
	MaxCPU      float64       `json:"maxCpuPercent"`
	AvgMemoryMB float64       `json:"avgMemoryMB"`
	MaxMemoryMB float64       `json:"maxMemoryMB"`
}

// ErrNoSamples is returned when the window ended without a single reading.
var ErrNoSamples = errors.New("no samples collected")

// Monitor polls a Source at a fixed interval.
type Monitor struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
}

// New creates a monitor. A zero interval uses DefaultInterval and a nil
// logger disables logging.
func New(source Source, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{source: source, interval: interval, logger: logger}
}

// Run samples containerName until duration elapses or ctx is done. Failed
// readings are logged and skipped. onSample, if set, sees every reading.
func (m *Monitor) Run(ctx context.Context, containerName string, duration time.Duration, onSample func(n int, s Sample)) (Summary, error) {
	if duration <= 0 {
		return Summary{}, fmt.Errorf("monitor duration must be positive, got %v", duration)
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	summary := Summary{Container: containerName}
	var cpuSum, memSum float64
	start := time.Now()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		s, err := m.source.Sample(ctx, containerName)
		switch {
		case err == nil:
			summary.Samples++
			cpuSum += s.CPUPercent
			memSum += s.MemoryMB
			summary.MaxCPU = max(summary.MaxCPU, s.CPUPercent)
			summary.MaxMemoryMB = max(summary.MaxMemoryMB, s.MemoryMB)
			if onSample != nil {
				onSample(summary.Samples, s)
			}
		case ctx.Err() == nil:
			summary.Failed++
			m.logger.Debug("sample failed", zap.String("container", containerName), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			summary.Duration = time.Since(start)
			if summary.Samples == 0 {
				return summary, ErrNoSamples
			}
			summary.AvgCPU = cpuSum / float64(summary.Samples)
			summary.AvgMemoryMB = memSum / float64(summary.Samples)
			return summary, nil
		case <-ticker.C:
		}
	}
}

// DockerSource reads container stats from the Docker Engine API.
type DockerSource struct {
	client *client.Client
}

// NewDockerSource connects to the daemon configured by the environment
// (DOCKER_HOST and friends) and checks that it answers.
func NewDockerSource(ctx context.Context) (*DockerSource, error) {
	apiClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := apiClient.Ping(ctx); err != nil {
		_ = apiClient.Close()
		return nil, fmt.Errorf("failed to connect to Docker: %w", err)
	}
	return &DockerSource{client: apiClient}, nil
}

// Close releases the client.
func (d *DockerSource) Close() error {
	return d.client.Close()
}

// Sample takes one non-streaming stats reading, which the daemon returns
// with the previous CPU reading filled in.
func (d *DockerSource) Sample(ctx context.Context, containerName string) (Sample, error) {
	resp, err := d.client.ContainerStats(ctx, containerName, false)
	if err != nil {
		return Sample{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Sample{}, fmt.Errorf("decode container stats: %w", err)
	}
	return SampleFromStats(&stats), nil
}

// SampleFromStats converts a stats reading into CPU percent and memory MB
// the same way `docker stats` does: CPU is the container's share of system
// time scaled by online CPUs, memory excludes the page cache.
func SampleFromStats(stats *container.StatsResponse) Sample {
	s := Sample{At: stats.Read}
	if s.At.IsZero() {
		s.At = time.Now()
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		s.CPUPercent = cpuDelta / systemDelta * onlineCPUs * 100
	}

	used := stats.MemoryStats.Usage
	// cgroup v2 reports inactive_file, v1 reports cache.
	if v, ok := stats.MemoryStats.Stats["inactive_file"]; ok && v < used {
		used -= v
	} else if v, ok := stats.MemoryStats.Stats["cache"]; ok && v < used {
		used -= v
	}
	s.MemoryMB = float64(used) / (1024 * 1024)

	return s
}
