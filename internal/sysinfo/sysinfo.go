// Package sysinfo samples host health: memory, disk, load and uptime
package sysinfo

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// Fallback readings used when a sub-read fails
const (
	FallbackMemory  = 50
	FallbackDisk    = 5
	FallbackUptime  = "0d"
	FallbackCPULoad = 1.0
)

// DefaultExcludedFilesystems are virtual or temporary filesystems whose usage
// says nothing about the node's storage
var DefaultExcludedFilesystems = []string{
	"tmpfs", "devtmpfs", "udev", "overlay", "squashfs",
	"proc", "sysfs", "cgroup", "devpts", "mqueue", "nsfs", "ramfs",
}

// Partition is the usage of one mounted filesystem
type Partition struct {
	Device     string
	Mountpoint string
	Fstype     string
	Total      uint64
	Used       uint64
	Percent    float64
}

// Probe reads raw host figures
type Probe interface {
	MemoryPercent(ctx context.Context) (float64, error)
	Partitions(ctx context.Context) ([]Partition, error)
	Load1(ctx context.Context) (float64, error)
	Uptime(ctx context.Context) (time.Duration, error)
}

// Sampler turns probe readings into a SystemSnapshot
type Sampler struct {
	probe    Probe
	timeout  time.Duration
	excluded []string
	logger   *logging.Logger
	now      func() time.Time
}

// Config holds sampler settings
type Config struct {
	Timeout            time.Duration
	ExcludeFilesystems []string
}

// NewSampler creates a sampler. A nil probe reads the local host
func NewSampler(probe Probe, cfg Config, logger *logging.Logger) *Sampler {
	if probe == nil {
		probe = HostProbe{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if len(cfg.ExcludeFilesystems) == 0 {
		cfg.ExcludeFilesystems = DefaultExcludedFilesystems
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Sampler{
		probe:    probe,
		timeout:  cfg.Timeout,
		excluded: cfg.ExcludeFilesystems,
		logger:   logger.WithComponent("sysinfo"),
		now:      time.Now,
	}
}

// Sample reads the host. It never fails: every field that cannot be read
// takes its fallback value on its own
func (s *Sampler) Sample(ctx context.Context) types.SystemSnapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := types.SystemSnapshot{
		Memory:    FallbackMemory,
		Disk:      FallbackDisk,
		Uptime:    FallbackUptime,
		CPULoad:   FallbackCPULoad,
		Timestamp: s.now().UTC(),
	}

	if pct, err := s.probe.MemoryPercent(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		snap.Memory = int(math.Round(pct))
	}

	if parts, err := s.probe.Partitions(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read disk usage")
	} else if pct, ok := s.maxDiskUsage(parts); ok {
		snap.Disk = pct
	}

	if load1, err := s.probe.Load1(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read load average")
	} else {
		snap.CPULoad = math.Round(load1*100) / 100
	}

	if up, err := s.probe.Uptime(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read uptime")
	} else {
		snap.Uptime = FormatUptime(up)
	}

	return snap
}

// maxDiskUsage logs every counted partition and reports the highest usage
// ok is false when no partition reported any usage
func (s *Sampler) maxDiskUsage(parts []Partition) (int, bool) {
	counted := FilterPartitions(parts, s.excluded)

	highest := 0
	for _, p := range counted {
		pct := int(math.Round(p.Percent))
		s.logger.Debug().
			Str("filesystem", p.Device).
			Str("mount", p.Mountpoint).
			Int("percent", pct).
			Uint64("used", p.Used).
			Uint64("total", p.Total).
			Msg("Disk usage")
		if pct > highest {
			highest = pct
		}
	}

	if highest == 0 {
		return 0, false
	}
	s.logger.Debug().Int("percent", highest).Msg("Reporting highest disk usage")
	return highest, true
}

// FilterPartitions drops partitions whose device or filesystem type names
// one of the excluded filesystems
func FilterPartitions(parts []Partition, excluded []string) []Partition {
	out := make([]Partition, 0, len(parts))
	for _, p := range parts {
		if isExcluded(p, excluded) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isExcluded(p Partition, excluded []string) bool {
	for _, name := range excluded {
		if strings.Contains(p.Device, name) || p.Fstype == name {
			return true
		}
	}
	return false
}

// FormatUptime renders a duration the way `uptime -p` does, without the
// leading "up "
func FormatUptime(d time.Duration) string {
	minutes := int64(d / time.Minute)

	weeks := minutes / (7 * 24 * 60)
	minutes -= weeks * 7 * 24 * 60
	days := minutes / (24 * 60)
	minutes -= days * 24 * 60
	hours := minutes / 60
	minutes -= hours * 60

	var parts []string
	add := func(n int64, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	add(weeks, "week")
	add(days, "day")
	add(hours, "hour")
	add(minutes, "minute")

	if len(parts) == 0 {
		return "0 minutes"
	}
	return strings.Join(parts, ", ")
}

// HostProbe reads the local host through gopsutil
type HostProbe struct{}

// MemoryPercent implements Probe
func (HostProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// Partitions implements Probe. Partitions whose usage cannot be read are
// skipped
func (HostProbe) Partitions(ctx context.Context) ([]Partition, error) {
	stats, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	parts := make([]Partition, 0, len(stats))
	for _, st := range stats {
		usage, err := disk.UsageWithContext(ctx, st.Mountpoint)
		if err != nil {
			continue
		}
		parts = append(parts, Partition{
			Device:     st.Device,
			Mountpoint: st.Mountpoint,
			Fstype:     st.Fstype,
			Total:      usage.Total,
			Used:       usage.Used,
			Percent:    usage.UsedPercent,
		})
	}
	return parts, nil
}

// Load1 implements Probe
func (HostProbe) Load1(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read load average: %w", err)
	}
	return avg.Load1, nil
}

// Uptime implements Probe
func (HostProbe) Uptime(ctx context.Context) (time.Duration, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read uptime: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}
