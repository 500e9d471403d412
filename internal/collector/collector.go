package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/detect"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/scanner"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const cpuSampleInterval = 500 * time.Millisecond

// Collector samples the live host through /proc and conventional log files.
// It doubles as the metric source scanners probe at execution time.
type Collector struct {
	logger *slog.Logger
	cfg    config.DataConfig
	fs     procfs.FS
	window *windowFile
}

// New opens /proc and prepares the persisted sample window.
func New(logger *slog.Logger, cfg config.DataConfig) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := procfs.NewFS("/proc")
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	window, err := newWindowFile(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &Collector{logger: logger, cfg: cfg, fs: fs, window: window}, nil
}

// Snapshot returns one live reading of the system-level metrics. It blocks
// for one short CPU sampling interval.
func (c *Collector) Snapshot(ctx context.Context) (map[string]float64, error) {
	cpu, err := c.cpuPercent(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu sample: %w", err)
	}
	mem, err := c.memoryPercent()
	if err != nil {
		return nil, fmt.Errorf("memory sample: %w", err)
	}
	disk, err := diskUsagePercent("/")
	if err != nil {
		return nil, fmt.Errorf("disk sample: %w", err)
	}
	conns, err := c.connectionCount()
	if err != nil {
		c.logger.Debug("connection count unavailable", "error", err)
		conns = 0
	}
	procs, err := c.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("process list: %w", err)
	}

	return map[string]float64{
		"cpu_percent":         cpu,
		"memory_percent":      mem,
		"disk_usage_percent":  disk,
		"network_connections": float64(conns),
		"process_count":       float64(len(procs)),
	}, nil
}

// Collect takes one sampling pass, appends it to the persisted window, and
// returns the full detection window: all retained system and process samples
// plus fresh per-service log digests.
func (c *Collector) Collect(ctx context.Context) (detect.Window, error) {
	now := time.Now().UTC()

	values, err := c.Snapshot(ctx)
	if err != nil {
		return detect.Window{}, utils.NewAppError("collector.collect", utils.KindDataUnavailable,
			"sample host metrics", err)
	}
	system := models.MetricSample{Timestamp: now, Scope: models.ScopeSystem, Values: values}

	process := c.collectProcesses(now)
	logs := c.collectLogs(now)

	retained, err := c.window.append(system, process, now.Add(-time.Duration(c.cfg.WindowHours)*time.Hour))
	if err != nil {
		return detect.Window{}, err
	}

	c.logger.Info("collection pass complete",
		"system_samples", len(retained.System),
		"process_samples", len(retained.Process),
		"log_services", len(logs))
	return detect.Window{System: retained.System, Process: retained.Process, Logs: logs}, nil
}

// collectProcesses samples every running process whose name matches a key
// service. Per-process CPU is averaged over process lifetime, which is cheap
// and good enough for outlier detection.
func (c *Collector) collectProcesses(now time.Time) []models.MetricSample {
	procs, err := c.fs.AllProcs()
	if err != nil {
		c.logger.Warn("process listing failed", "error", err)
		return nil
	}

	uptime := hostUptime(c.fs)
	memTotal := c.memTotalBytes()

	var samples []models.MetricSample
	for _, p := range procs {
		comm, err := p.Comm()
		if err != nil {
			continue
		}
		name := matchKeyService(comm, c.cfg.KeyServices)
		if name == "" {
			continue
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}

		cpu := 0.0
		if uptime > 0 {
			cpu = stat.CPUTime() / uptime * 100
		}
		mem := 0.0
		if memTotal > 0 {
			mem = float64(stat.ResidentMemory()) / memTotal * 100
		}
		samples = append(samples, models.MetricSample{
			Timestamp: now,
			Scope:     models.ScopeProcess,
			Name:      name,
			PID:       p.PID,
			Values: map[string]float64{
				"cpu_percent":    cpu,
				"memory_percent": mem,
				"threads":        float64(stat.NumThreads),
			},
		})
	}
	return samples
}

// collectLogs digests the conventional log files of every key service.
func (c *Collector) collectLogs(now time.Time) []models.LogSummary {
	var summaries []models.LogSummary
	for _, svc := range c.cfg.KeyServices {
		summary, ok := summarizeLogs(svc, scanner.LogPathsFor(svc), now)
		if !ok {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (c *Collector) cpuPercent(ctx context.Context) (float64, error) {
	before, err := c.fs.Stat()
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(cpuSampleInterval):
	}
	after, err := c.fs.Stat()
	if err != nil {
		return 0, err
	}

	idleDelta := (after.CPUTotal.Idle + after.CPUTotal.Iowait) - (before.CPUTotal.Idle + before.CPUTotal.Iowait)
	totalDelta := cpuTotal(after.CPUTotal) - cpuTotal(before.CPUTotal)
	if totalDelta <= 0 {
		return 0, nil
	}
	busy := (totalDelta - idleDelta) / totalDelta * 100
	if busy < 0 {
		busy = 0
	}
	return busy, nil
}

func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func (c *Collector) memoryPercent() (float64, error) {
	mi, err := c.fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo missing totals")
	}
	used := float64(*mi.MemTotal-*mi.MemAvailable) / float64(*mi.MemTotal) * 100
	return used, nil
}

func (c *Collector) memTotalBytes() float64 {
	mi, err := c.fs.Meminfo()
	if err != nil || mi.MemTotal == nil {
		return 0
	}
	return float64(*mi.MemTotal) * 1024
}

func (c *Collector) connectionCount() (int, error) {
	tcp, err := c.fs.NetTCP()
	if err != nil {
		return 0, err
	}
	count := len(tcp)
	if tcp6, err := c.fs.NetTCP6(); err == nil {
		count += len(tcp6)
	}
	return count, nil
}

func diskUsagePercent(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := float64(stat.Blocks) * float64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := float64(stat.Bavail) * float64(stat.Bsize)
	return (total - free) / total * 100, nil
}

func hostUptime(fs procfs.FS) float64 {
	stat, err := fs.Stat()
	if err != nil || stat.BootTime == 0 {
		return 0
	}
	return time.Since(time.Unix(int64(stat.BootTime), 0)).Seconds()
}

// matchKeyService maps a process comm to the key service it belongs to.
// Comm values are truncated and often suffixed (mysqld, redis-server), so
// matching is by prefix in both directions. First configured match wins.
func matchKeyService(comm string, services []string) string {
	comm = strings.ToLower(comm)
	for _, svc := range services {
		if strings.HasPrefix(comm, svc) || strings.HasPrefix(svc, comm) {
			return svc
		}
	}
	return ""
}
