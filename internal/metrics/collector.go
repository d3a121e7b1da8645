// Package metrics samples system resource usage while an import runs.
// Boundary assembly is CPU bound and the PBF scan is disk bound, so the
// snapshot carries both sides.
package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot is one sample of system state.
type Snapshot struct {
	CPUPercent        float64
	ProcessCPUPercent float64
	IOWaitPercent     float64
	MemoryUsedGB      float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// Collector periodically samples and logs system metrics.
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool

	mu   sync.RWMutex
	last *Snapshot
}

// NewCollector creates a collector. Intervals below one second fall
// back to 30s.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start samples until the context is cancelled. The first sample is
// taken immediately to seed the disk and CPU baselines.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("metrics collection stopped")
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// Last returns the most recent snapshot, or nil before the first sample.
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) sample() {
	snap := &Snapshot{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			snap.ProcessCPUPercent = pct
		}
	}
	snap.IOWaitPercent = c.iowait()

	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vmem.UsedPercent
		snap.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
	}

	snap.DiskReadMBps, snap.DiskWriteMBps = c.diskRates()

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	c.logger.Info("system metrics",
		zap.Float64("sys_cpu", snap.CPUPercent),
		zap.Float64("proc_cpu", snap.ProcessCPUPercent),
		zap.Float64("iowait", snap.IOWaitPercent),
		zap.Float64("mem_pct", snap.MemoryPercent),
		zap.String("mem_used", fmt.Sprintf("%.1f GB", snap.MemoryUsedGB)),
		zap.String("disk_r", fmt.Sprintf("%.1f MB/s", snap.DiskReadMBps)),
		zap.String("disk_w", fmt.Sprintf("%.1f MB/s", snap.DiskWriteMBps)),
	)
}

// iowait derives the I/O wait percentage from aggregate CPU time deltas.
func (c *Collector) iowait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	current := times[0]
	if !c.hasCPU {
		c.lastCPU = current
		c.hasCPU = true
		return 0
	}

	last := c.lastCPU
	total := (current.User - last.User) +
		(current.System - last.System) +
		(current.Idle - last.Idle) +
		(current.Iowait - last.Iowait) +
		(current.Irq - last.Irq) +
		(current.Softirq - last.Softirq) +
		(current.Steal - last.Steal)
	wait := current.Iowait - last.Iowait
	c.lastCPU = current

	if total <= 0 {
		return 0
	}
	return wait / total * 100
}

func (c *Collector) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()

	if c.lastDisk == nil {
		c.lastDisk = counters
		c.lastDiskTime = now
		return 0, 0
	}

	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var readDelta, writeDelta uint64
	for name, counter := range counters {
		last, ok := c.lastDisk[name]
		if !ok {
			continue
		}
		// Counters can wrap on long runs.
		if counter.ReadBytes >= last.ReadBytes {
			readDelta += counter.ReadBytes - last.ReadBytes
		}
		if counter.WriteBytes >= last.WriteBytes {
			writeDelta += counter.WriteBytes - last.WriteBytes
		}
	}
	c.lastDisk = counters
	c.lastDiskTime = now

	readMBps = float64(readDelta) / elapsed / (1 << 20)
	writeMBps = float64(writeDelta) / elapsed / (1 << 20)
	return readMBps, writeMBps
}
