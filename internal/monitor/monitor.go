// Package monitor reports host resources and refuses training when memory is short.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const mb = 1024 * 1024

// ErrInsufficientMemory is returned by CheckTrainingHeadroom.
var ErrInsufficientMemory = errors.New("insufficient free memory for training")

// Snapshot is a point-in-time view of host and process resources.
type Snapshot struct {
	TotalMemoryMB     uint64  `json:"total_memory_mb"`
	AvailableMemoryMB uint64  `json:"available_memory_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	LogicalCPUs       int     `json:"logical_cpus"`
	ProcessRSSMB      uint64  `json:"process_rss_mb"`
}

// Monitor samples resources on demand.
type Monitor struct {
	minFreeMB uint64
	sample    func(ctx context.Context) (Snapshot, error)
}

// New returns a monitor that requires minFreeMB of available memory before
// training. Zero disables the check.
func New(minFreeMB uint64) *Monitor {
	return &Monitor{minFreeMB: minFreeMB, sample: sampleHost}
}

// Snapshot samples the host now.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	return m.sample(ctx)
}

// CheckTrainingHeadroom fails with ErrInsufficientMemory when available memory
// is below the configured floor. Sampling errors are logged and do not block
// training.
func (m *Monitor) CheckTrainingHeadroom(ctx context.Context) error {
	if m.minFreeMB == 0 {
		return nil
	}
	snap, err := m.sample(ctx)
	if err != nil {
		log.Printf("Failed to sample memory, skipping headroom check: %v", err)
		return nil
	}
	if snap.AvailableMemoryMB < m.minFreeMB {
		return fmt.Errorf("%w: %d MB available, %d MB required", ErrInsufficientMemory, snap.AvailableMemoryMB, m.minFreeMB)
	}
	return nil
}

func sampleHost(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("virtual memory: %w", err)
	}
	snap := Snapshot{
		TotalMemoryMB:     vm.Total / mb,
		AvailableMemoryMB: vm.Available / mb,
		MemoryUsedPercent: vm.UsedPercent,
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.LogicalCPUs = n
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			snap.ProcessRSSMB = info.RSS / mb
		}
	}
	return snap, nil
}
