package infrastructure

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// SystemMemory reports host memory through gopsutil. It satisfies the
// worker-sizing probe of the linkage package.
type SystemMemory struct{}

// AvailableBytes returns the memory the OS can hand out without swapping.
func (SystemMemory) AvailableBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.Available, nil
}

// MemoryStats is a snapshot of host memory.
type MemoryStats struct {
	Total       uint64  `json:"total_bytes"`
	Available   uint64  `json:"available_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ReadMemoryStats returns the current host memory figures.
func ReadMemoryStats() (MemoryStats, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStats{}, fmt.Errorf("read virtual memory: %w", err)
	}
	return MemoryStats{
		Total:       vm.Total,
		Available:   vm.Available,
		UsedPercent: vm.UsedPercent,
	}, nil
}
