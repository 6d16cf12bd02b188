/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sampler

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// procUsageReader reads process resource usage from the proc filesystem.
type procUsageReader struct {
	fs procfs.FS
}

var _ UsageReader = (*procUsageReader)(nil)

func newProcUsageReader() (*procUsageReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open proc filesystem: %w", err)
	}
	return &procUsageReader{fs: fs}, nil
}

// ReadUsage reads the process CPU time and resident memory from /proc/self/stat
// and the total memory from /proc/meminfo.
func (r *procUsageReader) ReadUsage() (Usage, error) {
	proc, err := r.fs.Self()
	if err != nil {
		return Usage{}, fmt.Errorf("read self process: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("read process stat: %w", err)
	}

	usage := Usage{
		CPUTime:       stat.CPUTime(),
		ResidentBytes: uint64(stat.ResidentMemory()),
	}

	// Total memory is best-effort: if meminfo is unreadable, leave it zero
	// and let the sampler approximate.
	if meminfo, miErr := r.fs.Meminfo(); miErr == nil && meminfo.MemTotal != nil {
		usage.TotalMemoryBytes = *meminfo.MemTotal * 1024
	}

	return usage, nil
}
