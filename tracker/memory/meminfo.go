package memory

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
)

// MeminfoSampler reports system-wide used memory as
// MemTotal - MemFree - Buffers - Cached - Slab, which leaves out page cache and kernel
// slabs so the number tracks what processes actually hold.
type MeminfoSampler struct {
	fs procfs.FS
}

// NewMeminfoSampler reads from the default /proc mount.
func NewMeminfoSampler() (*MeminfoSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &MeminfoSampler{fs: fs}, nil
}

// NewMeminfoSamplerAt reads <mountPoint>/meminfo instead of the live /proc.
func NewMeminfoSamplerAt(mountPoint string) (*MeminfoSampler, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", mountPoint, err)
	}
	return &MeminfoSampler{fs: fs}, nil
}

// Sample implements Sampler.
func (s *MeminfoSampler) Sample() (uint64, error) {
	info, err := s.fs.Meminfo()
	if err != nil {
		return 0, samplingErr(SourceMeminfo, err)
	}
	used, err := usedFromMeminfo(info)
	if err != nil {
		return 0, samplingErr(SourceMeminfo, err)
	}
	return used, nil
}

// procfs reports these fields in kB.
func usedFromMeminfo(info procfs.Meminfo) (uint64, error) {
	fields := []struct {
		name string
		kb   *uint64
	}{
		{"MemTotal", info.MemTotal},
		{"MemFree", info.MemFree},
		{"Buffers", info.Buffers},
		{"Cached", info.Cached},
		{"Slab", info.Slab},
	}
	for _, f := range fields {
		if f.kb == nil {
			return 0, fmt.Errorf("meminfo is missing %s", f.name)
		}
	}

	total := *info.MemTotal
	reclaimable := *info.MemFree + *info.Buffers + *info.Cached + *info.Slab
	if reclaimable > total {
		return 0, errors.New("meminfo free and cached memory exceed MemTotal")
	}
	return (total - reclaimable) * 1024, nil
}
