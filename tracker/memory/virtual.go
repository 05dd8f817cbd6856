package memory

import (
	sysmem "github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/mem"
)

// VirtualSampler reports system-wide used memory through gopsutil, which works on
// platforms without procfs.
type VirtualSampler struct{}

// NewVirtualSampler returns a VirtualSampler.
func NewVirtualSampler() *VirtualSampler {
	return &VirtualSampler{}
}

// Sample implements Sampler.
func (VirtualSampler) Sample() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, samplingErr(SourceVirtual, err)
	}
	return vm.Used, nil
}

// TotalMemory returns the physical memory of the machine in bytes, or 0 if unknown.
func TotalMemory() uint64 {
	return sysmem.TotalMemory()
}

// FractionOfTotal returns usage as a fraction of physical memory, or 0 if unknown.
func FractionOfTotal(usage uint64) float64 {
	total := TotalMemory()
	if total == 0 {
		return 0
	}
	return float64(usage) / float64(total)
}
