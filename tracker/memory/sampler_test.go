package memory

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeMeminfo = `MemTotal:       16000000 kB
MemFree:         4000000 kB
MemAvailable:    9000000 kB
Buffers:          500000 kB
Cached:          3000000 kB
SwapCached:            0 kB
Slab:             500000 kB
`

func writeProcDir(t *testing.T, meminfo string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0644))
	return dir
}

func TestMeminfoSampler_UsedExcludesCachesAndSlab(t *testing.T) {
	// GIVEN a procfs mount with a known meminfo
	s, err := NewMeminfoSamplerAt(writeProcDir(t, fakeMeminfo))
	require.NoError(t, err)

	// WHEN sampled
	used, err := s.Sample()

	// THEN used = total - free - buffers - cached - slab, in bytes
	require.NoError(t, err)
	assert.Equal(t, uint64(16000000-4000000-500000-3000000-500000)*1024, used)
}

func TestMeminfoSampler_MissingField_IsSamplingError(t *testing.T) {
	s, err := NewMeminfoSamplerAt(writeProcDir(t, "MemTotal: 1000 kB\nMemFree: 10 kB\n"))
	require.NoError(t, err)

	_, err = s.Sample()

	var se *SamplingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SourceMeminfo, se.Source)
	assert.Contains(t, err.Error(), "Buffers")
}

func TestMeminfoSampler_UnreadableSource_IsSamplingError(t *testing.T) {
	// GIVEN a procfs mount whose meminfo disappears mid-run
	dir := writeProcDir(t, fakeMeminfo)
	s, err := NewMeminfoSamplerAt(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "meminfo")))

	// WHEN sampled
	_, err = s.Sample()

	// THEN the failure is a recoverable sampling error
	var se *SamplingError
	assert.ErrorAs(t, err, &se)
}

func TestMeminfoSampler_InconsistentCounters_IsSamplingError(t *testing.T) {
	s, err := NewMeminfoSamplerAt(writeProcDir(t,
		"MemTotal: 100 kB\nMemFree: 90 kB\nBuffers: 10 kB\nCached: 10 kB\nSlab: 0 kB\n"))
	require.NoError(t, err)

	_, err = s.Sample()
	assert.Error(t, err)
}

func TestNewMeminfoSamplerAt_MissingMount(t *testing.T) {
	_, err := NewMeminfoSamplerAt(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSelfProcessSampler_ReportsResidentMemory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is linux only")
	}
	s, err := NewSelfProcessSampler()
	require.NoError(t, err)

	rss, err := s.Sample()
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))
}

func TestVirtualSampler_ReportsUsage(t *testing.T) {
	used, err := NewVirtualSampler().Sample()
	if err != nil {
		t.Skipf("virtual memory unavailable on this platform: %v", err)
	}
	assert.Greater(t, used, uint64(0))
}

func TestSamplerFunc_Adapts(t *testing.T) {
	boom := errors.New("boom")
	var s Sampler = SamplerFunc(func() (uint64, error) { return 7, boom })

	v, err := s.Sample()
	assert.Equal(t, uint64(7), v)
	assert.ErrorIs(t, err, boom)
}

func TestSamplingError_Unwraps(t *testing.T) {
	cause := errors.New("permission denied")
	err := samplingErr(SourceProcess, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sampling process memory: permission denied", err.Error())
}

func TestNew_RejectsUnknownSource(t *testing.T) {
	_, err := New("swap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meminfo, process, virtual")
}

func TestIsValidSource(t *testing.T) {
	for _, name := range []string{"", SourceMeminfo, SourceProcess, SourceVirtual} {
		assert.True(t, IsValidSource(name), name)
	}
	assert.False(t, IsValidSource("swap"))
}

func TestFractionOfTotal(t *testing.T) {
	total := TotalMemory()
	if total == 0 {
		t.Skip("total memory unknown on this platform")
	}
	assert.InDelta(t, 0.5, FractionOfTotal(total/2), 1e-6)
}
