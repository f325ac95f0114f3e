package metrics

import (
	"sync"

	gops "github.com/shirou/gopsutil/v4/process"
)

// Usage is an instantaneous CPU/memory reading for a live process.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
}

type sampleEntry struct {
	proc        *gops.Process
	lastPercent float64
}

// SampleCache keeps per-PID CPU sampling state. A meaningful incremental
// CPU percentage needs two time-separated readings against the same process
// handle, so the handle is cached from the first query until the pid is
// stopped or confirmed dead.
type SampleCache struct {
	mu      sync.Mutex
	entries map[int]*sampleEntry
}

func NewSampleCache() *SampleCache {
	return &SampleCache{entries: make(map[int]*sampleEntry)}
}

// Sample returns the usage for pid, or ok=false when the process does not
// exist. The first call for a pid primes the CPU counter and reports 0.0;
// subsequent calls report the incremental percentage since the previous one.
// A transient CPU read failure returns the last cached value instead of an
// error so status queries never fail on sampling.
func (c *SampleCache) Sample(pid int) (Usage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[pid]
	if e == nil {
		p, err := gops.NewProcess(int32(pid))
		if err != nil {
			return Usage{}, false
		}
		_, _ = p.Percent(0) // prime the baseline
		e = &sampleEntry{proc: p}
		c.entries[pid] = e
		return Usage{CPUPercent: 0.0, MemoryMB: memoryMB(p)}, true
	}

	cpu, err := e.proc.Percent(0)
	if err != nil {
		cpu = e.lastPercent
	} else {
		e.lastPercent = cpu
	}
	return Usage{CPUPercent: cpu, MemoryMB: memoryMB(e.proc)}, true
}

// Evict drops the cached state for pid. Called when the bot is stopped or
// its process is found dead.
func (c *SampleCache) Evict(pid int) {
	c.mu.Lock()
	delete(c.entries, pid)
	c.mu.Unlock()
}

// Contains reports whether a baseline exists for pid.
func (c *SampleCache) Contains(pid int) bool {
	c.mu.Lock()
	_, ok := c.entries[pid]
	c.mu.Unlock()
	return ok
}

func memoryMB(p *gops.Process) float64 {
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0
	}
	return float64(mem.RSS) / 1024 / 1024
}
