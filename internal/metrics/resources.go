package metrics

import (
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource sample of one process.
type Usage struct {
	PID        int32
	CPUPercent float64
	MemoryRSS  uint64
}

// Sampler reads CPU and memory of application processes. It keeps the
// gopsutil handle per application so CPU percent is measured between samples.
type Sampler struct {
	mu    sync.Mutex
	procs map[string]*process.Process
}

func NewSampler() *Sampler {
	return &Sampler{procs: make(map[string]*process.Process)}
}

// Sample measures pid on behalf of the application name.
func (s *Sampler) Sample(name string, pid int) (Usage, error) {
	s.mu.Lock()
	p := s.procs[name]
	if p == nil || p.Pid != int32(pid) { // #nosec G115
		np, err := process.NewProcess(int32(pid)) // #nosec G115
		if err != nil {
			delete(s.procs, name)
			s.mu.Unlock()
			return Usage{}, err
		}
		p = np
		s.procs[name] = p
	}
	s.mu.Unlock()

	u := Usage{PID: p.Pid}
	// The first call for a handle has no previous sample and reports 0.
	if cpu, err := p.Percent(0); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return u, err
	}
	u.MemoryRSS = mem.RSS
	return u, nil
}

// Forget drops the cached handle for name.
func (s *Sampler) Forget(name string) {
	s.mu.Lock()
	delete(s.procs, name)
	s.mu.Unlock()
}

// Record samples pid and publishes the resource gauges for name. A stopped
// application (pid <= 0) has its gauges reset to zero.
func (s *Sampler) Record(name string, pid int) {
	if !regOK.Load() {
		return
	}
	if pid <= 0 {
		s.Forget(name)
		appMemoryRSS.WithLabelValues(name).Set(0)
		appCPUPercent.WithLabelValues(name).Set(0)
		return
	}
	u, err := s.Sample(name, pid)
	if err != nil {
		return
	}
	appMemoryRSS.WithLabelValues(name).Set(float64(u.MemoryRSS))
	appCPUPercent.WithLabelValues(name).Set(u.CPUPercent)
}
