package pipeline

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Substage is a named timing region within one tool's execute, used for
// per-phase profiling. A tool obtains one with Base.Substage and brackets
// the region with Begin/End; none of the tools in package tools records
// substages.
type Substage struct {
	name string

	mu      sync.Mutex
	started time.Time
	samples []float64
}

// Substage returns the named substage profiler, creating it on first
// use.
func (b *Base) Substage(name string) *Substage {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.substages[name]
	if !ok {
		s = &Substage{name: name}
		b.substages[name] = s
	}
	return s
}

// Begin marks the start of a timed region.
func (s *Substage) Begin() {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
}

// End closes the timed region and records its elapsed duration.
func (s *Substage) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return
	}
	elapsed := time.Since(s.started)
	s.samples = append(s.samples, float64(elapsed))
	if len(s.samples) > statsWindow {
		s.samples = s.samples[len(s.samples)-statsWindow:]
	}
	s.started = time.Time{}
}

// Stats reports the substage's last/avg/variance wall time.
func (s *Substage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return Stats{}
	}
	last := s.samples[len(s.samples)-1]
	mean, variance := stat.MeanVariance(s.samples, nil)
	return Stats{
		Last:     time.Duration(last),
		Avg:      time.Duration(mean),
		Variance: time.Duration(variance),
		Samples:  len(s.samples),
	}
}
