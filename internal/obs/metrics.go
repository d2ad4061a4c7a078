package obs

import (
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// MemMeter accumulates counters in memory, keyed by name. Histograms keep
// their observation count and sum. It is safe for concurrent use.
type MemMeter struct {
	mu       sync.Mutex
	counters map[string]float64
	hcount   map[string]int
	hsum     map[string]float64
}

func (m *MemMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += value
}

func (m *MemMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hcount == nil {
		m.hcount = make(map[string]int)
		m.hsum = make(map[string]float64)
	}
	m.hcount[name]++
	m.hsum[name] += value
}

// Count returns the accumulated value of counter name.
func (m *MemMeter) Count(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Observations returns how many values histogram name has seen and their sum.
func (m *MemMeter) Observations(name string) (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hcount[name], m.hsum[name]
}
