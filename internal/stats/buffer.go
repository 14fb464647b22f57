// Package stats implements the per-(connection, metric) rolling sample
// window that feeds the spike detector. A buffer holds at most Capacity
// samples; running sum and sum-of-squares are maintained incrementally so
// Stats is O(1) apart from the min/max scan over the (small) window.
package stats

import (
	"math"
	"sync"
)

const (
	// DefaultCapacity covers at least two minutes of samples at 1 Hz.
	DefaultCapacity = 120

	// DefaultMinSamples is the warm-up threshold; below it the buffer
	// reports IsWarm=false and the detector stays silent.
	DefaultMinSamples = 30
)

// Sample is a single polled metric observation. Never mutated.
type Sample struct {
	Value     float64
	Timestamp int64 // epoch-ms
}

// Stats is a snapshot of a buffer's window.
type Stats struct {
	Count  int
	Mean   float64
	Stddev float64
	Min    float64
	Max    float64
	IsWarm bool
}

// Buffer is a bounded rolling window of samples, newest appended at the
// head, oldest dropped when full. Safe for concurrent use.
type Buffer struct {
	mu         sync.RWMutex
	samples    []Sample
	head       int
	count      int
	capacity   int
	minSamples int
	sum        float64
	sumSq      float64
}

// NewBuffer creates a rolling window with the given capacity and warm-up
// threshold. Non-positive arguments fall back to the defaults.
func NewBuffer(capacity, minSamples int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Buffer{
		samples:    make([]Sample, capacity),
		capacity:   capacity,
		minSamples: minSamples,
	}
}

// Add appends a sample, evicting the oldest when the window is full. O(1).
func (b *Buffer) Add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		oldest := b.samples[b.head]
		b.sum -= oldest.Value
		b.sumSq -= oldest.Value * oldest.Value
		b.count--
	}

	b.samples[b.head] = s
	b.head = (b.head + 1) % b.capacity
	b.count++
	b.sum += s.Value
	b.sumSq += s.Value * s.Value
}

// Stats returns the current window statistics. Stddev is 0 when the
// window has fewer than two samples; callers must treat a cold buffer as
// warm-up, not as a zero-variance signal.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Count: b.count, IsWarm: b.count >= b.minSamples}
	if b.count == 0 {
		return st
	}

	n := float64(b.count)
	st.Mean = b.sum / n

	if b.count >= 2 {
		// Sample variance from running sums; floating error can push the
		// numerator slightly negative, so clamp at zero.
		variance := (b.sumSq - b.sum*b.sum/n) / (n - 1)
		if variance > 0 {
			st.Stddev = math.Sqrt(variance)
		}
	}

	st.Min = math.Inf(1)
	st.Max = math.Inf(-1)
	for i := 0; i < b.count; i++ {
		idx := (b.head - b.count + i + b.capacity) % b.capacity
		v := b.samples[idx].Value
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}

	return st
}

// Count returns the number of samples currently in the window.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
