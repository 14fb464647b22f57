package stats

import (
	"math"
	"testing"
)

func TestBufferWarmUp(t *testing.T) {
	t.Parallel()

	b := NewBuffer(120, 30)
	for i := 0; i < 29; i++ {
		b.Add(Sample{Value: 100, Timestamp: int64(i)})
	}

	if st := b.Stats(); st.IsWarm {
		t.Fatalf("buffer warm after %d samples, warm-up is 30", st.Count)
	}

	b.Add(Sample{Value: 100, Timestamp: 29})
	if st := b.Stats(); !st.IsWarm {
		t.Fatal("buffer not warm after 30 samples")
	}
}

func TestBufferStats(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10, 2)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		b.Add(Sample{Value: v})
	}

	st := b.Stats()
	if st.Count != 8 {
		t.Fatalf("count = %d, want 8", st.Count)
	}
	if st.Mean != 5 {
		t.Fatalf("mean = %v, want 5", st.Mean)
	}
	// Sample stddev of the classic 2,4,4,4,5,5,7,9 set is sqrt(32/7).
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(st.Stddev-want) > 1e-9 {
		t.Fatalf("stddev = %v, want %v", st.Stddev, want)
	}
	if st.Min != 2 || st.Max != 9 {
		t.Fatalf("min/max = %v/%v, want 2/9", st.Min, st.Max)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	t.Parallel()

	b := NewBuffer(3, 2)
	for i := 1; i <= 5; i++ {
		b.Add(Sample{Value: float64(i), Timestamp: int64(i)})
	}

	st := b.Stats()
	if st.Count != 3 {
		t.Fatalf("count = %d, want 3", st.Count)
	}
	// Window should hold 3, 4, 5.
	if st.Min != 3 || st.Max != 5 {
		t.Fatalf("min/max = %v/%v, want 3/5", st.Min, st.Max)
	}
	if st.Mean != 4 {
		t.Fatalf("mean = %v, want 4", st.Mean)
	}
}

func TestBufferStddevZeroWhenCold(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10, 2)
	b.Add(Sample{Value: 42})

	st := b.Stats()
	if st.Stddev != 0 {
		t.Fatalf("stddev = %v for single sample, want 0", st.Stddev)
	}
	if st.IsWarm {
		t.Fatal("single sample reported warm")
	}
}

func TestBufferConstantSeriesHasZeroStddev(t *testing.T) {
	t.Parallel()

	b := NewBuffer(50, 5)
	for i := 0; i < 40; i++ {
		b.Add(Sample{Value: 7.5})
	}

	st := b.Stats()
	if st.Stddev != 0 {
		t.Fatalf("stddev = %v for constant series, want 0", st.Stddev)
	}
	if st.Mean != 7.5 {
		t.Fatalf("mean = %v, want 7.5", st.Mean)
	}
}
