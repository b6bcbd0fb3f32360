package sandbox

import (
	"testing"
	"time"
)

func TestHistoryEvictsByCapacity(t *testing.T) {
	h := NewHistory(3, 0)
	base := time.Now()
	for i := 0; i < 5; i++ {
		h.Append(Sample{Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}
	recent, ok := h.MostRecent()
	if !ok {
		t.Fatal("expected a most-recent sample")
	}
	if recent.Value != 4 {
		t.Fatalf("expected the most recent value to be 4, got %v", recent.Value)
	}
	window := h.Window(base.Add(10*time.Second), time.Hour)
	if len(window) != 3 {
		t.Fatalf("expected capacity eviction to retain exactly 3 samples, got %d", len(window))
	}
	if window[0].Value != 2 {
		t.Fatalf("expected the oldest retained sample to be value 2, got %v", window[0].Value)
	}
}

func TestHistoryEvictsByAge(t *testing.T) {
	h := NewHistory(100, 5*time.Second)
	base := time.Now()
	h.Append(Sample{Timestamp: base, Value: 1})
	h.Append(Sample{Timestamp: base.Add(2 * time.Second), Value: 2})
	h.Append(Sample{Timestamp: base.Add(10 * time.Second), Value: 3})

	window := h.Window(base.Add(10*time.Second), time.Hour)
	if len(window) != 1 {
		t.Fatalf("expected age eviction to drop samples older than maxAge, got %d remaining", len(window))
	}
	if window[0].Value != 3 {
		t.Fatalf("expected the surviving sample to be value 3, got %v", window[0].Value)
	}
}

func TestHistoryRollingAverage(t *testing.T) {
	h := NewHistory(100, 0)
	base := time.Now()
	h.Append(Sample{Timestamp: base, Value: 10})
	h.Append(Sample{Timestamp: base.Add(time.Second), Value: 20})
	h.Append(Sample{Timestamp: base.Add(2 * time.Second), Value: 30})

	avg, ok := h.RollingAverage(base.Add(2*time.Second), 10*time.Second)
	if !ok {
		t.Fatal("expected a rolling average with samples present")
	}
	if avg != 20 {
		t.Fatalf("expected average 20, got %v", avg)
	}
}

func TestHistoryRollingAverageNoSamplesInWindow(t *testing.T) {
	h := NewHistory(100, 0)
	if _, ok := h.RollingAverage(time.Now(), time.Second); ok {
		t.Fatal("expected ok=false when the history is empty")
	}
}

func TestHistoryPeak(t *testing.T) {
	h := NewHistory(100, 0)
	base := time.Now()
	h.Append(Sample{Timestamp: base, Value: 5})
	h.Append(Sample{Timestamp: base.Add(time.Second), Value: 50})
	h.Append(Sample{Timestamp: base.Add(2 * time.Second), Value: 25})

	peak, ok := h.Peak()
	if !ok || peak != 50 {
		t.Fatalf("expected peak 50, got %v (ok=%v)", peak, ok)
	}
}

func TestClampIntervalEnforcesFloor(t *testing.T) {
	if got := ClampInterval(10 * time.Millisecond); got != MinMonitoringInterval {
		t.Fatalf("expected clamping to the 100ms floor, got %v", got)
	}
	if got := ClampInterval(5 * time.Second); got != 5*time.Second {
		t.Fatalf("expected an interval above the floor to pass through unchanged, got %v", got)
	}
}
