// Package metrics aggregates run timing into an HDR histogram so the CLI can
// report latency percentiles across test files.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder collects durations. Values are tracked in microseconds with three
// significant figures, capped at one minute.
type Recorder struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		hist: hdrhistogram.New(1, 60_000_000, 3),
	}
}

// Record adds one duration. Values above the histogram's one minute cap are
// clamped to the cap.
func (r *Recorder) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	us := d.Microseconds()
	if max := r.hist.HighestTrackableValue(); us > max {
		us = max
	}
	_ = r.hist.RecordValue(us)
	r.count++
}

// Snapshot is a point-in-time summary of recorded durations.
type Snapshot struct {
	Count int64
	Min   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Snapshot computes the current percentile summary.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Snapshot{}
	}
	return Snapshot{
		Count: r.count,
		Min:   time.Duration(r.hist.Min()) * time.Microsecond,
		Mean:  time.Duration(int64(r.hist.Mean())) * time.Microsecond,
		P50:   time.Duration(r.hist.ValueAtQuantile(50)) * time.Microsecond,
		P95:   time.Duration(r.hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(r.hist.ValueAtQuantile(99)) * time.Microsecond,
		Max:   time.Duration(r.hist.Max()) * time.Microsecond,
	}
}
