package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmptyRecorder(t *testing.T) {
	r := NewRecorder()
	snap := r.Snapshot()
	assert.Zero(t, snap.Count)
	assert.Zero(t, snap.Max)
}

func TestSnapshotOrdering(t *testing.T) {
	r := NewRecorder()
	for _, d := range []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		200 * time.Millisecond,
	} {
		r.Record(d)
	}

	snap := r.Snapshot()
	assert.Equal(t, int64(5), snap.Count)
	assert.LessOrEqual(t, snap.Min, snap.P50)
	assert.LessOrEqual(t, snap.P50, snap.P95)
	assert.LessOrEqual(t, snap.P95, snap.Max)
	assert.InEpsilon(t, float64(200*time.Millisecond), float64(snap.Max), 0.01)
}

func TestRecordClampsOutOfRange(t *testing.T) {
	r := NewRecorder()
	r.Record(5 * time.Minute) // beyond the histogram's one minute cap
	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Count)
}
