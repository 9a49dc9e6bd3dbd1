package harness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := newHistory(3)
	assert.True(t, math.IsNaN(h.mean()))

	h.push(1)
	h.push(2)
	assert.Equal(t, 2, h.len())
	assert.InDelta(t, 1.5, h.mean(), 1e-12)

	h.push(3)
	h.push(10)
	assert.Equal(t, 3, h.len())
	assert.InDelta(t, 5, h.mean(), 1e-12)
}

func TestSummarize(t *testing.T) {
	s := summarize([]float64{1, math.NaN(), 3, 5})
	assert.Equal(t, 1, s.NaNs)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.InDelta(t, 3, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3), s.Std, 1e-12)

	empty := summarize([]float64{math.NaN()})
	assert.Equal(t, 1, empty.NaNs)
	assert.True(t, math.IsNaN(empty.Mean))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "early_stopped", EarlyStopped.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
