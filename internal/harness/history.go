package harness

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// history keeps the most recent losses, evicting the oldest when full.
type history struct {
	values []float64
	next   int
	full   bool
}

func newHistory(size int) *history {
	return &history{values: make([]float64, size)}
}

func (h *history) push(v float64) {
	h.values[h.next] = v
	h.next++
	if h.next == len(h.values) {
		h.next = 0
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.values)
	}
	return h.next
}

// mean returns the average of the retained losses, NaN when empty.
func (h *history) mean() float64 {
	if h.len() == 0 {
		return math.NaN()
	}
	return stat.Mean(h.values[:h.len()], nil)
}

// Summary describes the values of a monitored tensor.
type Summary struct {
	Min, Max, Mean, Std float64
	NaNs                int
}

// summarize computes the statistics of values, ignoring NaNs for everything
// but the NaN count. Std is the population standard deviation.
func summarize(values []float64) Summary {
	finite := values[:0:0]
	var s Summary
	for _, v := range values {
		if math.IsNaN(v) {
			s.NaNs++
			continue
		}
		finite = append(finite, v)
	}
	if len(finite) == 0 {
		s.Min, s.Max, s.Mean, s.Std = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min = floats.Min(finite)
	s.Max = floats.Max(finite)
	s.Mean, s.Std = stat.PopMeanStdDev(finite, nil)
	return s
}
