package parallel

import (
	"sync"
	"testing"
)

// cover records the ranges Ranges hands out.
func cover(n, rowBytes int, cfg Config) [][2]int {
	var mu sync.Mutex
	var got [][2]int
	Ranges(n, rowBytes, func(lo, hi int) {
		mu.Lock()
		got = append(got, [2]int{lo, hi})
		mu.Unlock()
	}, cfg)
	return got
}

func TestRangesCoverEveryRowOnce(t *testing.T) {
	cfg := Config{Enabled: true, Workers: 4, MinBytes: 64}
	for _, n := range []int{1, 7, 100, 1001} {
		seen := make([]int, n)
		for _, r := range cover(n, 8, cfg) {
			for i := r[0]; i < r[1]; i++ {
				seen[i]++
			}
		}
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: row %d visited %d times", n, i, c)
			}
		}
	}
}

func TestRangesSmallJobIsSequential(t *testing.T) {
	cfg := Config{Enabled: true, Workers: 8, MinBytes: 1 << 20}
	got := cover(100, 16, cfg)
	if len(got) != 1 || got[0] != [2]int{0, 100} {
		t.Errorf("expected one range [0, 100), got %v", got)
	}
}

func TestRangesSplitsLargeJobs(t *testing.T) {
	cfg := Config{Enabled: true, Workers: 4, MinBytes: 80}
	got := cover(100, 8, cfg)
	if len(got) != 4 {
		t.Errorf("expected 4 ranges, got %d: %v", len(got), got)
	}
}

func TestRangesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	if got := cover(1<<20, 1024, cfg); len(got) != 1 {
		t.Errorf("expected a single range, got %d", len(got))
	}
	if got := cover(0, 8, cfg); len(got) != 0 {
		t.Errorf("expected no ranges for n=0, got %v", got)
	}
}

func BenchmarkRanges(b *testing.B) {
	const rows, rowBytes = 1 << 14, 1 << 10
	src := make([]byte, rows*rowBytes)
	dst := make([]byte, rows*rowBytes)
	copyRows := func(lo, hi int) {
		copy(dst[lo*rowBytes:hi*rowBytes], src[lo*rowBytes:hi*rowBytes])
	}

	b.Run("parallel", func(b *testing.B) {
		cfg := DefaultConfig()
		for i := 0; i < b.N; i++ {
			Ranges(rows, rowBytes, copyRows, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfg := DefaultConfig()
		cfg.Enabled = false
		for i := 0; i < b.N; i++ {
			Ranges(rows, rowBytes, copyRows, cfg)
		}
	})
}
