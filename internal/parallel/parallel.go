// Package parallel splits row ranges of large copies across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is split.
type Config struct {
	Enabled  bool // Whether to use more than one goroutine.
	Workers  int  // Upper bound on goroutines.
	MinBytes int  // Minimum bytes handed to one goroutine.
}

// DefaultConfig uses every CPU and hands out at least 256 KiB per goroutine.
func DefaultConfig() Config {
	n := runtime.GOMAXPROCS(0)
	return Config{
		Enabled:  n > 1,
		Workers:  n,
		MinBytes: 256 << 10,
	}
}

// Ranges calls f on consecutive [lo, hi) ranges covering [0, n) and waits for
// all of them. rowBytes is the size of one row; ranges hold at least
// MinBytes of rows, so small jobs run on the calling goroutine.
func Ranges(n, rowBytes int, f func(lo, hi int), cfg Config) {
	if n <= 0 {
		return
	}
	minRows := 1
	if rowBytes > 0 {
		minRows = max(1, cfg.MinBytes/rowBytes)
	}
	if !cfg.Enabled || cfg.Workers < 2 || n < 2*minRows {
		f(0, n)
		return
	}

	chunk := max((n+cfg.Workers-1)/cfg.Workers, minRows)
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			f(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
