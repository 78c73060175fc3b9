// Package parallel provides chunked parallel loops over flat tensor storage.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4096, // Per-element work is a hash and a few flops.
	}
}

// Sequential returns a configuration that never spawns goroutines.
func Sequential() Config {
	return Config{}
}

// chunks splits [0, n) into contiguous ranges according to cfg.
func chunks(n int, cfg Config) [][2]int {
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*max(cfg.MinChunkSize, 1) {
		return [][2]int{{0, n}}
	}
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)
	out := make([][2]int, 0, (n+chunkSize-1)/chunkSize)
	for start := 0; start < n; start += chunkSize {
		out = append(out, [2]int{start, min(start+chunkSize, n)})
	}
	return out
}

// Range executes f over disjoint sub-ranges covering [0, n).
// Falls back to a single f(0, n) call if parallelism is disabled or n is too small.
//
// f must only touch indices inside its range; Range returns after every
// call has completed.
func Range(n int, cfg Config, f func(start, end int)) {
	if n == 0 {
		return
	}
	parts := chunks(n, cfg)
	if len(parts) == 1 {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(p[0], p[1])
	}
	wg.Wait()
}

// SumBlock is the block size of Sum. Partial sums always cover the same
// blocks, whatever the worker count.
const SumBlock = 4096

// Sum executes f over consecutive blocks of SumBlock indices and adds the
// partial results in block order. The blocks depend only on n, so the
// result is bit-identical for every cfg; cfg only decides how many blocks
// run concurrently.
func Sum(n int, cfg Config, f func(start, end int) float64) float64 {
	if n == 0 {
		return 0
	}
	blocks := (n + SumBlock - 1) / SumBlock
	if blocks == 1 {
		return f(0, n)
	}

	partial := make([]float64, blocks)
	blockCfg := cfg
	blockCfg.MinChunkSize = max(cfg.MinChunkSize/SumBlock, 1)
	Range(blocks, blockCfg, func(bs, be int) {
		for b := bs; b < be; b++ {
			partial[b] = f(b*SumBlock, min((b+1)*SumBlock, n))
		}
	})

	var total float64
	for _, v := range partial {
		total += v
	}
	return total
}
