// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command distlu-bench factors a synthetic diagonally-dominant matrix with
// the distlu/lu package and reports the elapsed time, optionally dumping
// the factored matrix or checking it against a reference solve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/scigo-hpc/distlu/lu"
)

func main() {
	var (
		n         = flag.Int("n", 512, "matrix dimension")
		ranks     = flag.Int("ranks", 4, "number of simulated ranks (grid cells)")
		block     = flag.Int("block", 32, "panel block size")
		poolSize  = flag.Int("pool", 1, "worker goroutines per rank")
		seed      = flag.Int64("seed", 1, "RNG seed for the synthetic matrix")
		dump      = flag.Bool("dump", false, "dump the factored matrix to stdout")
		reference = flag.Bool("reference", false, "solve Ax=b and report the residual")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	a := diagonallyDominant(*n, *seed)
	var aCopy []float64
	var bvec []float64
	if *reference {
		aCopy = append([]float64(nil), a...)
		bvec = make([]float64, *n)
		rng := rand.New(rand.NewSource(*seed + 1))
		for i := range bvec {
			bvec[i] = rng.NormFloat64()
		}
	}

	logger.Info("starting factorization", "n", *n, "ranks", *ranks, "block", *block, "pool", *poolSize)
	start := time.Now()
	err := lu.Factorize(context.Background(), *n, a, lu.Options{
		WorldSize: *ranks,
		Block:     *block,
		PoolSize:  *poolSize,
	})
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("factorization failed", "err", err)
		os.Exit(1)
	}
	logger.Info("factorization complete", "elapsed", elapsed)

	if *dump {
		dumpMatrix("a", a, *n)
	}

	if *reference {
		x := lu.Solve(*n, a, bvec)
		resid := residual(aCopy, x, bvec, *n)
		logger.Info("reference solve", "residual", resid)
	}
}

// diagonallyDominant builds a random row-major n×n matrix with its diagonal
// boosted so the unpivoted factorization this module performs stays
// numerically stable: for a strictly diagonally-dominant matrix, no pivot
// is ever required.
func diagonallyDominant(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := rng.NormFloat64()
			a[i*n+j] = v
			rowSum += absf(v)
		}
		a[i*n+i] = rowSum + float64(n) // strictly dominant with margin
	}
	return a
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func residual(a, x, b []float64, n int) float64 {
	var maxAbs float64
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += a[i*n+j] * x[j]
		}
		diff := absf(sum - b[i])
		if diff > maxAbs {
			maxAbs = diff
		}
	}
	return maxAbs
}

// dumpMatrix prints values 20 per line, matching the bracketed
// begin/end-dump convention used throughout this tool's reference harness.
func dumpMatrix(name string, a []float64, n int) {
	fmt.Printf("begin dump: %s\n", name)
	count := 0
	for _, v := range a {
		fmt.Printf("%0.2f ", v)
		count++
		if count%20 == 0 {
			fmt.Println()
		}
	}
	if count%20 != 0 {
		fmt.Println()
	}
	fmt.Printf("end dump: %s\n", name)
}
