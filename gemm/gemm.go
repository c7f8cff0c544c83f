// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gemm computes C ← α·A·B + β·C for row-major rectangular blocks
// with independent leading dimensions. It provides a serial entry point and
// a thread-parallel one sharing a single cache-blocked, register-tiled
// micro-kernel, following the three-level blocking scheme of a classic
// tuned GEMM: an outer K×K cache tile, a register "mini" tile of RI rows by
// RJ lanes of width 4, and a scalar fallback for tile edges.
package gemm

import (
	"context"
	"math"

	"github.com/scigo-hpc/distlu/internal/workpool"
)

// Tuning constants. BlockSize is the outer cache tile; the register tile
// (RI rows × RJ 4-wide lanes) must evenly divide it so the fast path never
// needs to fall back to the scalar kernel mid-tile.
const (
	BlockSize  = 48
	RI         = 3
	RJ         = 4
	laneWidth  = 4
	padModulus = 57
)

func init() {
	if BlockSize%RI != 0 {
		panic("gemm: BlockSize must be a multiple of RI")
	}
	if BlockSize%(laneWidth*RJ) != 0 {
		panic("gemm: BlockSize must be a multiple of 4*RJ")
	}
}

// lane is a 4-wide accumulator, standing in for the __m256d vector register
// of the source kernel. On amd64 the per-element math.FMA calls below are
// intrinsified by the compiler into a single vfmadd instruction; elsewhere
// they fall back to a library call with identical rounding behavior.
type lane [laneWidth]float64

func fmaLane(a float64, b, c lane) lane {
	var out lane
	for i := range out {
		out[i] = math.FMA(a, b[i], c[i])
	}
	return out
}

func checkDims(ni, nj, nk, lda, ldb, ldc int) {
	if ni < 0 || nj < 0 || nk < 0 {
		panic("gemm: negative dimension")
	}
	if lda < nk && ni > 0 {
		panic("gemm: lda too small")
	}
	if ldb < nj && nk > 0 {
		panic("gemm: ldb too small")
	}
	if ldc < nj && ni > 0 {
		panic("gemm: ldc too small")
	}
}

// Serial computes C[0:ni,0:nj] ← β·C + α·A[0:ni,0:nk]·B[0:nk,0:nj] on the
// calling goroutine. A, B, C must not alias. ni == 0 or nj == 0 is an
// immediate no-op; nk == 0 only scales C by β.
func Serial(ni, nj, nk int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) {
	checkDims(ni, nj, nk, lda, ldb, ldc)
	if ni == 0 || nj == 0 {
		return
	}
	scaleC(ni, nj, beta, c, ldc)
	if nk == 0 || alpha == 0 {
		return
	}
	for i0 := 0; i0 < ni; i0 += BlockSize {
		ih := min(BlockSize, ni-i0)
		updateRowOfTiles(i0, ih, nj, nk, alpha, a, lda, b, ldb, c, ldc)
	}
}

// Parallel is the thread-team counterpart of Serial: it distributes the
// outer row-tile loop across pool with a static, chunk-size-1 schedule so
// that consecutive tiles assigned to the same worker stay row-local. The
// workers are the pool.Size() goroutines that pool.ParallelFor starts for
// this call and waits for before Parallel returns.
func Parallel(ctx context.Context, pool *workpool.Pool, ni, nj, nk int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) error {
	checkDims(ni, nj, nk, lda, ldb, ldc)
	if ni == 0 || nj == 0 {
		return nil
	}
	scaleC(ni, nj, beta, c, ldc)
	if nk == 0 || alpha == 0 {
		return nil
	}
	numTiles := (ni + BlockSize - 1) / BlockSize
	return pool.ParallelFor(ctx, numTiles, func(_, it int) error {
		i0 := it * BlockSize
		ih := min(BlockSize, ni-i0)
		updateRowOfTiles(i0, ih, nj, nk, alpha, a, lda, b, ldb, c, ldc)
		return nil
	})
}

// updateRowOfTiles accumulates α·A·B into the ih-tall strip of C starting
// at row i0, walking the (j, k) tile grid. This single dispatch subsumes
// the source kernel's three separate edge-strip loops (right edge, bottom
// edge, bottom-right corner): updateTile already falls back to the scalar
// mini-kernel whenever a tile is not a full BlockSize×BlockSize square, or
// whenever HasGemmKernel is false, so the regular and edge cases share one
// code path instead of three.
func updateRowOfTiles(i0, ih, nj, nk int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for j0 := 0; j0 < nj; j0 += BlockSize {
		jh := min(BlockSize, nj-j0)
		for k0 := 0; k0 < nk; k0 += BlockSize {
			kh := min(BlockSize, nk-k0)
			updateTile(ih, jh, kh, alpha,
				a[i0*lda+k0:], lda,
				b[k0*ldb+j0:], ldb,
				c[i0*ldc+j0:], ldc)
		}
	}
}

func updateTile(ih, jh, kh int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	if HasGemmKernel && ih == BlockSize && jh == BlockSize {
		microMiniStep(kh, alpha, a, lda, b, ldb, c, ldc)
		return
	}
	miniKernel(ih, jh, kh, alpha, a, lda, b, ldb, c, ldc)
}

// microMiniStep walks the BlockSize×BlockSize tile in RI×(RJ·4) register
// tiles, invoking the micro-kernel on each.
func microMiniStep(kh int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	const regCols = RJ * laneWidth
	for ii := 0; ii < BlockSize; ii += RI {
		for jj := 0; jj < BlockSize; jj += regCols {
			microKernel(kh, alpha,
				a[ii*lda:], lda,
				b[jj:], ldb,
				c[ii*ldc+jj:], ldc)
		}
	}
}

// microKernel is the performance-critical inner loop: it holds an RI×RJ
// array of 4-wide accumulators, streams nk iterations over k broadcasting a
// scalar from A and loading a 4-wide strip from B into each accumulator via
// FMA, then scales by α and adds into the existing C values.
func microKernel(nk int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	var acc [RI][RJ]lane
	for k := 0; k < nk; k++ {
		bRow := b[k*ldb:]
		for i := 0; i < RI; i++ {
			aik := a[i*lda+k]
			for j := 0; j < RJ; j++ {
				var bv lane
				copy(bv[:], bRow[j*laneWidth:j*laneWidth+laneWidth])
				acc[i][j] = fmaLane(aik, bv, acc[i][j])
			}
		}
	}
	for i := 0; i < RI; i++ {
		cRow := c[i*ldc:]
		for j := 0; j < RJ; j++ {
			for l := 0; l < laneWidth; l++ {
				cRow[j*laneWidth+l] += alpha * acc[i][j][l]
			}
		}
	}
}

// miniKernel is the scalar fallback for any tile whose rows or columns
// don't fill a full BlockSize×BlockSize register-tiled square: the
// right-edge strip, the bottom-edge strip, and the bottom-right corner all
// reduce to this same triple loop.
func miniKernel(ih, jh, kh int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for i := 0; i < ih; i++ {
		for j := 0; j < jh; j++ {
			var sum float64
			for k := 0; k < kh; k++ {
				sum = math.FMA(a[i*lda+k], b[k*ldb+j], sum)
			}
			c[i*ldc+j] += alpha * sum
		}
	}
}

func scaleC(ni, nj int, beta float64, c []float64, ldc int) {
	if beta == 1 {
		return
	}
	for i := 0; i < ni; i++ {
		row := c[i*ldc : i*ldc+nj]
		if beta == 0 {
			for j := range row {
				row[j] = 0
			}
			continue
		}
		for j := range row {
			row[j] *= beta
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
