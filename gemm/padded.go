// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gemm

import (
	"context"

	"github.com/scigo-hpc/distlu/internal/workpool"
)

// PaddedLeadingDim returns the smallest multiple of padModulus strictly
// greater than cols. padModulus (57) is not chosen for any arithmetic
// significance; it only needs to keep successive row starts from landing on
// the same cache-set residue for long k-sweeps, which a power-of-two stride
// would not do.
func PaddedLeadingDim(cols int) int {
	if cols < 0 {
		panic("gemm: negative column count")
	}
	return (cols/padModulus + 1) * padModulus
}

// Padded runs the parallel kernel against leading-dimension-padded copies
// of A, B and C, then copies the result back into C. The copies are
// allocated on the calling goroutine before pool work is dispatched and
// read (never written) by every worker during Parallel, so — unlike the
// OpenMP source, which needs copyprivate to broadcast the allocation to the
// team — a Go closure over the allocated slices already gives every worker
// the same pointers without an explicit broadcast step.
func Padded(ctx context.Context, pool *workpool.Pool, ni, nj, nk int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) error {
	checkDims(ni, nj, nk, lda, ldb, ldc)
	if ni == 0 || nj == 0 {
		return nil
	}

	paLd := PaddedLeadingDim(nk)
	pbLd := PaddedLeadingDim(nj)
	pcLd := PaddedLeadingDim(nj)

	pa := make([]float64, ni*paLd)
	pb := make([]float64, nk*pbLd)
	pc := make([]float64, ni*pcLd)

	copyBlock(ni, nk, a, lda, pa, paLd)
	copyBlock(nk, nj, b, ldb, pb, pbLd)
	copyBlock(ni, nj, c, ldc, pc, pcLd)

	if err := Parallel(ctx, pool, ni, nj, nk, alpha, pa, paLd, pb, pbLd, beta, pc, pcLd); err != nil {
		return err
	}

	copyBlock(ni, nj, pc, pcLd, c, ldc)
	return nil
}

func copyBlock(rows, cols int, src []float64, srcLd int, dst []float64, dstLd int) {
	for i := 0; i < rows; i++ {
		copy(dst[i*dstLd:i*dstLd+cols], src[i*srcLd:i*srcLd+cols])
	}
}
