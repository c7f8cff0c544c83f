// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gemm

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/scigo-hpc/distlu/internal/workpool"
)

func reference(ni, nj, nk int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) {
	for i := 0; i < ni; i++ {
		for j := 0; j < nj; j++ {
			var sum float64
			for k := 0; k < nk; k++ {
				sum += a[i*lda+k] * b[k*ldb+j]
			}
			c[i*ldc+j] = beta*c[i*ldc+j] + alpha*sum
		}
	}
}

func randMat(rng *rand.Rand, rows, ld int) []float64 {
	m := make([]float64, rows*ld)
	for i := range m {
		m[i] = rng.NormFloat64()
	}
	return m
}

func maxDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > m {
			m = d
		}
	}
	return m
}

func TestSerialAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []struct{ ni, nj, nk int }{
		{1, 1, 1},
		{BlockSize, BlockSize, BlockSize},
		{BlockSize + 5, BlockSize*2 + 3, BlockSize - 7},
		{7, 11, 13},
	}
	for _, s := range sizes {
		lda, ldb, ldc := s.nk+3, s.nj+2, s.nj+1
		a := randMat(rng, s.ni, lda)
		b := randMat(rng, s.nk, ldb)
		c0 := randMat(rng, s.ni, ldc)

		got := append([]float64(nil), c0...)
		want := append([]float64(nil), c0...)

		Serial(s.ni, s.nj, s.nk, 1.5, a, lda, b, ldb, 0.5, got, ldc)
		reference(s.ni, s.nj, s.nk, 1.5, a, lda, b, ldb, 0.5, want, ldc)

		if d := maxDiff(got, want); d > 1e-9 {
			t.Errorf("size %+v: max diff %v", s, d)
		}
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ni, nj, nk := BlockSize*3+4, BlockSize*2+1, BlockSize+9
	lda, ldb, ldc := nk, nj, nj
	a := randMat(rng, ni, lda)
	b := randMat(rng, nk, ldb)
	c0 := randMat(rng, ni, ldc)

	serialC := append([]float64(nil), c0...)
	Serial(ni, nj, nk, 2, a, lda, b, ldb, -1, serialC, ldc)

	pool := workpool.New(4)
	parC := append([]float64(nil), c0...)
	if err := Parallel(context.Background(), pool, ni, nj, nk, 2, a, lda, b, ldb, -1, parC, ldc); err != nil {
		t.Fatalf("Parallel: %v", err)
	}

	if d := maxDiff(serialC, parC); d > 1e-9 {
		t.Errorf("parallel vs serial max diff %v", d)
	}
}

func TestPaddedMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ni, nj, nk := 19, 23, 17
	a := randMat(rng, ni, nk)
	b := randMat(rng, nk, nj)
	c0 := randMat(rng, ni, nj)

	serialC := append([]float64(nil), c0...)
	Serial(ni, nj, nk, 1, a, nk, b, nj, 1, serialC, nj)

	pool := workpool.New(2)
	padC := append([]float64(nil), c0...)
	if err := Padded(context.Background(), pool, ni, nj, nk, 1, a, nk, b, nj, 1, padC, nj); err != nil {
		t.Fatalf("Padded: %v", err)
	}

	if d := maxDiff(serialC, padC); d > 1e-9 {
		t.Errorf("padded vs serial max diff %v", d)
	}
}

func TestLinearInAlphaBeta(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ni, nj, nk := 10, 12, 14
	a := randMat(rng, ni, nk)
	b := randMat(rng, nk, nj)
	c0 := randMat(rng, ni, nj)

	c1 := append([]float64(nil), c0...)
	Serial(ni, nj, nk, 2, a, nk, b, nj, 1, c1, nj)

	c2 := append([]float64(nil), c0...)
	Serial(ni, nj, nk, 1, a, nk, b, nj, 1, c2, nj)
	Serial(ni, nj, nk, 1, a, nk, b, nj, 1, c2, nj)

	if d := maxDiff(c1, c2); d > 1e-9 {
		t.Errorf("alpha=2 once vs alpha=1 twice: max diff %v", d)
	}
}

func TestLeadingDimensionIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ni, nj, nk := 6, 8, 5

	a := randMat(rng, ni, nk)
	b := randMat(rng, nk, nj)
	c0 := randMat(rng, ni, nj)

	tight := append([]float64(nil), c0...)
	Serial(ni, nj, nk, 1, a, nk, b, nj, 1, tight, nj)

	// Re-pack a, b, c with extra padding in the leading dimension; result
	// must be identical once unpacked.
	ldaPad, ldbPad, ldcPad := nk+4, nj+3, nj+6
	aPad := make([]float64, ni*ldaPad)
	bPad := make([]float64, nk*ldbPad)
	cPad := make([]float64, ni*ldcPad)
	for i := 0; i < ni; i++ {
		copy(aPad[i*ldaPad:i*ldaPad+nk], a[i*nk:i*nk+nk])
		copy(cPad[i*ldcPad:i*ldcPad+nj], c0[i*nj:i*nj+nj])
	}
	for i := 0; i < nk; i++ {
		copy(bPad[i*ldbPad:i*ldbPad+nj], b[i*nj:i*nj+nj])
	}

	Serial(ni, nj, nk, 1, aPad, ldaPad, bPad, ldbPad, 1, cPad, ldcPad)

	for i := 0; i < ni; i++ {
		got := cPad[i*ldcPad : i*ldcPad+nj]
		want := tight[i*nj : i*nj+nj]
		if d := maxDiff(got, want); d > 1e-9 {
			t.Errorf("row %d: max diff %v", i, d)
		}
	}
}
