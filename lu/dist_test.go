// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lu

import (
	"math"
	"math/rand"
	"testing"
)

func TestPackUnpackIdentity(t *testing.T) {
	const n, b, world = 16, 4, 6
	rng := rand.New(rand.NewSource(7))
	a := make([]float64, n*n)
	for i := range a {
		a[i] = rng.NormFloat64()
	}

	grids := BuildGrid(world)
	got := make([]float64, n*n)
	for rank := 0; rank < world; rank++ {
		g := grids[rank]
		d := NewDescriptor(n, b, g)
		local := d.Pack(g, a, n)
		d.Unpack(g, local, d.LocalCols, got, n)
	}

	var maxDiff float64
	for i := range a {
		if diff := math.Abs(a[i] - got[i]); diff > maxDiff {
			maxDiff = diff
		}
	}
	if maxDiff > 0 {
		t.Errorf("pack/unpack round trip: max diff %v", maxDiff)
	}
}

func TestDescriptorCoversEveryBlockExactlyOnce(t *testing.T) {
	const n, b, world = 24, 4, 6
	grids := BuildGrid(world)
	numBlocks := n / b

	owner := make([][2]int, numBlocks*numBlocks)
	for i := range owner {
		owner[i] = [2]int{-1, -1}
	}

	for rank := 0; rank < world; rank++ {
		g := grids[rank]
		d := NewDescriptor(n, b, g)
		for lbr := 0; lbr < d.LocalBlockRows; lbr++ {
			gi := d.globalBlockRow(g, lbr)
			for lbc := 0; lbc < d.LocalBlockCols; lbc++ {
				gj := d.globalBlockCol(g, lbc)
				idx := gi*numBlocks + gj
				if owner[idx][0] != -1 {
					t.Fatalf("block (%d,%d) claimed by both rank %d and rank %d", gi, gj, owner[idx][0], rank)
				}
				owner[idx] = [2]int{rank, 0}
			}
		}
	}

	for gi := 0; gi < numBlocks; gi++ {
		for gj := 0; gj < numBlocks; gj++ {
			if owner[gi*numBlocks+gj][0] == -1 {
				t.Errorf("block (%d,%d) never claimed by any rank", gi, gj)
			}
		}
	}
}

func TestFactorDimsMostSquare(t *testing.T) {
	cases := []struct {
		world  int
		r, c   int
	}{
		{1, 1, 1},
		{4, 2, 2},
		{6, 2, 3},
		{7, 1, 7},
		{9, 3, 3},
	}
	for _, tc := range cases {
		r, c := FactorDims(tc.world)
		if r != tc.r || c != tc.c {
			t.Errorf("FactorDims(%d) = (%d,%d), want (%d,%d)", tc.world, r, c, tc.r, tc.c)
		}
	}
}
