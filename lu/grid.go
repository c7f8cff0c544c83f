// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lu

import (
	"math"

	"github.com/scigo-hpc/distlu/comm"
)

// Grid is one rank's view of the 2-D process grid: its own coordinate plus
// the row and column sub-communicators it belongs to.
//
// Coordinates follow the source algorithm's convention exactly:
// RowIdx = rank / R, ColIdx = rank % R. This looks unusual next to the
// (R rows, C columns) naming, but it is what the source computes, and
// changing it would only relabel which communicator is called "row" and
// which "column" — the factorization result is unaffected either way, so it
// is kept rather than "corrected."
type Grid struct {
	Rank int
	R, C int

	RowIdx, ColIdx int

	// RowGroup contains every rank sharing RowIdx (R members).
	// ColGroup contains every rank sharing ColIdx (C members).
	RowGroup *comm.Group
	ColGroup *comm.Group
}

// FactorDims factors worldSize into (R, C), R*C == worldSize, choosing the
// most-square factorization: the largest R <= sqrt(worldSize) that divides
// worldSize evenly.
func FactorDims(worldSize int) (r, c int) {
	if worldSize < 1 {
		panic("lu: world size must be >= 1")
	}
	for r := int(math.Sqrt(float64(worldSize))); r >= 1; r-- {
		if worldSize%r == 0 {
			return r, worldSize / r
		}
	}
	return 1, worldSize // unreachable: r=1 always divides
}

// BuildGrid constructs the per-rank Grid views for a world of the given
// size, sharing one *comm.Group instance across every rank that belongs to
// it so that broadcasts on that group rendezvous correctly.
func BuildGrid(worldSize int) []*Grid {
	r, c := FactorDims(worldSize)

	rowGroups := make([]*comm.Group, c) // indexed by RowIdx in [0,c)
	for i := range rowGroups {
		members := make([]int, 0, r)
		for t := 0; t < r; t++ {
			members = append(members, i*r+t)
		}
		rowGroups[i] = comm.NewGroup(members)
	}

	colGroups := make([]*comm.Group, r) // indexed by ColIdx in [0,r)
	for i := range colGroups {
		members := make([]int, 0, c)
		for rank := i; rank < worldSize; rank += r {
			members = append(members, rank)
		}
		colGroups[i] = comm.NewGroup(members)
	}

	grids := make([]*Grid, worldSize)
	for rank := 0; rank < worldSize; rank++ {
		rowIdx := rank / r
		colIdx := rank % r
		grids[rank] = &Grid{
			Rank:     rank,
			R:        r,
			C:        c,
			RowIdx:   rowIdx,
			ColIdx:   colIdx,
			RowGroup: rowGroups[rowIdx],
			ColGroup: colGroups[colIdx],
		}
	}
	return grids
}
