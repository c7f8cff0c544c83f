// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lu

import "github.com/scigo-hpc/distlu/gemm"

// Descriptor is this rank's view of the block-cyclic distribution of the
// n'×n' top-left submatrix: which B×B blocks it owns, and where they sit in
// its local dense buffer. Block (I, J) is owned by the grid cell with
// ColIdx == I mod R and RowIdx == J mod C (the two grid coordinates are
// matched against the modulus whose range they share: ColIdx ranges over
// [0,R) like I mod R, RowIdx over [0,C) like J mod C).
//
// When R == C this reduces to the square m×m local buffer spec.md
// describes; for R != C the local buffer is the more general
// LocalRows×LocalCols rectangle, which is the same distribution rule
// applied without assuming a square grid.
type Descriptor struct {
	N int // n', the distributed top-left submatrix size
	B int // block size

	numBlocks int

	LocalBlockRows int
	LocalBlockCols int
	LocalRows      int // LocalBlockRows * B
	LocalCols      int // LocalBlockCols * B
	LD             int // padded leading dimension of the local buffer
}

// blocksOwned returns how many of the values in [0,n) are congruent to rem
// modulo mod.
func blocksOwned(n, mod, rem int) int {
	if rem >= n {
		return 0
	}
	return (n-rem-1)/mod + 1
}

// NewDescriptor builds the local distribution descriptor for a rank at the
// given grid coordinate, for a distributed region of nPrime x nPrime split
// into B x B blocks over an R x C grid.
func NewDescriptor(nPrime, b int, g *Grid) *Descriptor {
	numBlocks := nPrime / b
	lbr := blocksOwned(numBlocks, g.R, g.ColIdx)
	lbc := blocksOwned(numBlocks, g.C, g.RowIdx)
	d := &Descriptor{
		N:              nPrime,
		B:              b,
		numBlocks:      numBlocks,
		LocalBlockRows: lbr,
		LocalBlockCols: lbc,
		LocalRows:      lbr * b,
		LocalCols:      lbc * b,
	}
	d.LD = gemm.PaddedLeadingDim(d.LocalCols)
	return d
}

// globalBlockRow returns the global block-row index of this rank's
// lbr-th local block-row.
func (d *Descriptor) globalBlockRow(g *Grid, lbr int) int { return g.ColIdx + lbr*g.R }

// globalBlockCol returns the global block-column index of this rank's
// lbc-th local block-column.
func (d *Descriptor) globalBlockCol(g *Grid, lbc int) int { return g.RowIdx + lbc*g.C }

// Pack copies this rank's owned entries out of the dense global row-major
// matrix (leading dimension ldGlobal) into a freshly-allocated local dense
// buffer in block-cyclic-local order, unpadded (leading dim == LocalCols).
func (d *Descriptor) Pack(g *Grid, global []float64, ldGlobal int) []float64 {
	local := make([]float64, d.LocalRows*d.LocalCols)
	d.copyBlocks(g, global, ldGlobal, local, d.LocalCols, true)
	return local
}

// Unpack is Pack's inverse: it copies a local dense buffer (leading dim
// ldLocal) back into its owned positions of the dense global matrix.
func (d *Descriptor) Unpack(g *Grid, local []float64, ldLocal int, global []float64, ldGlobal int) {
	d.copyBlocks(g, global, ldGlobal, local, ldLocal, false)
}

func (d *Descriptor) copyBlocks(g *Grid, global []float64, ldGlobal int, local []float64, ldLocal int, toLocal bool) {
	b := d.B
	for lbr := 0; lbr < d.LocalBlockRows; lbr++ {
		gi := d.globalBlockRow(g, lbr) * b
		li := lbr * b
		for lbc := 0; lbc < d.LocalBlockCols; lbc++ {
			gj := d.globalBlockCol(g, lbc) * b
			lj := lbc * b
			for r := 0; r < b; r++ {
				gRow := global[(gi+r)*ldGlobal+gj : (gi+r)*ldGlobal+gj+b]
				lRow := local[(li+r)*ldLocal+lj : (li+r)*ldLocal+lj+b]
				if toLocal {
					copy(lRow, gRow)
				} else {
					copy(gRow, lRow)
				}
			}
		}
	}
}
