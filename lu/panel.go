// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lu

import "github.com/scigo-hpc/distlu/gemm"

// panelSet holds this rank's double-buffered L/U panel workspace: two
// owning buffer pairs plus a current/previous index, swapped at the end of
// every outer step. This realizes the "manual pointer-swap of workspace
// buffers" design note as index-swap over owned slices rather than
// re-seating a raw pointer at any exported boundary.
type panelSet struct {
	ldL int // padded leading dim of the L (column-panel) buffers, width B
	ldU int // padded leading dim of the U (row-panel) buffers

	l   [2][]float64
	u   [2][]float64
	cur int
}

// newPanelSet allocates workspace sized for the largest panels the
// factorization will ever need: the step-0 trailing region.
func newPanelSet(maxLocalRows, maxLocalCols, b int) *panelSet {
	ldL := gemm.PaddedLeadingDim(b)
	ldU := gemm.PaddedLeadingDim(maxLocalCols)
	return &panelSet{
		ldL: ldL,
		ldU: ldU,
		l:   [2][]float64{make([]float64, maxLocalRows*ldL), make([]float64, maxLocalRows*ldL)},
		u:   [2][]float64{make([]float64, b*ldU), make([]float64, b*ldU)},
	}
}

func (p *panelSet) prevIdx() int { return 1 - p.cur }

// Lcur/Ucur return this step's panel buffers (written during PANEL_SOLVE,
// broadcast during PANEL_BCAST_ISSUE).
func (p *panelSet) Lcur() []float64 { return p.l[p.cur] }
func (p *panelSet) Ucur() []float64 { return p.u[p.cur] }

// Lprev/Uprev return the previous step's panel buffers, consumed by the
// deferred trailing update (P1, P4) and the bulk trailing GEMM (P6).
func (p *panelSet) Lprev() []float64 { return p.l[p.prevIdx()] }
func (p *panelSet) Uprev() []float64 { return p.u[p.prevIdx()] }

// Swap exchanges the roles of current and previous, after every goroutine
// in the rank's pool has finished reading Lprev/Uprev for this step.
func (p *panelSet) Swap() { p.cur = p.prevIdx() }
