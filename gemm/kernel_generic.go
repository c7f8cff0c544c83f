// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64 || noasm

package gemm

// HasGemmKernel is always false off amd64 (or when the noasm build tag is
// set), so updateTile always takes the scalar mini-kernel path here.
var HasGemmKernel = false
