// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64 && !noasm

package gemm

import "golang.org/x/sys/cpu"

// HasGemmKernel reports whether the host has a hardware FMA unit, mirroring
// gonum's internal/asm/f64.HasGemmKernel. updateTile only engages the
// register-tiled micro-kernel when this is true; without AVX2+FMA the
// 4-wide lane batching buys nothing over the scalar mini-kernel, so every
// tile takes that path instead.
var HasGemmKernel = cpu.X86.HasAVX2 && cpu.X86.HasFMA
