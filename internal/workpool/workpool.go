// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workpool provides a fixed-size goroutine pool with a static
// work-sharing loop and a barrier, standing in for the OpenMP thread team
// that gemm and lu assume they run inside.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size worker team. It holds only the worker count: each
// ParallelFor or Barrier call starts that many goroutines and waits for
// them, so no goroutine outlives a call. A Pool is created once per rank and
// reused across every outer LU iteration and every gemm call issued by that
// rank.
type Pool struct {
	size int
}

// New creates a pool with n workers. n must be >= 1.
func New(n int) *Pool {
	if n < 1 {
		panic("workpool: size must be >= 1")
	}
	return &Pool{size: n}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return p.size }

// ParallelFor calls fn(worker, i) for i in [0, n) distributed across the
// pool with a static schedule of chunk size 1, then waits for every worker
// to finish (the implicit work-loop barrier). The first non-nil error from
// any worker is returned after all workers have finished.
func (p *Pool) ParallelFor(ctx context.Context, n int, fn func(worker, i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := p.size
	if workers > n {
		workers = n
	}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < n; i += workers {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := fn(w, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Barrier runs fn on every worker of the pool and blocks until all have
// returned, realizing the OpenMP team barrier used between LU phases.
func (p *Pool) Barrier(ctx context.Context, fn func(worker int) error) error {
	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < p.size; w++ {
		w := w
		g.Go(func() error { return fn(w) })
	}
	return g.Wait()
}

// Master runs fn once, on a single logical worker, mirroring an OpenMP
// "master" region. It is a plain function call; the lu package does not
// call it and runs its single-thread phases as ordinary sequential code.
func Master(fn func() error) error {
	return fn()
}
