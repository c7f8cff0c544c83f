// Copyright ©2024 The distlu Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comm realizes the MPI world/row/column communicators of the
// source algorithm as goroutine-addressed channel groups. Each simulated
// rank is a goroutine with its own private buffers; ranks never touch each
// other's memory directly, only exchange copies through World and Group, so
// that the concurrency model stays faithful to SPMD isolation even without
// an actual MPI binding in the process.
package comm

import (
	"context"
	"fmt"
	"sync"
)

// World is the equivalent of MPI_COMM_WORLD: point-to-point send/receive
// between any two ranks, used here only by the final gather phase.
type World struct {
	size int

	mu        sync.Mutex
	mailboxes map[string]chan []float64
}

// NewWorld creates a world of the given size. Ranks are addressed 0..size-1.
func NewWorld(size int) *World {
	if size < 1 {
		panic("comm: world size must be >= 1")
	}
	return &World{size: size, mailboxes: make(map[string]chan []float64)}
}

// Size returns the number of ranks in the world.
func (w *World) Size() int { return w.size }

func (w *World) mailbox(from, to int, tag string) chan []float64 {
	key := fmt.Sprintf("%d:%d:%s", from, to, tag)
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.mailboxes[key]
	if !ok {
		ch = make(chan []float64, 1)
		w.mailboxes[key] = ch
	}
	return ch
}

// Send copies data to the (from, to, tag) mailbox, which buffers one
// message; it blocks only while that buffer is full, until ctx is done.
func (w *World) Send(ctx context.Context, from, to int, tag string, data []float64) error {
	cp := append([]float64(nil), data...)
	select {
	case w.mailbox(from, to, tag) <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until data sent by (from, to, tag) is available or ctx is
// done.
func (w *World) Recv(ctx context.Context, from, to int, tag string) ([]float64, error) {
	select {
	case data := <-w.mailbox(from, to, tag):
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Group is a sub-communicator: the set of ranks sharing a row or column
// index in the process grid. Each named broadcast line ("diag", "panelL",
// "panelU") gets its own rendezvous slot so that a row group's diagonal
// broadcast in phase P3 and its panel broadcast in phase P6 never alias.
type Group struct {
	Members []int // global ranks, in grid order

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  int
	data []float64
}

func newSlot() *slot {
	s := &slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NewGroup builds a group over the given member ranks.
func NewGroup(members []int) *Group {
	m := make([]int, len(members))
	copy(m, members)
	return &Group{Members: m, slots: make(map[string]*slot)}
}

func (g *Group) slotFor(line string) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[line]
	if !ok {
		s = newSlot()
		g.slots[line] = s
	}
	return s
}

// Request is a handle to a non-blocking broadcast; Wait blocks the calling
// goroutine until the broadcast identified by this request has completed
// locally (the owner's publish, or a consumer's receipt of the published
// data).
type Request struct {
	wait func() error
}

// Wait blocks until the request completes.
func (r *Request) Wait() error {
	if r.wait == nil {
		return nil
	}
	return r.wait()
}

// IBroadcastSend publishes buf on the named line of the group. It is
// "non-blocking" in the MPI sense: the data is copied and the generation
// counter advanced before IBroadcastSend returns, so the caller (the
// diagonal owner) can proceed to the next phase while consumers catch up
// independently; the returned Request's Wait is a no-op.
func (g *Group) IBroadcastSend(line string, buf []float64) *Request {
	s := g.slotFor(line)
	s.mu.Lock()
	s.data = append([]float64(nil), buf...)
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()
	return &Request{}
}

// IBroadcastRecv issues a non-blocking receive on the named line. lastGen
// must point at the caller's own record of the last generation it published
// or observed on this line (zero-valued on first use; a caller that sends
// on the line advances it by one per IBroadcastSend); it is updated when
// Wait completes. dst receives a copy of the published data.
func (g *Group) IBroadcastRecv(line string, lastGen *int, dst []float64) *Request {
	s := g.slotFor(line)
	return &Request{wait: func() error {
		s.mu.Lock()
		for s.gen <= *lastGen {
			s.cond.Wait()
		}
		copy(dst, s.data)
		*lastGen = s.gen
		s.mu.Unlock()
		return nil
	}}
}
