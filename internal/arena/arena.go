//go:build goexperiment.arenas
// +build goexperiment.arenas

// Package arena wraps Go's experimental `arena` package and hides its
// low-level API behind the tiny surface cachetable needs: allocating the
// pair list's large, long-lived structural arrays (hash-bucket heads and
// the per-bucket mutex shard) without handing the GC a multi-million
// element pointer table to scan on every cycle.
//
// Concurrency
// -----------
// Arena is *not* thread-safe. In cachetable it is only ever touched once,
// while the pair list is being constructed, before any pair or mutex
// inside it is reachable from another goroutine.
//
// © 2025 cachetable authors. MIT License.
package arena

import (
	"arena" // standard library experimental package
)

// Arena is a thin new-type wrapper that keeps the experimental stdlib
// package from leaking into the rest of cachetable.
type Arena struct{ ar arena.Arena }

// New constructs an empty arena ready for allocations.
func New() *Arena {
	return &Arena{ar: *arena.NewArena()}
}

// Free releases all memory allocated in the arena. After the call, any
// slice previously returned from MakeSlice becomes invalid.
func (a *Arena) Free() {
	a.ar.Free()
}

// MakeSlice allocates a slice of length==cap==n inside the arena. The
// backing array is owned by the arena and released on Free().
func MakeSlice[T any](a *Arena, n int) []T { return arena.MakeSlice[T](&a.ar, n, n) }
