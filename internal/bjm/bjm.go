// Package bjm implements the per-cachefile background-job manager from
// spec §3: a counter of in-flight background jobs with a wait-for-zero
// primitive. Clients increment before enqueueing asynchronous work that
// touches a cachefile; the evictor/checkpointer/cleaner decrement on
// completion. Close() waits for the counter to drain.
//
// Modeled as a hand-rolled counter+condvar, matching the teacher's own
// style of implementing its small concurrency primitives (genring,
// clockpro) directly rather than reaching for a library — no pack repo
// ships a bare "wait group that can still accept new work after Wait
// returns" type, which is what BJM needs (sync.WaitGroup panics if Add
// races with Wait reaching zero).
//
// © 2025 cachetable authors. MIT License.
package bjm

import (
	"fmt"
	"sync"
)

// BJM is a cachefile-scoped background-job counter.
type BJM struct {
	mu      sync.Mutex
	cond    *sync.Cond
	count   int
	closing bool
}

// New constructs a ready-to-use BJM.
func New() *BJM {
	b := &BJM{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// ErrClosing is returned by Add when the cachefile is already draining
// for close; the caller must not enqueue more background work.
var ErrClosing = fmt.Errorf("bjm: cachefile is closing")

// Add registers one in-flight background job. Returns ErrClosing if the
// manager has begun (or finished) closing.
func (b *BJM) Add() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return ErrClosing
	}
	b.count++
	return nil
}

// Done marks one background job complete.
func (b *BJM) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		panic("bjm: Done called more times than Add")
	}
	b.count--
	if b.count == 0 {
		b.cond.Broadcast()
	}
}

// WaitForZero blocks until no background jobs are in flight. It does not
// itself prevent new jobs from being added concurrently; callers that
// want to drain permanently should call BeginClose first.
func (b *BJM) WaitForZero() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.count > 0 {
		b.cond.Wait()
	}
}

// BeginClose marks the manager as closing (subsequent Add calls fail)
// and blocks until all in-flight jobs finish. Cachetable.Close calls this
// before releasing its file descriptor (spec §8, "close does not return
// while any background job on cf is pending").
func (b *BJM) BeginClose() {
	b.mu.Lock()
	b.closing = true
	for b.count > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// Count returns the current in-flight job count, for diagnostics.
func (b *BJM) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
