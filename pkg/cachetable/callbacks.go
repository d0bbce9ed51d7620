package cachetable

// callbacks.go models the owner-supplied function-pointer records from
// spec §6.1/§6.2. The original is C++ calling through virtual functions;
// per spec §9's design note on inheritance/polymorphism, this becomes a
// small borrowed record of closures plus an opaque extraargs value,
// parametric over the pair's value type V — the same shape as the
// teacher's LoaderFunc[K, V] in pkg/loaderfunc.go, generalized from a
// single loader to the full write/eviction/clone callback set a pair
// needs for its lifetime.
//
// © 2025 cachetable authors. MIT License.

import "context"

// LockType selects which of the three value-lock modes a caller wants
// when pinning a pair.
type LockType int

const (
	LockRead LockType = iota
	LockWriteCheap
	LockWriteExpensive
)

// Cost classifies the expense of an operation a callback reports back to
// the cache, used by partial_eviction_est to tell the evictor whether it
// may run partial_eviction synchronously on its own thread.
type Cost int

const (
	CostCheap Cost = iota
	CostExpensive
)

// Attr is the size/accounting attribute attached to a pair's value. Only
// Size is read by the evictor; IsValid gates whether a callback's
// returned Attr should overwrite the pair's stored one.
type Attr struct {
	Size    int64
	IsValid bool
}

// UnpinWithNewAttr is the continuation partial_eviction must invoke
// exactly once to hand a new size attribute back to the evictor and
// release the pair.
type UnpinWithNewAttr func(newAttr Attr)

// WriteCallback bundles every owner-supplied function for a pair of
// value type V, constant for the pair's lifetime (spec §4.1, §6.1). A
// nil field is legal wherever the corresponding spec section says so
// (e.g. Clone is optional; a pair without it is always flushed inline).
type WriteCallback[V any] struct {
	// Flush writes the pair. If keepMe is false the cache is evicting
	// and value may be discarded by the callback after the call
	// returns. If isClone is true, value is the cloned buffer and
	// keepMe is always false. The returned Attr, when Valid, replaces
	// the pair's stored attribute.
	Flush func(ctx context.Context, cf *Cachefile, key BlockNum, value V,
		diskData *[]byte, oldAttr Attr, doWrite, keepMe, forCheckpoint, isClone bool) (Attr, error)

	// PartialEvictionEst is advisory: it estimates how many bytes a
	// partial eviction would free and whether running it would be
	// cheap or expensive.
	PartialEvictionEst func(value V, diskData []byte) (bytesFreedEst int64, cost Cost)

	// PartialEviction must invoke done exactly once, preferably before
	// any expensive cleanup, to release the pair with a new attr.
	PartialEviction func(value V, oldAttr Attr, done UnpinWithNewAttr)

	// PartialFetchRequired must be safe to call under the value
	// read-lock.
	PartialFetchRequired func(value V) bool

	// PartialFetch is called with the value write-lock and disk lock
	// both held.
	PartialFetch func(ctx context.Context, value V, diskData []byte, fd *Cachefile) (Attr, error)

	// Cleaner is invoked by the background cleaner with the value
	// write lock held; it must release that lock before returning.
	Cleaner func(ctx context.Context, cf *Cachefile, key BlockNum, value V) error

	// Clone produces a checkpoint-time copy of value. Invoked under
	// the value write lock plus the disk lock.
	Clone func(value V, forCheckpoint bool) (clonedValue V, clonedAttr Attr, err error)

	// CheckpointComplete is called just before the checkpoint write of
	// this pair (clone or inline) begins; err is always nil.
	CheckpointComplete func(err error)
}

// CachefileCallbacks bundles the cachefile-level user-data hooks from
// spec §6.2, invoked around the checkpoint protocol and on close.
type CachefileCallbacks struct {
	BeginCheckpointUserdata      func(ctx context.Context, cf *Cachefile) error
	CheckpointUserdata           func(ctx context.Context, cf *Cachefile) error
	EndCheckpointUserdata        func(ctx context.Context, cf *Cachefile) error
	NotePinByCheckpoint          func(cf *Cachefile)
	NoteUnpinByCheckpoint        func(cf *Cachefile)
	CloseUserdata                func(ctx context.Context, cf *Cachefile) error
	FreeUserdata                 func(cf *Cachefile)
	LogFassociateDuringCheckpoint func(ctx context.Context, cf *Cachefile) error
}
