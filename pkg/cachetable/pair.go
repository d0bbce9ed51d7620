package cachetable

// pair.go implements C1: one cached object plus its locks, dirty/pending
// state, disk-clone slot and refcount (spec §3, §4.1). It is the
// generalization of the teacher's shard entry (pkg/shard.go's "entry")
// from a single CLOCK-Pro hot/cold/test byte to the full pair state
// machine this spec requires, and borrows its lock fields directly from
// internal/pairlock instead of a single sync.RWMutex.
//
// © 2025 cachetable authors. MIT License.

import (
	"sync"

	"github.com/Voskan/cachetable/internal/pairlock"
	"github.com/Voskan/cachetable/internal/ring"
)

// BlockNum is the 64-bit block number half of a pair's identity.
type BlockNum uint64

// FullHash is the 32-bit bit-mixed hash of (cachefile.hash_id, key),
// used to address the pair-list's bucket array.
type FullHash uint32

// dirtyState is CLEAN or DIRTY (spec §3).
type dirtyState int32

const (
	clean dirtyState = iota
	dirty
)

// maxCount is the saturating upper bound of the clock counter.
const maxCount = 15

// initialCount is the count a freshly-added pair starts with.
const initialCount = 3

// Pair is the unit of caching: one in-memory object plus everything the
// cache needs to lock, evict, clean and checkpoint it.
type Pair[V any] struct {
	// identity
	cf       *Cachefile
	key      BlockNum
	fullHash FullHash

	// payload
	value           V
	diskData        []byte
	clonedValue     V
	clonedValueSize int64
	hasClonedValue  bool

	// size accounting
	attr              Attr
	cachePressureSize int64
	sizeEvictingEst   int64

	// state
	dirty              dirtyState
	count              int32
	checkpointPending  bool
	refcount           int32
	numWaitingOnRefs   int32

	callbacks WriteCallback[V]

	valueLock pairlock.ValueLock
	diskLock  pairlock.DiskLock

	// bucket mutex, shared with every other pair hashing to the same
	// bucket; owned by the pairList, assigned when the pair is inserted.
	bucketMu *sync.Mutex

	// ring links: the clock/cleaner/checkpoint ring is shared across
	// all pairs in the table (ring.Node), the pending list and the
	// cachefile chain are pair-local doubly linked lists.
	ringLinks ring.Links

	pendingNext, pendingPrev *Pair[V]
	cfNext, cfPrev           *Pair[V]
	hashNext                 *Pair[V]

	refCond *sync.Cond
}

// RingLinks implements ring.Node so a *Pair[V] can live on the
// clock/cleaner/checkpoint ring.
func (p *Pair[V]) RingLinks() *ring.Links { return &p.ringLinks }

// newPair allocates a pair in the CLEAN state with initialCount,
// registering cbs as its lifetime callbacks.
func newPair[V any](cf *Cachefile, key BlockNum, fh FullHash, value V, attr Attr, cbs WriteCallback[V]) *Pair[V] {
	p := &Pair[V]{
		cf:        cf,
		key:       key,
		fullHash:  fh,
		value:     value,
		attr:      attr,
		dirty:     clean,
		count:     initialCount,
		callbacks: cbs,
	}
	p.refCond = sync.NewCond(&sync.Mutex{})
	return p
}

// IsDirty reports whether the pair is currently DIRTY.
func (p *Pair[V]) IsDirty() bool { return p.dirty == dirty }

// Value returns the pair's current payload. Callers must hold at least
// a read lock on the pair.
func (p *Pair[V]) Value() V { return p.value }

// Key returns the pair's block number.
func (p *Pair[V]) Key() BlockNum { return p.key }

// Attr returns the pair's current size attribute.
func (p *Pair[V]) Attr() Attr { return p.attr }

// setDirty sets the pair DIRTY (d true) or CLEAN (d false). Callers mark
// a pair CLEAN after a successful flush (writeLockedPair, checkpoint
// resolution), when a checkpoint clone is taken, after a fresh fetch, and
// on unpin_and_remove.
func (p *Pair[V]) setDirty(d bool) {
	if d {
		p.dirty = dirty
	} else {
		p.dirty = clean
	}
}

// pinRef increments the external refcount used by hot-indexer style
// collaborators (spec §3: "used only by the hot-indexer ... the cache
// merely honors waits on it").
func (p *Pair[V]) pinRef() {
	p.refCond.L.Lock()
	p.refcount++
	p.refCond.L.Unlock()
}

func (p *Pair[V]) unpinRef() {
	p.refCond.L.Lock()
	p.refcount--
	if p.refcount < 0 {
		invariant(false, "pair refcount went negative")
	}
	if p.refcount == 0 {
		p.refCond.Broadcast()
	}
	p.refCond.L.Unlock()
}

// waitForZeroRefs blocks until refcount reaches zero. Used by
// unpin_and_remove (spec §4.3).
func (p *Pair[V]) waitForZeroRefs() {
	p.refCond.L.Lock()
	p.numWaitingOnRefs++
	for p.refcount > 0 {
		p.refCond.Wait()
	}
	p.numWaitingOnRefs--
	p.refCond.L.Unlock()
}

// decrementClockCount implements the probabilistic-for-small,
// unconditional-for-big decrement rule from spec §4.4, without floating
// point on the hot path: "big" pairs (curr_size * nPairs >= sizeCurrent)
// always decrement; otherwise decrement with probability
// curr_size/avgSize approximated via a 16-bit comparison.
func (p *Pair[V]) decrementClockCount(nPairs int64, sizeCurrent int64, avgSize int64, rnd uint16) {
	big := p.attr.Size*nPairs >= sizeCurrent
	if big {
		p.clockDecr()
		return
	}
	if avgSize <= 0 {
		p.clockDecr()
		return
	}
	threshold := uint16((p.attr.Size * 0xFFFF) / avgSize)
	if rnd < threshold {
		p.clockDecr()
	}
}

func (p *Pair[V]) clockDecr() {
	if p.count > 0 {
		p.count--
	}
}

func (p *Pair[V]) clockBump() {
	p.count++
	if p.count > maxCount {
		p.count = maxCount
	}
}
