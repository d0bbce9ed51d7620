package cachetable

// pairlist.go implements C2: the sharded hash table, the per-bucket
// mutex array, the three-cursor clock/cleaner/checkpoint ring, the
// pending list and the three associated rwlocks (spec §3, §4.2).
//
// The bucket head array and the mutex array are the two large,
// rarely-resized structural arrays of the whole cache, so they are the
// components repurposed onto internal/arena (the teacher's arena was
// used per-value; here it backs the pair-list's own bookkeeping arrays
// instead, see DESIGN.md).
//
// © 2025 cachetable authors. MIT License.

import (
	"sort"
	"sync"

	"github.com/Voskan/cachetable/internal/arena"
	"github.com/Voskan/cachetable/internal/ring"
	"github.com/Voskan/cachetable/internal/unsafehelpers"
)

// pairList owns every pair currently resident in the cache, for a single
// value type V.
type pairList[V any] struct {
	n, l int // bucket count / mutex-shard count, both powers of two

	arena   *arena.Arena
	buckets []*Pair[V] // hash chain heads, indexed by fullHash & (n-1)
	mutexes []sync.Mutex

	ring *ring.Ring

	listLock sync.RWMutex // protects hash-table structure & list membership

	pendingExpensiveLock sync.RWMutex
	pendingCheapLock     sync.RWMutex
	pendingHead          *Pair[V]

	numPairs int64
}

func newPairList[V any](n, l int) *pairList[V] {
	invariant(unsafehelpers.IsPowerOfTwo(uintptr(n)) && unsafehelpers.IsPowerOfTwo(uintptr(l)),
		"pair list N and L must be powers of two")
	a := arena.New()
	pl := &pairList[V]{
		n:       n,
		l:       l,
		arena:   a,
		buckets: arena.MakeSlice[*Pair[V]](a, n),
		mutexes: arena.MakeSlice[sync.Mutex](a, l),
		ring:    &ring.Ring{},
	}
	return pl
}

func (pl *pairList[V]) bucketIndex(fh FullHash) int {
	return int(uint32(fh)) & (pl.n - 1)
}

func (pl *pairList[V]) mutexIndex(fh FullHash) int {
	return int(uint32(fh)) & (pl.l - 1)
}

func (pl *pairList[V]) bucketMutex(fh FullHash) *sync.Mutex {
	return &pl.mutexes[pl.mutexIndex(fh)]
}

// findPair walks the hash chain under the bucket mutex, matching both
// key and cachefile pointer (spec §4.2).
func (pl *pairList[V]) findPair(cf *Cachefile, key BlockNum, fh FullHash) *Pair[V] {
	mu := pl.bucketMutex(fh)
	mu.Lock()
	defer mu.Unlock()
	return pl.findPairLocked(cf, key, fh)
}

// findPairLocked assumes the caller already holds the bucket mutex for fh
// or the list write lock.
func (pl *pairList[V]) findPairLocked(cf *Cachefile, key BlockNum, fh FullHash) *Pair[V] {
	for p := pl.buckets[pl.bucketIndex(fh)]; p != nil; p = p.hashNext {
		if p.cf == cf && p.key == key {
			return p
		}
	}
	return nil
}

// addToCachetableOnly inserts p into the clock ring at the tail and
// into its hash chain at the head. Requires the list write lock and the
// pair's bucket mutex to already be held by the caller.
func (pl *pairList[V]) addToCachetableOnly(p *Pair[V]) {
	idx := pl.bucketIndex(p.fullHash)
	p.hashNext = pl.buckets[idx]
	pl.buckets[idx] = p
	pl.ring.InsertTail(p)
	pl.numPairs++
}

// addToCfList prepends p to cf.head and bumps cf.numPairs.
func (pl *pairList[V]) addToCfList(cf *Cachefile, p *Pair[V]) {
	p.cfNext = cfPairHead[V](cf)
	if p.cfNext != nil {
		p.cfNext.cfPrev = p
	}
	p.cfPrev = nil
	cf.setPairHead(p)
	cf.numPairs++
}

// put is addToCachetableOnly + addToCfList under the required locks.
func (pl *pairList[V]) put(cf *Cachefile, p *Pair[V]) {
	mu := pl.bucketMutex(p.fullHash)
	p.bucketMu = mu
	mu.Lock()
	pl.addToCachetableOnly(p)
	mu.Unlock()
	pl.addToCfList(cf, p)
}

// evictFromCachetable unlinks p from the clock ring, the pending list
// (if present) and its hash chain.
func (pl *pairList[V]) evictFromCachetable(p *Pair[V]) {
	mu := pl.bucketMutex(p.fullHash)
	mu.Lock()
	idx := pl.bucketIndex(p.fullHash)
	if pl.buckets[idx] == p {
		pl.buckets[idx] = p.hashNext
	} else {
		for cur := pl.buckets[idx]; cur != nil; cur = cur.hashNext {
			if cur.hashNext == p {
				cur.hashNext = p.hashNext
				break
			}
		}
	}
	p.hashNext = nil
	mu.Unlock()

	if p.checkpointPending {
		pl.unlinkPending(p)
	}
	pl.ring.Remove(p)
	pl.numPairs--
}

// evictFromCachefile unlinks p from its cachefile's chain.
func (pl *pairList[V]) evictFromCachefile(cf *Cachefile, p *Pair[V]) {
	if p.cfPrev != nil {
		p.cfPrev.cfNext = p.cfNext
	} else {
		cf.setPairHead(p.cfNext)
	}
	if p.cfNext != nil {
		p.cfNext.cfPrev = p.cfPrev
	}
	p.cfNext, p.cfPrev = nil, nil
	cf.numPairs--
}

func (pl *pairList[V]) evictCompletely(cf *Cachefile, p *Pair[V]) {
	pl.evictFromCachetable(p)
	pl.evictFromCachefile(cf, p)
}

/* ---------------- pending list (checkpoint, §4.6) ---------------- */

// linkPending must be called with the list read lock and pending-cheap
// write lock held (begin_checkpoint's acquisition order).
func (pl *pairList[V]) linkPending(p *Pair[V]) {
	invariant(!p.checkpointPending, "pair already on pending list")
	p.checkpointPending = true
	p.pendingNext = pl.pendingHead
	if pl.pendingHead != nil {
		pl.pendingHead.pendingPrev = p
	}
	p.pendingPrev = nil
	pl.pendingHead = p
}

// unlinkPending may be called either by the pending-cheap write lock
// holder (client-side resolution) or while holding the pair's value
// lock, per the pending-bit rule in spec §4.6.
func (pl *pairList[V]) unlinkPending(p *Pair[V]) {
	if !p.checkpointPending {
		return
	}
	if p.pendingPrev != nil {
		p.pendingPrev.pendingNext = p.pendingNext
	} else {
		pl.pendingHead = p.pendingNext
	}
	if p.pendingNext != nil {
		p.pendingNext.pendingPrev = p.pendingPrev
	}
	p.pendingNext, p.pendingPrev = nil, nil
	p.checkpointPending = false
}

// popPending removes and returns the head of the pending list, or nil if
// empty. Used by end_checkpoint's drain loop.
func (pl *pairList[V]) popPending() *Pair[V] {
	pl.pendingCheapLock.Lock()
	p := pl.pendingHead
	if p != nil {
		pl.unlinkPending(p)
	}
	pl.pendingCheapLock.Unlock()
	return p
}

/* ---------------- clock cursors ---------------- */

func (pl *pairList[V]) clockHead() *Pair[V] {
	n := pl.ring.ClockHead()
	if n == nil {
		return nil
	}
	return n.(*Pair[V])
}

func (pl *pairList[V]) cleanerHead() *Pair[V] {
	n := pl.ring.CleanerHead()
	if n == nil {
		return nil
	}
	return n.(*Pair[V])
}

func (pl *pairList[V]) checkpointHead() *Pair[V] {
	n := pl.ring.CheckpointHead()
	if n == nil {
		return nil
	}
	return n.(*Pair[V])
}

// cfPairHead safely extracts a cachefile's opaque pair-chain head as
// *Pair[V], returning nil if the chain is empty (head is untyped nil).
func cfPairHead[V any](cf *Cachefile) *Pair[V] {
	p, _ := cf.pairHeadAny().(*Pair[V])
	return p
}

func ringNext[V any](p *Pair[V]) *Pair[V] {
	n := ring.Next(p)
	if n == nil {
		return nil
	}
	return n.(*Pair[V])
}

/* ---------------- sorted cachefile collections (C3) ---------------- */

// sortedCachefiles is the shared backing for the CachefileList's three
// insertion-ordered, key-sorted collections. google/btree appears only
// in manifest files in the retrieval pack with no source to ground an
// API against (see DESIGN.md); sort.Search over a slice gives the same
// O(log n) lookup with a verifiable stdlib contract.
type sortedCachefiles struct {
	mu   sync.RWMutex
	keys []uint64
	vals []*Cachefile
}

func newSortedCachefiles() *sortedCachefiles {
	return &sortedCachefiles{}
}

func (s *sortedCachefiles) find(key uint64) (*Cachefile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		return s.vals[i], true
	}
	return nil, false
}

func (s *sortedCachefiles) insert(key uint64, cf *Cachefile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		s.vals[i] = cf
		return
	}
	s.keys = append(s.keys, 0)
	s.vals = append(s.vals, nil)
	copy(s.keys[i+1:], s.keys[i:])
	copy(s.vals[i+1:], s.vals[i:])
	s.keys[i] = key
	s.vals[i] = cf
}

func (s *sortedCachefiles) remove(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
		s.vals = append(s.vals[:i], s.vals[i+1:]...)
	}
}

func (s *sortedCachefiles) snapshot() []*Cachefile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cachefile, len(s.vals))
	copy(out, s.vals)
	return out
}
