package cachetable

// api.go implements C7: the public operations client threads call
// (spec §4.3) — get_and_pin (blocking and nonblocking), put_with_dep_pairs,
// unpin/unpin_and_remove, prefetch, and the maybe_get_and_pin variants.
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
)

// FetchFunc is the owner-supplied loader invoked on a get_and_pin miss,
// the generalization of the teacher's LoaderFunc[K, V] to this spec's
// fixed key shape.
type FetchFunc[V any] func(ctx context.Context, cf *Cachefile, key BlockNum) (V, Attr, error)

// Unlocker is a single release action supplied to GetAndPinNonblocking,
// run in order when the call must wait. Reacquiring the released locks
// is left to the caller before it retries.
type Unlocker struct {
	Release func()
}

// GetAndPin is the blocking get_and_pin operation (spec §4.3). It
// returns a pinned *Pair[V] in the requested lock mode.
func (ct *Cachetable[V]) GetAndPin(ctx context.Context, cf *Cachefile, key BlockNum, lt LockType,
	cbs WriteCallback[V], fetch FetchFunc[V], depPairs ...*Pair[V]) (*Pair[V], error) {

	for {
		fh := computeFullHash(cf.hashID, key)
		p := ct.pairs.findPair(cf, key, fh)

		if p == nil {
			var err error
			p, err = ct.fetchMiss(ctx, cf, key, fh, cbs, fetch)
			if err != nil {
				return nil, err
			}
			ct.cfg.metrics.incMiss()
		} else {
			ct.cfg.metrics.incHit()
		}

		lockPair(p, lt)

		if p.callbacks.PartialFetchRequired != nil && p.callbacks.PartialFetchRequired(p.value) {
			if lt != LockWriteExpensive {
				unlockPair(p, lt)
				lockPair(p, LockWriteExpensive)
			}
			if p.callbacks.PartialFetchRequired(p.value) {
				if err := ct.doPartialFetch(ctx, cf, p); err != nil {
					unlockPair(p, LockWriteExpensive)
					return nil, err
				}
			}
			if lt != LockWriteExpensive {
				unlockPair(p, LockWriteExpensive)
				lockPair(p, lt)
			}
		}

		if lt != LockRead {
			resolveCheckpointPending(ctx, ct, p)
			for _, dep := range depPairs {
				resolveCheckpointPending(ctx, ct, dep)
			}
		}

		if ct.evictor.overHighWatermark() {
			ct.evictor.waitForCachePressureToSubside(ctx)
		}

		return p, nil
	}
}

func (ct *Cachetable[V]) fetchMiss(ctx context.Context, cf *Cachefile, key BlockNum, fh FullHash,
	cbs WriteCallback[V], fetch FetchFunc[V]) (*Pair[V], error) {

	ct.pairs.listLock.Lock()
	if existing := ct.pairs.findPair(cf, key, fh); existing != nil {
		ct.pairs.listLock.Unlock()
		return existing, nil
	}

	var zero V
	p := newPair(cf, key, fh, zero, Attr{}, cbs)
	p.valueLock.WriteLock(true)
	ct.pairs.put(cf, p)
	ct.pairs.listLock.Unlock()

	if fetch != nil {
		value, attr, err := fetch(ctx, cf, key)
		if err != nil {
			ct.removePairUnconditionally(p)
			p.valueLock.WriteUnlock()
			return nil, err
		}
		p.value = value
		p.attr = attr
		ct.evictor.accountAdded(attr.Size)
	}
	p.setDirty(false)
	p.valueLock.WriteUnlock()
	return p, nil
}

func lockPair[V any](p *Pair[V], lt LockType) {
	switch lt {
	case LockRead:
		p.valueLock.ReadLock()
	case LockWriteCheap:
		p.valueLock.WriteLock(false)
	case LockWriteExpensive:
		p.valueLock.WriteLock(true)
	}
	p.clockBump()
}

func unlockPair[V any](p *Pair[V], lt LockType) {
	if lt == LockRead {
		p.valueLock.ReadUnlock()
	} else {
		p.valueLock.WriteUnlock()
	}
}

func (ct *Cachetable[V]) doPartialFetch(ctx context.Context, cf *Cachefile, p *Pair[V]) error {
	p.diskLock.Lock()
	defer p.diskLock.Unlock()
	newAttr, err := p.callbacks.PartialFetch(ctx, p.value, p.diskData, cf)
	if err != nil {
		return err
	}
	if newAttr.IsValid {
		delta := newAttr.Size - p.attr.Size
		ct.evictor.accountAdded(delta)
		p.attr = newAttr
	}
	return nil
}

// GetAndPinNonblocking implements the unlocker pattern (spec §4.3): if
// the operation would need to wait (miss, partial fetch, or an
// expensive pin), it increments the pair's refcount so it cannot be
// removed, runs every supplied unlocker, performs the slow work without
// any of the caller's locks held, unpins the pair again and returns
// ErrTryAgain. The caller must reacquire its own locks and retry.
func (ct *Cachetable[V]) GetAndPinNonblocking(ctx context.Context, cf *Cachefile, key BlockNum, lt LockType,
	cbs WriteCallback[V], fetch FetchFunc[V], unlockers []Unlocker) (*Pair[V], error) {

	fh := computeFullHash(cf.hashID, key)
	p := ct.pairs.findPair(cf, key, fh)

	if p != nil {
		if tryLockPair(p, lt) {
			if p.callbacks.PartialFetchRequired == nil || !p.callbacks.PartialFetchRequired(p.value) {
				p.clockBump()
				if lt != LockRead {
					resolveCheckpointPending(ctx, ct, p)
				}
				return p, nil
			}
			unlockPair(p, lt)
		}
		p.pinRef()
	}

	for _, u := range unlockers {
		u.Release()
	}

	if p == nil {
		if _, err := ct.fetchMiss(ctx, cf, key, fh, cbs, fetch); err != nil {
			return nil, err
		}
	} else {
		lockPair(p, lt)
		if p.callbacks.PartialFetchRequired != nil && p.callbacks.PartialFetchRequired(p.value) {
			_ = ct.doPartialFetch(ctx, cf, p)
		}
		unlockPair(p, lt)
		p.unpinRef()
	}

	return nil, ErrTryAgain
}

func tryLockPair[V any](p *Pair[V], lt LockType) bool {
	switch lt {
	case LockRead:
		return p.valueLock.TryReadLock()
	case LockWriteCheap:
		return p.valueLock.TryWriteLock(false)
	default:
		return p.valueLock.TryWriteLock(true)
	}
}

// GetKeyAndFullHash is invoked under the list write lock by
// PutWithDepPairs, letting the caller choose a not-in-use key as part of
// insertion atomicity (spec §4.3).
type GetKeyAndFullHash func() (BlockNum, FullHash)

// PutWithDepPairs creates a new DIRTY pair with an initial value,
// resolving checkpoint-pending on it and every dependent pair exactly as
// get_and_pin does.
func (ct *Cachetable[V]) PutWithDepPairs(ctx context.Context, cf *Cachefile, getKey GetKeyAndFullHash,
	value V, attr Attr, cbs WriteCallback[V], depPairs ...*Pair[V]) (*Pair[V], error) {

	ct.pairs.listLock.Lock()
	key, fh := getKey()
	if ct.pairs.findPairLocked(cf, key, fh) != nil {
		ct.pairs.listLock.Unlock()
		return nil, ErrAlreadyOpen
	}
	p := newPair(cf, key, fh, value, attr, cbs)
	p.valueLock.WriteLock(false)
	p.setDirty(true)
	ct.pairs.put(cf, p)
	ct.pairs.listLock.Unlock()

	ct.evictor.accountAdded(attr.Size)

	resolveCheckpointPending(ctx, ct, p)
	for _, dep := range depPairs {
		resolveCheckpointPending(ctx, ct, dep)
	}
	return p, nil
}

// Unpin releases p's value lock, optionally marking it dirty and
// updating its size attribute (spec §4.3).
func (ct *Cachetable[V]) Unpin(ctx context.Context, p *Pair[V], newDirty bool, newAttr Attr, lt LockType) {
	if newDirty {
		p.setDirty(true)
	}
	if newAttr.IsValid {
		delta := newAttr.Size - p.attr.Size
		p.attr = newAttr
		ct.evictor.accountAdded(delta)
	}
	unlockPair(p, lt)

	if ct.evictor.overHighWatermark() {
		ct.evictor.signal()
		if newDirty {
			ct.evictor.waitForCachePressureToSubside(ctx)
		}
	}
}

// RemoveKeyCallback lets the owner release a block-number reservation
// with proper checkpoint semantics once unpin_and_remove has committed
// to removing the pair.
type RemoveKeyCallback func(key BlockNum, wasPendingCheckpoint bool)

// UnpinAndRemove implements unpin_and_remove (spec §4.3). p must already
// be write-locked on entry.
func (ct *Cachetable[V]) UnpinAndRemove(ctx context.Context, p *Pair[V], removeKey RemoveKeyCallback) error {
	p.diskLock.Lock()
	p.setDirty(false)
	p.cachePressureSize = 0
	p.diskLock.Unlock()

	ct.pairs.listLock.Lock()
	ct.pairs.pendingCheapLock.Lock()
	wasPending := p.checkpointPending
	if wasPending {
		ct.pairs.unlinkPending(p)
	}
	ct.pairs.pendingCheapLock.Unlock()

	if removeKey != nil {
		removeKey(p.key, wasPending)
	}

	ct.pairs.evictCompletely(p.cf, p)
	ct.pairs.listLock.Unlock()

	ct.evictor.accountRemoved(p.attr.Size)

	p.waitForZeroRefs()
	p.valueLock.WriteUnlock()
	return nil
}

// Prefetch is best-effort: it never sleeps on cache pressure (spec
// §4.3).
func (ct *Cachetable[V]) Prefetch(ctx context.Context, cf *Cachefile, key BlockNum, cbs WriteCallback[V], fetch FetchFunc[V]) {
	fh := computeFullHash(cf.hashID, key)
	p := ct.pairs.findPair(cf, key, fh)

	if p == nil {
		ct.pool.Submit(func() {
			_, _ = ct.fetchMiss(ctx, cf, key, fh, cbs, fetch)
		})
		return
	}

	if !p.valueLock.TryWriteLock(false) {
		return
	}
	if p.callbacks.PartialFetchRequired != nil && p.callbacks.PartialFetchRequired(p.value) {
		ct.pool.Submit(func() {
			_ = ct.doPartialFetch(ctx, cf, p)
			p.valueLock.WriteUnlock()
		})
		return
	}
	p.valueLock.WriteUnlock()
}

// MaybeGetAndPin pins only if the pair exists, the requested lock can be
// acquired without waiting, and the pair is dirty and (for write modes)
// not checkpoint-pending.
func (ct *Cachetable[V]) MaybeGetAndPin(cf *Cachefile, key BlockNum, lt LockType) (*Pair[V], bool) {
	fh := computeFullHash(cf.hashID, key)
	p := ct.pairs.findPair(cf, key, fh)
	if p == nil || !p.IsDirty() {
		return nil, false
	}
	if lt != LockRead && p.checkpointPending {
		return nil, false
	}
	if !tryLockPair(p, lt) {
		return nil, false
	}
	p.clockBump()
	return p, true
}

// MaybeGetAndPinClean is MaybeGetAndPin but also succeeds on clean
// pairs, and tolerates a blocking lock acquisition as long as neither
// side is expensive.
func (ct *Cachetable[V]) MaybeGetAndPinClean(cf *Cachefile, key BlockNum, lt LockType) (*Pair[V], bool) {
	fh := computeFullHash(cf.hashID, key)
	p := ct.pairs.findPair(cf, key, fh)
	if p == nil {
		return nil, false
	}
	if tryLockPair(p, lt) {
		p.clockBump()
		return p, true
	}
	if p.valueLock.WriteLockIsExpensive() {
		return nil, false
	}
	lockPair(p, lt)
	return p, true
}

// removePairUnconditionally is used to roll back a failed fetch: it
// unlinks p from every structure without invoking flush.
func (ct *Cachetable[V]) removePairUnconditionally(p *Pair[V]) {
	ct.pairs.listLock.Lock()
	ct.pairs.evictCompletely(p.cf, p)
	ct.pairs.listLock.Unlock()
}
