package cachetable

// checkpoint.go implements C6: the begin_checkpoint/end_checkpoint
// boundary and the pending-bit handshake shared with the client-side
// resolution path used by get_and_pin, put and the cleaner (spec §4.6);
// unpin_and_remove clears the pending bit itself, without writing.
//
// golang.org/x/sync/errgroup drains the set of background clone-flush
// jobs a checkpoint enqueues: each clone-flush runs on the checkpointing
// kibbutz (internal/kibbutz, sized max(hw/4,1) per spec §5), and the
// errgroup tracks an adapter goroutine per job so end_checkpoint's step 2
// can simply call Wait without needing its own completion channel.
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type checkpointer[V any] struct {
	ct       *Cachetable[V]
	mu       sync.Mutex // externally serializes begin/end (spec: "at most one active")
	active   bool
	cfSet    []*Cachefile
	cloneJobs *errgroup.Group
}

func newCheckpointer[V any](ct *Cachetable[V]) *checkpointer[V] {
	return &checkpointer[V]{ct: ct}
}

// submitCheckpointJob runs job on the checkpointing kibbutz, tracked by
// the active checkpoint's errgroup (if any) so EndCheckpoint's Wait
// observes its completion. If no checkpoint is active (job raced past
// EndCheckpoint clearing cloneJobs), it still runs on the pool, just
// untracked.
func (ct *Cachetable[V]) submitCheckpointJob(job func() error) {
	ck := ct.ckpt
	ck.mu.Lock()
	g := ck.cloneJobs
	ck.mu.Unlock()

	runner := func() error {
		done := make(chan error, 1)
		ct.ckptPool.Submit(func() { done <- job() })
		return <-done
	}
	if g != nil {
		g.Go(runner)
	} else {
		go func() { _ = runner() }()
	}
}

// BeginCheckpoint marks every active cachefile for_checkpoint, snapshots
// the pending set and invokes each cachefile's begin_checkpoint_userdata
// (spec §4.6 step 1-3).
func (ct *Cachetable[V]) BeginCheckpoint(ctx context.Context) error {
	ck := ct.ckpt
	ck.mu.Lock()
	if ck.active {
		ck.mu.Unlock()
		return nil // already in progress; begin is idempotent per the spec's external serialization
	}
	ck.active = true
	ck.cfSet = ct.files.activeByFilenum.snapshot()
	var g errgroup.Group
	ck.cloneJobs = &g

	for _, cf := range ck.cfSet {
		cf.forCheckpoint.Store(true)
		if cf.callbacks.NotePinByCheckpoint != nil {
			cf.callbacks.NotePinByCheckpoint(cf)
		}
	}

	pl := ct.pairs
	pl.pendingExpensiveLock.Lock()
	pl.listLock.RLock()
	pl.pendingCheapLock.Lock()

	p := pl.checkpointHead()
	for i := int64(0); i < pl.numPairs && p != nil; i++ {
		if p.cf.forCheckpoint.Load() {
			pl.linkPending(p)
		}
		p = ringNext(p)
		pl.ring.AdvanceCheckpoint()
	}

	for _, cf := range ck.cfSet {
		if cf.callbacks.LogFassociateDuringCheckpoint != nil {
			_ = cf.callbacks.LogFassociateDuringCheckpoint(ctx, cf)
		}
		if cf.callbacks.BeginCheckpointUserdata != nil {
			if err := cf.callbacks.BeginCheckpointUserdata(ctx, cf); err != nil {
				cf.markError(err)
			}
		}
	}

	pl.pendingCheapLock.Unlock()
	pl.listLock.RUnlock()
	pl.pendingExpensiveLock.Unlock()

	ck.mu.Unlock()
	ct.cfg.metrics.incCheckpoint()
	return nil
}

// EndCheckpoint drains the pending list, waits for the clone flushes,
// runs every for_checkpoint cachefile's checkpoint and end-checkpoint
// userdata callbacks and clears for_checkpoint (spec §4.6 end_checkpoint
// steps 1-6). It writes no log record and performs no fsync itself.
func (ct *Cachetable[V]) EndCheckpoint(ctx context.Context) error {
	ck := ct.ckpt
	start := time.Now()

	for {
		p := ct.pairs.popPending()
		if p == nil {
			break
		}
		resolvePendingPair(ctx, ct, p, true)
	}

	ck.mu.Lock()
	jobs := ck.cloneJobs
	cfSet := ck.cfSet
	ck.mu.Unlock()
	if jobs != nil {
		_ = jobs.Wait()
	}

	for _, cf := range cfSet {
		if cf.callbacks.CheckpointUserdata != nil {
			if err := cf.callbacks.CheckpointUserdata(ctx, cf); err != nil {
				cf.markError(err)
			}
		}
	}

	for _, cf := range cfSet {
		if cf.callbacks.EndCheckpointUserdata != nil {
			if err := cf.callbacks.EndCheckpointUserdata(ctx, cf); err != nil {
				cf.markError(err)
			}
		}
	}

	for _, cf := range cfSet {
		if cf.callbacks.NoteUnpinByCheckpoint != nil {
			cf.callbacks.NoteUnpinByCheckpoint(cf)
		}
		cf.forCheckpoint.Store(false)
	}

	ct.cfg.metrics.observeCheckpointDuration(time.Since(start))

	ck.mu.Lock()
	ck.active = false
	ck.cfSet = nil
	ck.cloneJobs = nil
	ck.mu.Unlock()
	return nil
}

// resolveCheckpointPending is the client-side half of the handshake,
// invoked from get_and_pin/put/cleaner once the target
// pair (and dependents) are write-locked (spec §4.6 "Client-side pending
// resolution").
func resolveCheckpointPending[V any](ctx context.Context, ct *Cachetable[V], p *Pair[V]) {
	ct.pairs.pendingCheapLock.RLock()
	pending := p.checkpointPending
	ct.pairs.pendingCheapLock.RUnlock()
	if !pending {
		return
	}

	ct.pairs.pendingCheapLock.Lock()
	ct.pairs.unlinkPending(p)
	ct.pairs.pendingCheapLock.Unlock()

	if !p.IsDirty() {
		return
	}
	resolvePendingPair(ctx, ct, p, false)
}

// resolvePendingPair performs the clone-or-inline-write for a pair that
// was pending and dirty. fromCheckpointDrain distinguishes the
// end_checkpoint drain loop (which acquires the pair's value lock here)
// from client-side resolution (whose caller already holds it).
func resolvePendingPair[V any](ctx context.Context, ct *Cachetable[V], p *Pair[V], fromCheckpointDrain bool) {
	if fromCheckpointDrain {
		p.valueLock.WriteLock(p.callbacks.Clone != nil)
		defer p.valueLock.WriteUnlock()
		if !p.checkpointPending && !p.IsDirty() {
			return
		}
		ct.pairs.unlinkPending(p)
		if !p.IsDirty() {
			return
		}
	}

	if p.callbacks.CheckpointComplete != nil {
		p.callbacks.CheckpointComplete(nil)
	}

	if p.callbacks.Clone != nil {
		p.diskLock.Lock()
		clonedValue, clonedAttr, err := p.callbacks.Clone(p.value, true)
		if err != nil {
			p.cf.markError(err)
			p.diskLock.Unlock()
			return
		}
		p.clonedValue = clonedValue
		p.hasClonedValue = true
		p.clonedValueSize = clonedAttr.Size
		ct.evictor.sizeClonedData.Add(clonedAttr.Size)
		ct.evictor.accountAdded(clonedAttr.Size)
		p.setDirty(false)

		cf := p.cf
		if err := cf.bjm.Add(); err == nil {
			job := func() error {
				defer cf.bjm.Done()
				defer p.diskLock.Unlock()
				_, ferr := p.callbacks.Flush(ctx, cf, p.key, p.clonedValue, &p.diskData, p.attr, true, false, true, true)
				p.hasClonedValue = false
				ct.evictor.sizeClonedData.Add(-p.clonedValueSize)
				if ferr != nil {
					cf.markError(ferr)
				}
				return ferr
			}
			ct.submitCheckpointJob(job)
		} else {
			p.diskLock.Unlock()
		}
		return
	}

	// Not cloneable: write inline while still holding the value lock.
	newAttr, err := p.callbacks.Flush(ctx, p.cf, p.key, p.value, &p.diskData, p.attr, true, true, true, false)
	if err != nil {
		p.cf.markError(err)
		return
	}
	if newAttr.IsValid {
		ct.evictor.accountAdded(newAttr.Size - p.attr.Size)
		p.attr = newAttr
	}
	p.setDirty(false)
}
