package cachetable

// cachetable.go wires C1-C7 together into the top-level Cachetable type:
// construction, cachefile open/close, and the Status() introspection
// surface supplemented from original_source/ (cachetable.cc exposes an
// engine-status dump; this is its Go analogue backed by metricsSink).
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/Voskan/cachetable/internal/kibbutz"
	"go.uber.org/zap"
)

// Cachetable is the concurrent page cache core. It is parametric over
// the pair value type V, mirroring the teacher's Cache[K, V] generic
// shape but with a fixed key shape (cachefile, BlockNum, FullHash)
// rather than an arbitrary comparable K (see DESIGN.md).
type Cachetable[V any] struct {
	cfg *config

	pairs *pairList[V]
	files *cachefileList

	evictor *evictor[V]
	cleaner *cleanerLoop[V]
	ckpt    *checkpointer[V]

	pool     *kibbutz.Pool // cachetable's own worker pool, 2x hw threads
	ckptPool *kibbutz.Pool // checkpointing pool, max(hw/4, 1)

	closeOnce sync.Once
	closed    chan struct{}

	periodicCkptStop chan struct{}
	periodicCkptWg   sync.WaitGroup
}

// New constructs a Cachetable with the given size limit (bytes; 0 means
// the 128 MiB default) and options.
func New[V any](sizeLimit int64, opts ...Option) *Cachetable[V] {
	cfg := defaultConfig(sizeLimit)
	applyOptions(cfg, opts)

	hw := runtime.GOMAXPROCS(0)
	poolSize := 2 * hw
	ckptPoolSize := hw / 4
	if ckptPoolSize < 1 {
		ckptPoolSize = 1
	}

	ct := &Cachetable[V]{
		cfg:      cfg,
		pairs:    newPairList[V](cfg.n, cfg.l),
		files:    newCachefileList(),
		pool:     kibbutz.New(poolSize),
		ckptPool: kibbutz.New(ckptPoolSize),
		closed:   make(chan struct{}),
	}
	ct.evictor = newEvictor(ct)
	ct.cleaner = newCleanerLoop(ct)
	ct.ckpt = newCheckpointer(ct)

	ct.evictor.start()
	if cfg.cleanerIterations > 0 {
		ct.cleaner.start()
	}
	return ct
}

// StartPeriodicCheckpointing launches a background goroutine that calls
// BeginCheckpoint/EndCheckpoint on cfg.checkpointPeriod. Synchronous
// callers may still invoke BeginCheckpoint/EndCheckpoint directly; both
// paths share the same externally-serialized boundary.
func (ct *Cachetable[V]) StartPeriodicCheckpointing(ctx context.Context) {
	ct.periodicCkptStop = make(chan struct{})
	ct.periodicCkptWg.Add(1)
	go func() {
		defer ct.periodicCkptWg.Done()
		t := time.NewTicker(ct.cfg.checkpointPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := ct.BeginCheckpoint(ctx); err == nil {
					_ = ct.EndCheckpoint(ctx)
				}
			case <-ct.periodicCkptStop:
				return
			}
		}
	}()
}

// OpenFd opens (or reopens, if its inode is on the stale list) a
// cachefile, issuing it a fresh FileNum.
func (ct *Cachetable[V]) OpenFd(path string, id FileID, cbs CachefileCallbacks) (*Cachefile, error) {
	return ct.files.openFd(path, id, 0, cbs)
}

// OpenFdWithFilenum reopens a cachefile at a caller-chosen FileNum (spec
// §6.3: "the caller must pass a filenum to openfd_with_filenum for
// reopen" since filenum allocation is not persisted by the cache).
func (ct *Cachetable[V]) OpenFdWithFilenum(path string, id FileID, fn FileNum, cbs CachefileCallbacks) (*Cachefile, error) {
	return ct.files.openFd(path, id, fn, cbs)
}

// CachefileOfFilenum looks up an open cachefile by its FileNum.
func (ct *Cachetable[V]) CachefileOfFilenum(fn FileNum) (*Cachefile, error) {
	return ct.files.cachefileOfFilenum(fn)
}

// Close waits for cf's background jobs to drain, invokes its
// close_userdata callback, then removes it from the active set (moving
// it to the stale set if it still has pairs).
func (ct *Cachetable[V]) Close(ctx context.Context, cf *Cachefile) error {
	cf.bjm.BeginClose()
	if cf.callbacks.CloseUserdata != nil {
		if err := cf.callbacks.CloseUserdata(ctx, cf); err != nil {
			cf.markError(err)
		}
	}
	return ct.files.closeCachefile(ctx, cf)
}

// CloseAndRemove is Close with unlink_on_close forced true: every pair
// still belonging to cf is evicted (without flushing) instead of being
// preserved on the stale list.
func (ct *Cachetable[V]) CloseAndRemove(ctx context.Context, cf *Cachefile) error {
	cf.unlinkOnClose.Store(true)
	cf.bjm.BeginClose()

	ct.pairs.listLock.Lock()
	var victims []*Pair[V]
	for p := cfPairHead[V](cf); p != nil; p = p.cfNext {
		victims = append(victims, p)
	}
	ct.pairs.listLock.Unlock()

	for _, p := range victims {
		ct.evictPairCompletely(p)
	}

	if cf.callbacks.CloseUserdata != nil {
		if err := cf.callbacks.CloseUserdata(ctx, cf); err != nil {
			cf.markError(err)
		}
	}
	return ct.files.closeCachefile(ctx, cf)
}

// evictPairCompletely removes p from every structure without invoking
// flush; used by CloseAndRemove (unlink_on_close) where the owner has
// already guaranteed no durability is needed for this file.
func (ct *Cachetable[V]) evictPairCompletely(p *Pair[V]) {
	p.valueLock.WriteLock(false)
	ct.pairs.listLock.Lock()
	ct.pairs.evictCompletely(p.cf, p)
	ct.pairs.listLock.Unlock()
	ct.evictor.accountRemoved(p.attr.Size)
	p.valueLock.WriteUnlock()
}

// Status mirrors the original's engine-status dump (supplemented from
// original_source/, see SPEC_FULL.md §9), exposing the live size counters
// and the pair and cachefile counts.
type Status struct {
	SizeCurrent  int64
	SizeEvicting int64
	SizeReserved int64
	SizeCloned   int64
	NumPairs     int64
	NumCachefiles int64
}

func (ct *Cachetable[V]) Status() Status {
	return Status{
		SizeCurrent:   ct.evictor.sizeCurrent.Load(),
		SizeEvicting:  ct.evictor.sizeEvicting.Load(),
		SizeReserved:  ct.evictor.sizeReserved.Load(),
		SizeCloned:    ct.evictor.sizeClonedData.Load(),
		NumPairs:      ct.pairs.numPairs,
		NumCachefiles: int64(len(ct.files.activeByFilenum.snapshot())),
	}
}

// Shutdown stops the evictor, cleaner and periodic checkpointer
// goroutines and waits for the worker pools to drain. It does not close
// any cachefile; callers must Close all cachefiles first (spec §5:
// "minicron shutdown stops the evictor, cleaner and checkpointer
// cleanly, after which close drains all cachefile background jobs").
func (ct *Cachetable[V]) Shutdown() {
	ct.closeOnce.Do(func() {
		close(ct.closed)
		if ct.periodicCkptStop != nil {
			close(ct.periodicCkptStop)
			ct.periodicCkptWg.Wait()
		}
		ct.evictor.stop()
		ct.cleaner.stop()
		ct.pool.Close()
		ct.ckptPool.Close()
	})
}

func (ct *Cachetable[V]) logger() *zap.Logger { return ct.cfg.logger }

// ReserveMemory grants a batch-import caller a slice of the cache's
// budget ahead of time, so its writes are accounted for without being
// individually pinned (spec §4.4).
func (ct *Cachetable[V]) ReserveMemory(ctx context.Context, fraction float64, upperBound int64) (int64, error) {
	return ct.evictor.reserveMemory(ctx, fraction, upperBound)
}

// ReleaseReservedMemory reverses a prior ReserveMemory grant.
func (ct *Cachetable[V]) ReleaseReservedMemory(amt int64) {
	ct.evictor.releaseReservedMemory(amt)
}
