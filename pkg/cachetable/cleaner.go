package cachetable

// cleaner.go implements C5: the periodic background sweep that picks
// the highest cache-pressure pair and invokes its cleaner callback
// (spec §4.5).
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
	"sync"
	"time"
)

type cleanerLoop[V any] struct {
	ct     *Cachetable[V]
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newCleanerLoop[V any](ct *Cachetable[V]) *cleanerLoop[V] {
	return &cleanerLoop[V]{ct: ct, stopCh: make(chan struct{})}
}

func (cl *cleanerLoop[V]) start() {
	cl.wg.Add(1)
	go cl.loop()
}

func (cl *cleanerLoop[V]) stop() {
	close(cl.stopCh)
	cl.wg.Wait()
}

func (cl *cleanerLoop[V]) loop() {
	defer cl.wg.Done()
	t := time.NewTicker(cl.ct.cfg.cleanerPeriod)
	defer t.Stop()
	for {
		select {
		case <-cl.stopCh:
			return
		case <-t.C:
			cl.runOnce()
		}
	}
}

func (cl *cleanerLoop[V]) runOnce() {
	for i := 0; i < cl.ct.cfg.cleanerIterations; i++ {
		if !cl.pickOne() {
			return // no eligible pair this tick: stop the run early
		}
	}
}

const cleanerScanDepth = 8

// pickOne walks cleanerHead forward up to cleanerScanDepth pairs under
// the list read-lock, picks the one with the highest cache_pressure_size
// among those with zero value-lock users, and invokes its cleaner
// callback outside the list lock.
func (cl *cleanerLoop[V]) pickOne() bool {
	pl := cl.ct.pairs

	pl.listLock.RLock()
	var winner *Pair[V]
	p := pl.cleanerHead()
	for i := 0; p != nil && i < cleanerScanDepth; i++ {
		if p.valueLock.Users() == 0 && p.cachePressureSize > 0 {
			if winner == nil || p.cachePressureSize > winner.cachePressureSize {
				winner = p
			}
		}
		p = ringNext(p)
	}
	pl.ring.AdvanceCleaner()
	pl.listLock.RUnlock()

	if winner == nil {
		return false
	}

	cf := winner.cf
	if err := cf.bjm.Add(); err != nil {
		return true // cachefile is closing: skip, but keep trying other picks
	}
	defer cf.bjm.Done()

	winner.valueLock.WriteLock(true)

	resolveCheckpointPending(context.Background(), cl.ct, winner)

	if winner.cachePressureSize > 0 && winner.callbacks.Cleaner != nil {
		cl.ct.cfg.metrics.incCleanerPick()
		// Cleaner is required to release the value lock before
		// returning; the cleaner never holds the list lock here.
		_ = winner.callbacks.Cleaner(context.Background(), cf, winner.key, winner.value)
	} else {
		winner.valueLock.WriteUnlock()
	}
	return true
}
