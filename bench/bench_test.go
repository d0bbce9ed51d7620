// Package bench provides reproducible micro‑benchmarks for cachetable.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* key/value shape so results are
// comparable across versions:
//   • Key   – BlockNum (cheap hashing, fits in register)
//   • Value – 64‑byte struct (large enough to matter, small enough for cache)
//
// We measure:
//   1. Put          – write‑only workload (PutWithDepPairs + Unpin)
//   2. Get          – read‑only workload (after warm‑up)
//   3. GetParallel  – highly concurrent reads (b.RunParallel)
//   4. GetAndPin    – 90% hits, 10% misses with fetch cost
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 cachetable authors. MIT License.

package bench

import (
	"context"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/Voskan/cachetable/pkg/cachetable"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

type value64 struct {
	_ [64]byte
}

const (
	capBytes = 64 << 20 // 64 MiB cache cap
	keys     = 1 << 20  // 1M keys for dataset
)

var noopCbs = cachetable.WriteCallback[value64]{
	Flush: func(ctx context.Context, cf *cachetable.Cachefile, key cachetable.BlockNum, value value64,
		diskData *[]byte, oldAttr cachetable.Attr, doWrite, keepMe, forCheckpoint, isClone bool) (cachetable.Attr, error) {
		return cachetable.Attr{}, nil
	},
}

func newTestCachetable(b *testing.B) (*cachetable.Cachetable[value64], *cachetable.Cachefile) {
	ct := cachetable.New[value64](capBytes)
	cf, err := ct.OpenFd("bench", cachetable.FileID{Device: 1, Inode: uint64(b.N) + 1}, cachetable.CachefileCallbacks{})
	if err != nil {
		panic(err)
	}
	return ct, cf
}

// global dataset reused across benches to avoid reallocating large slices.
// It draws from its own fixed-seed source: package variables are
// initialised before init() runs, so the global seed below cannot reach it.
var ds = func() []cachetable.BlockNum {
	r := rand.New(rand.NewSource(42))
	arr := make([]cachetable.BlockNum, keys)
	for i := range arr {
		arr[i] = cachetable.BlockNum(r.Uint64())
	}
	return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkPut(b *testing.B) {
	ct, cf := newTestCachetable(b)
	defer ct.Shutdown()
	val := value64{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		p, err := ct.PutWithDepPairs(context.Background(), cf,
			func() (cachetable.BlockNum, cachetable.FullHash) {
				return key, cachetable.ComputeFullHash(cf, key)
			},
			val, cachetable.Attr{Size: 64, IsValid: true}, noopCbs)
		if err != nil {
			continue
		}
		ct.Unpin(context.Background(), p, true, cachetable.Attr{}, cachetable.LockWriteCheap)
	}
}

func BenchmarkGet(b *testing.B) {
	ct, cf := newTestCachetable(b)
	defer ct.Shutdown()
	val := value64{}
	fetch := func(ctx context.Context, cf *cachetable.Cachefile, key cachetable.BlockNum) (value64, cachetable.Attr, error) {
		return val, cachetable.Attr{Size: 64, IsValid: true}, nil
	}
	// pre‑populate (warm‑up)
	for _, k := range ds {
		p, err := ct.GetAndPin(context.Background(), cf, k, cachetable.LockWriteCheap, noopCbs, fetch)
		if err == nil {
			ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockWriteCheap)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		p, err := ct.GetAndPin(context.Background(), cf, k, cachetable.LockRead, noopCbs, fetch)
		if err == nil {
			ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockRead)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	ct, cf := newTestCachetable(b)
	defer ct.Shutdown()
	val := value64{}
	fetch := func(ctx context.Context, cf *cachetable.Cachefile, key cachetable.BlockNum) (value64, cachetable.Attr, error) {
		return val, cachetable.Attr{Size: 64, IsValid: true}, nil
	}
	for _, k := range ds {
		p, err := ct.GetAndPin(context.Background(), cf, k, cachetable.LockWriteCheap, noopCbs, fetch)
		if err == nil {
			ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockWriteCheap)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			p, err := ct.GetAndPin(context.Background(), cf, ds[idx], cachetable.LockRead, noopCbs, fetch)
			if err == nil {
				ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockRead)
			}
		}
	})
}

func BenchmarkGetAndPinMixed(b *testing.B) {
	ct, cf := newTestCachetable(b)
	defer ct.Shutdown()
	val := value64{}
	var fetchCnt atomic.Uint64
	fetch := func(ctx context.Context, cf *cachetable.Cachefile, key cachetable.BlockNum) (value64, cachetable.Attr, error) {
		fetchCnt.Add(1)
		return val, cachetable.Attr{Size: 64, IsValid: true}, nil
	}
	// Preload 90% of keys to simulate mixed hit/miss.
	for i, k := range ds {
		if i%10 != 0 { // 90% fill
			p, err := ct.GetAndPin(context.Background(), cf, k, cachetable.LockWriteCheap, noopCbs, fetch)
			if err == nil {
				ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockWriteCheap)
			}
		}
	}
	fetchCnt.Store(0)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		p, err := ct.GetAndPin(context.Background(), cf, k, cachetable.LockRead, noopCbs, fetch)
		if err == nil {
			ct.Unpin(context.Background(), p, false, cachetable.Attr{}, cachetable.LockRead)
		}
	}
	b.ReportMetric(float64(fetchCnt.Load())/float64(b.N)*100, "miss-%")
}

/* -------------------------------------------------------------------------
   Utility – ensure deterministic Rand for repeatability
   ------------------------------------------------------------------------- */

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
