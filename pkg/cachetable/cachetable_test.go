package cachetable

// cachetable_test.go implements the end-to-end seed test scenarios from
// spec §8, the way the teacher tests its own Cache in pkg/cache_test.go:
// table-driven where possible, one scenario per test function for the
// concurrent races.
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testFileID(n uint64) FileID { return FileID{Device: 1, Inode: n} }

func simpleCallbacks(flushed *[]bool, mu *sync.Mutex) WriteCallback[string] {
	return WriteCallback[string]{
		Flush: func(ctx context.Context, cf *Cachefile, key BlockNum, value string,
			diskData *[]byte, oldAttr Attr, doWrite, keepMe, forCheckpoint, isClone bool) (Attr, error) {
			if mu != nil {
				mu.Lock()
				*flushed = append(*flushed, isClone)
				mu.Unlock()
			}
			return Attr{}, nil
		},
	}
}

func TestSingleThreadedPutGet(t *testing.T) {
	ct := New[string](1 << 20)
	defer ct.Shutdown()

	cf, err := ct.OpenFd("f1", testFileID(1), CachefileCallbacks{})
	if err != nil {
		t.Fatalf("OpenFd: %v", err)
	}

	p, err := ct.PutWithDepPairs(context.Background(), cf,
		func() (BlockNum, FullHash) { return 7, computeFullHash(cf.hashID, 7) },
		"abc", Attr{Size: 3, IsValid: true}, simpleCallbacks(nil, nil))
	if err != nil {
		t.Fatalf("PutWithDepPairs: %v", err)
	}
	ct.Unpin(context.Background(), p, false, Attr{}, LockWriteCheap)

	got, err := ct.GetAndPin(context.Background(), cf, 7, LockRead, simpleCallbacks(nil, nil), nil)
	if err != nil {
		t.Fatalf("GetAndPin: %v", err)
	}
	if got.value != "abc" {
		t.Fatalf("value = %q, want %q", got.value, "abc")
	}
	ct.Unpin(context.Background(), got, false, Attr{}, LockRead)

	if ct.pairs.numPairs != 1 {
		t.Fatalf("numPairs = %d, want 1", ct.pairs.numPairs)
	}
}

func TestClockEviction(t *testing.T) {
	ct := New[string](100, WithEvictionPeriod(10*time.Millisecond))
	defer ct.Shutdown()

	cf, _ := ct.OpenFd("f1", testFileID(2), CachefileCallbacks{})

	for i := 0; i < 20; i++ {
		key := BlockNum(i)
		p, err := ct.PutWithDepPairs(context.Background(), cf,
			func() (BlockNum, FullHash) { return key, computeFullHash(cf.hashID, key) },
			"x", Attr{Size: 10, IsValid: true}, simpleCallbacks(nil, nil))
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		ct.Unpin(context.Background(), p, false, Attr{}, LockWriteCheap)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ct.evictor.sizeCurrent.Load() <= 125 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("size_current = %d, want <= 125", ct.evictor.sizeCurrent.Load())
}

func TestDirtyFlushOnEvict(t *testing.T) {
	var flushed []bool
	var mu sync.Mutex

	ct := New[string](100, WithEvictionPeriod(10*time.Millisecond))
	defer ct.Shutdown()
	cf, _ := ct.OpenFd("f1", testFileID(3), CachefileCallbacks{})

	p, err := ct.PutWithDepPairs(context.Background(), cf,
		func() (BlockNum, FullHash) { return 1, computeFullHash(cf.hashID, 1) },
		"big", Attr{Size: 200, IsValid: true}, simpleCallbacks(&flushed, &mu))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	ct.Unpin(context.Background(), p, true, Attr{}, LockWriteCheap)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n > 0 {
			mu.Lock()
			isClone := flushed[0]
			mu.Unlock()
			if isClone {
				t.Fatalf("expected inline flush (is_clone=false), got is_clone=true")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("flush was never called for dirty pair under eviction pressure")
}

func TestCheckpointWithCloneablePair(t *testing.T) {
	var mu sync.Mutex
	var cloneFlushes, inlineFlushes int

	cbs := WriteCallback[string]{
		Clone: func(value string, forCheckpoint bool) (string, Attr, error) {
			return value + "-clone", Attr{Size: int64(len(value)), IsValid: true}, nil
		},
		Flush: func(ctx context.Context, cf *Cachefile, key BlockNum, value string,
			diskData *[]byte, oldAttr Attr, doWrite, keepMe, forCheckpoint, isClone bool) (Attr, error) {
			mu.Lock()
			if isClone {
				cloneFlushes++
			} else {
				inlineFlushes++
			}
			mu.Unlock()
			return Attr{}, nil
		},
	}

	ct := New[string](1 << 20)
	defer ct.Shutdown()
	cf, _ := ct.OpenFd("f1", testFileID(4), CachefileCallbacks{})

	p, err := ct.PutWithDepPairs(context.Background(), cf,
		func() (BlockNum, FullHash) { return 9, computeFullHash(cf.hashID, 9) },
		"v", Attr{Size: 1, IsValid: true}, cbs)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	ct.Unpin(context.Background(), p, true, Attr{}, LockWriteCheap)

	if err := ct.BeginCheckpoint(context.Background()); err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}

	got, err := ct.GetAndPin(context.Background(), cf, 9, LockWriteExpensive, cbs, nil)
	if err != nil {
		t.Fatalf("GetAndPin: %v", err)
	}
	ct.Unpin(context.Background(), got, false, Attr{}, LockWriteExpensive)

	if err := ct.EndCheckpoint(context.Background()); err != nil {
		t.Fatalf("EndCheckpoint: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if cloneFlushes != 1 {
		t.Fatalf("clone flushes = %d, want 1", cloneFlushes)
	}
	if inlineFlushes != 0 {
		t.Fatalf("inline flushes = %d, want 0", inlineFlushes)
	}
}

func TestNonblockingGetRunsUnlockers(t *testing.T) {
	ct := New[string](1 << 20)
	defer ct.Shutdown()
	cf, _ := ct.OpenFd("f1", testFileID(5), CachefileCallbacks{})

	a, err := ct.PutWithDepPairs(context.Background(), cf,
		func() (BlockNum, FullHash) { return 1, computeFullHash(cf.hashID, 1) },
		"A", Attr{Size: 1, IsValid: true}, simpleCallbacks(nil, nil))
	if err != nil {
		t.Fatalf("put A: %v", err)
	}

	var unlockCount int
	unlockers := []Unlocker{{Release: func() {
		unlockCount++
		ct.Unpin(context.Background(), a, false, Attr{}, LockWriteCheap)
	}}}

	_, err = ct.GetAndPinNonblocking(context.Background(), cf, 2, LockWriteExpensive,
		simpleCallbacks(nil, nil), func(ctx context.Context, cf *Cachefile, key BlockNum) (string, Attr, error) {
			return "B", Attr{Size: 1, IsValid: true}, nil
		}, unlockers)
	if err != ErrTryAgain {
		t.Fatalf("GetAndPinNonblocking err = %v, want ErrTryAgain", err)
	}
	if unlockCount != 1 {
		t.Fatalf("unlock invocations = %d, want 1", unlockCount)
	}

	a, err = ct.GetAndPin(context.Background(), cf, 1, LockWriteCheap, simpleCallbacks(nil, nil), nil)
	if err != nil {
		t.Fatalf("repin A: %v", err)
	}
	ct.Unpin(context.Background(), a, false, Attr{}, LockWriteCheap)

	b, err := ct.GetAndPin(context.Background(), cf, 2, LockRead, simpleCallbacks(nil, nil), nil)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if b.value != "B" {
		t.Fatalf("B value = %q, want B", b.value)
	}
	ct.Unpin(context.Background(), b, false, Attr{}, LockRead)
}

func TestUnpinAndRemoveRacesCheckpoint(t *testing.T) {
	cbs := simpleCallbacks(nil, nil)
	ct := New[string](1 << 20)
	defer ct.Shutdown()
	cf, _ := ct.OpenFd("f1", testFileID(6), CachefileCallbacks{})

	p, err := ct.PutWithDepPairs(context.Background(), cf,
		func() (BlockNum, FullHash) { return 3, computeFullHash(cf.hashID, 3) },
		"v", Attr{Size: 1, IsValid: true}, cbs)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	ct.Unpin(context.Background(), p, true, Attr{}, LockWriteCheap)

	if err := ct.BeginCheckpoint(context.Background()); err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}

	p2, err := ct.GetAndPin(context.Background(), cf, 3, LockWriteExpensive, cbs, nil)
	if err != nil {
		t.Fatalf("GetAndPin: %v", err)
	}

	var wasPending bool
	if err := ct.UnpinAndRemove(context.Background(), p2, func(key BlockNum, pending bool) {
		wasPending = pending
	}); err != nil {
		t.Fatalf("UnpinAndRemove: %v", err)
	}

	if err := ct.EndCheckpoint(context.Background()); err != nil {
		t.Fatalf("EndCheckpoint: %v", err)
	}

	_ = wasPending // false here: the write-mode GetAndPin above already resolved the pending bit before the remove
}
