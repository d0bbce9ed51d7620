// Package pairlock implements the per-pair value lock described in
// spec §4.1: a reader/writer lock with two writer "cost classes" (cheap,
// expensive) that callers can query, plus try-variants that never block.
//
// sync.RWMutex cannot serve this role directly: it exposes no way to ask
// "is the current writer expensive" or "how many readers/writers are
// queued", both of which the evictor and cleaner need in order to decide
// whether to skip a busy pair. No third-party RW lock in the retrieval
// pack carries that bookkeeping either, so this is a from-scratch stdlib
// component — see DESIGN.md.
//
// The lock is writer-preferring and FIFO among writers: once any writer
// has queued, no new reader is admitted until every writer queued before
// it (cheap or expensive, in arrival order) has run. This satisfies
// spec §4.1's fairness requirement directly, since tickets are handed out
// in arrival order regardless of cost class.
//
// © 2025 cachetable authors. MIT License.
package pairlock

import "sync"

// ValueLock is the pair's composite value lock (spec §4.1).
type ValueLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers int32
	writer  bool
	expensive bool

	nextTicket uint64
	serving    uint64
	waiting    int32 // writers that have a ticket but have not yet acquired
}

// New constructs a ready-to-use ValueLock. The zero value is also usable
// directly (see cond below); New exists for callers that prefer explicit
// construction.
func New() *ValueLock {
	return &ValueLock{}
}

// cnd lazily initializes the condition variable so the zero-value
// ValueLock embedded in Pair (spec §3: the pair owns its locks inline,
// not behind a pointer) works without an explicit constructor call. Every
// caller holds l.mu before calling this, so the lazy init race-free.
func (l *ValueLock) cnd() *sync.Cond {
	if l.cond == nil {
		l.cond = sync.NewCond(&l.mu)
	}
	return l.cond
}

// ReadLock blocks until a shared read hold is granted. New readers are
// refused while any writer is queued (writer preference).
func (l *ValueLock) ReadLock() {
	l.mu.Lock()
	for l.writer || l.waiting > 0 {
		l.cnd().Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// TryReadLock attempts a non-blocking shared read hold.
func (l *ValueLock) TryReadLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer || l.waiting > 0 {
		return false
	}
	l.readers++
	return true
}

// ReadUnlock releases a shared read hold.
func (l *ValueLock) ReadUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers < 0 {
		l.mu.Unlock()
		panic("pairlock: ReadUnlock without matching ReadLock")
	}
	if l.readers == 0 {
		l.cnd().Broadcast()
	}
	l.mu.Unlock()
}

// WriteLock blocks until an exclusive hold is granted, marking it as
// expensive (likely to block on I/O or issue a disk write) or cheap.
// Writers are granted strictly in arrival order.
func (l *ValueLock) WriteLock(expensive bool) {
	l.mu.Lock()
	ticket := l.nextTicket
	l.nextTicket++
	l.waiting++
	for l.serving != ticket || l.writer || l.readers > 0 {
		l.cnd().Wait()
	}
	l.waiting--
	l.writer = true
	l.expensive = expensive
	l.mu.Unlock()
}

// TryWriteLock attempts a non-blocking exclusive hold. It fails if any
// writer is already queued, preserving FIFO order for the ones waiting.
func (l *ValueLock) TryWriteLock(expensive bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer || l.readers > 0 || l.waiting > 0 {
		return false
	}
	l.writer = true
	l.expensive = expensive
	l.nextTicket++
	return true
}

// WriteUnlock releases an exclusive hold and admits the next ticket.
func (l *ValueLock) WriteUnlock() {
	l.mu.Lock()
	if !l.writer {
		l.mu.Unlock()
		panic("pairlock: WriteUnlock without matching WriteLock")
	}
	l.writer = false
	l.expensive = false
	l.serving++
	l.cnd().Broadcast()
	l.mu.Unlock()
}

// Users returns the total number of current holders (0 or 1 writer, or N
// readers).
func (l *ValueLock) Users() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer {
		return 1
	}
	return int(l.readers)
}

// Readers returns the current reader count.
func (l *ValueLock) Readers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.readers)
}

// Writers returns 1 if a writer currently holds the lock, else 0.
func (l *ValueLock) Writers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer {
		return 1
	}
	return 0
}

// WriteLockIsExpensive reports whether the current writer (if any) marked
// its hold as expensive.
func (l *ValueLock) WriteLockIsExpensive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer && l.expensive
}

// ReadLockIsExpensive always reports false: readers never carry a cost
// class in this protocol (only writers do, per spec §4.1).
func (l *ValueLock) ReadLockIsExpensive() bool {
	return false
}

// HasWaiters reports whether any writer is queued behind the current
// holder(s); used by evictor/cleaner to decide whether a pair is "busy".
func (l *ValueLock) HasWaiters() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting > 0
}
