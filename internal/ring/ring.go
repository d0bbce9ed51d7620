// Package ring implements the clock/cleaner/checkpoint ring described in
// spec §3 (C2) and §9's "cyclic graphs" design note: a single doubly
// linked circular list of pairs with three independent cursors
// (clock_head, cleaner_head, checkpoint_head) threading the same ring.
//
// Grounded on the teacher's internal/clockpro ring splice helpers
// (append/remove), but the hot/cold/test state machine is replaced with
// the spec's saturating clock counter and the three-cursor model — this
// package tracks no per-node state at all, only links; callers hold
// their own list-wide lock (spec §4.2's list lock) for every mutation,
// exactly as the teacher's clockpro assumes external synchronisation.
//
// © 2025 cachetable authors. MIT License.
package ring

// Node is the subset of linkage every participant must embed. It is
// satisfied by embedding Node as a value field and taking its address, or
// by any type that implements the accessor methods; pair.Pair embeds
// ring.Links directly to avoid an extra allocation per pair.
type Node interface {
	RingLinks() *Links
}

// Links holds the clock-ring pointers for one node. Embed this in the
// owning type (pair.Pair) and implement the single RingLinks() accessor.
type Links struct {
	next, prev Node
}

// Self-linkage sentinel: a node with next==prev==itself is the sole
// member of the ring.

// Ring is a circular doubly linked list with three independent read
// cursors plus one logical write position (used for insertion). All
// methods assume the caller holds whatever external lock guards ring
// membership (spec §4.2: the pair-list write lock, or — for read-only
// traversal — the list read lock).
type Ring struct {
	clockHead, cleanerHead, checkpointHead Node
	size                                   int
}

// Empty reports whether the ring has no members. Per spec §3, all three
// heads are null together or non-null together; Empty is the single
// source of truth for that invariant.
func (r *Ring) Empty() bool { return r.size == 0 }

// Len returns the number of pairs currently on the ring.
func (r *Ring) Len() int { return r.size }

// ClockHead, CleanerHead and CheckpointHead expose the three cursors.
func (r *Ring) ClockHead() Node      { return r.clockHead }
func (r *Ring) CleanerHead() Node    { return r.cleanerHead }
func (r *Ring) CheckpointHead() Node { return r.checkpointHead }

// AdvanceClock moves the clock cursor to the next node.
func (r *Ring) AdvanceClock() {
	if r.clockHead != nil {
		r.clockHead = r.clockHead.RingLinks().next
	}
}

// AdvanceCleaner moves the cleaner cursor to the next node.
func (r *Ring) AdvanceCleaner() {
	if r.cleanerHead != nil {
		r.cleanerHead = r.cleanerHead.RingLinks().next
	}
}

// AdvanceCheckpoint moves the checkpoint cursor to the next node.
func (r *Ring) AdvanceCheckpoint() {
	if r.checkpointHead != nil {
		r.checkpointHead = r.checkpointHead.RingLinks().next
	}
}

// Next and Prev expose ring traversal for callers walking independently
// of the three cursors (e.g. the cleaner's bounded 8-pair scan).
func Next(n Node) Node { return n.RingLinks().next }
func Prev(n Node) Node { return n.RingLinks().prev }

// InsertTail splices n in just before clockHead (i.e. at the tail of the
// ring, the position new pairs are added at per spec §4.2
// add_to_cachetable_only). If the ring is empty, all three cursors are
// initialised to n.
func (r *Ring) InsertTail(n Node) {
	nl := n.RingLinks()
	if r.clockHead == nil {
		nl.next, nl.prev = n, n
		r.clockHead = n
		r.cleanerHead = n
		r.checkpointHead = n
		r.size = 1
		return
	}
	tail := r.clockHead.RingLinks().prev
	tail.RingLinks().next = n
	nl.prev = tail
	nl.next = r.clockHead
	r.clockHead.RingLinks().prev = n
	r.size++
}

// Remove unlinks n from the ring. Any cursor currently pointing at n is
// advanced first, per spec §4.2 ("whenever a head points at a pair being
// removed, it advances to clock_next first"). If n was the last member,
// all three cursors become nil simultaneously.
func (r *Ring) Remove(n Node) {
	nl := n.RingLinks()
	if nl.next == n { // sole member
		r.clockHead, r.cleanerHead, r.checkpointHead = nil, nil, nil
		r.size = 0
		return
	}
	if r.clockHead == n {
		r.clockHead = nl.next
	}
	if r.cleanerHead == n {
		r.cleanerHead = nl.next
	}
	if r.checkpointHead == n {
		r.checkpointHead = nl.next
	}
	nl.prev.RingLinks().next = nl.next
	nl.next.RingLinks().prev = nl.prev
	nl.next, nl.prev = nil, nil
	r.size--
}
