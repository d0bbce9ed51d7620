package ring

import "testing"

type testNode struct {
	id int
	l  Links
}

func (n *testNode) RingLinks() *Links { return &n.l }

func collect(r *Ring) []int {
	if r.Empty() {
		return nil
	}
	var out []int
	start := r.ClockHead()
	n := start
	for {
		out = append(out, n.(*testNode).id)
		n = Next(n)
		if n == start {
			break
		}
	}
	return out
}

func TestRingInsertTailOrder(t *testing.T) {
	var r Ring
	a, b, c := &testNode{id: 1}, &testNode{id: 2}, &testNode{id: 3}
	r.InsertTail(a)
	r.InsertTail(b)
	r.InsertTail(c)

	if got := collect(&r); !equal(got, []int{1, 2, 3}) {
		t.Fatalf("ring order = %v, want [1 2 3]", got)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
}

func TestRingHeadsAllNilOrAllSet(t *testing.T) {
	var r Ring
	if !r.Empty() {
		t.Fatal("fresh ring should be empty")
	}
	n := &testNode{id: 1}
	r.InsertTail(n)
	if r.ClockHead() == nil || r.CleanerHead() == nil || r.CheckpointHead() == nil {
		t.Fatal("all three heads must be set after first insert")
	}
	r.Remove(n)
	if r.ClockHead() != nil || r.CleanerHead() != nil || r.CheckpointHead() != nil {
		t.Fatal("all three heads must be nil after removing the sole member")
	}
}

func TestRingRemoveAdvancesCursorsPointingAtVictim(t *testing.T) {
	var r Ring
	a, b, c := &testNode{id: 1}, &testNode{id: 2}, &testNode{id: 3}
	r.InsertTail(a)
	r.InsertTail(b)
	r.InsertTail(c)

	r.AdvanceCleaner()    // cleanerHead -> b
	r.AdvanceCheckpoint() // checkpointHead -> b

	r.Remove(b)

	if r.ClockHead().(*testNode).id != 1 {
		t.Fatalf("clockHead should remain a, got %d", r.ClockHead().(*testNode).id)
	}
	if r.CleanerHead().(*testNode).id != 3 {
		t.Fatalf("cleanerHead should advance past removed b to c, got %d", r.CleanerHead().(*testNode).id)
	}
	if r.CheckpointHead().(*testNode).id != 3 {
		t.Fatalf("checkpointHead should advance past removed b to c, got %d", r.CheckpointHead().(*testNode).id)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
