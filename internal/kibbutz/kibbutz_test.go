package kibbutz

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllSubmittedTasks(t *testing.T) {
	p := New(4)
	var n atomic.Int64
	const total = 200
	for i := 0; i < total; i++ {
		p.Submit(func() { n.Add(1) })
	}
	p.Close()
	if got := n.Load(); got != total {
		t.Fatalf("ran %d tasks, want %d", got, total)
	}
}

func TestPoolDrainsQueuedWorkOnClose(t *testing.T) {
	p := New(1)
	done := make(chan struct{})
	p.Submit(func() {
		time.Sleep(10 * time.Millisecond)
	})
	p.Submit(func() { close(done) })
	p.Close()
	select {
	case <-done:
	default:
		t.Fatal("second task should have run before Close returned")
	}
}
