package bjm

import (
	"testing"
	"time"
)

func TestBJMWaitForZero(t *testing.T) {
	b := New()
	if err := b.Add(); err != nil {
		t.Fatalf("Add: %v", err)
	}
	done := make(chan struct{})
	go func() {
		b.WaitForZero()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForZero returned before Done was called")
	case <-time.After(20 * time.Millisecond):
	}

	b.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForZero did not unblock after Done")
	}
}

func TestBJMBeginCloseRejectsNewJobs(t *testing.T) {
	b := New()
	if err := b.Add(); err != nil {
		t.Fatalf("Add: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		b.BeginClose()
		close(closed)
	}()
	time.Sleep(10 * time.Millisecond)

	if err := b.Add(); err != ErrClosing {
		t.Fatalf("Add during close = %v, want ErrClosing", err)
	}
	b.Done()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("BeginClose did not return once the last job finished")
	}
}
