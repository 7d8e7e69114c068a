package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndDrain(t *testing.T) {
	p := New(4, 16)

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		if err := p.Submit(context.Background(), func() { ran.Add(1) }); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	p.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	if got := ran.Load(); got != 20 {
		t.Fatalf("expected 20 tasks run, got %d", got)
	}
}

func TestSubmitAfterStopReturnsError(t *testing.T) {
	p := New(1, 1)
	p.StopAccepting()

	if err := p.Submit(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)
}

func TestSubmitBlockedByFullQueueHonorsContext(t *testing.T) {
	p := New(1, 1)
	block := make(chan struct{})

	// Occupy the single worker and fill the queue.
	p.Submit(context.Background(), func() { <-block })
	p.Submit(context.Background(), func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func() {}); err == nil {
		t.Fatal("expected context deadline error on full queue")
	}

	close(block)
	p.StopAccepting()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	p.Drain(drainCtx)
}

func TestDrainReturnsWithSubmitBlockedOnFullQueue(t *testing.T) {
	p := New(1, 1)
	release := make(chan struct{})
	var ran atomic.Int32

	// Occupy the single worker and fill the queue.
	p.Submit(context.Background(), func() { <-release; ran.Add(1) })
	p.Submit(context.Background(), func() { ran.Add(1) })

	submitErr := make(chan error, 1)
	go func() {
		submitErr <- p.Submit(context.Background(), func() { ran.Add(1) })
	}()
	time.Sleep(20 * time.Millisecond)

	p.StopAccepting()
	close(release)

	done := make(chan struct{})
	go func() {
		p.Drain(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain hung with a submit blocked on the full queue")
	}

	// The late submit either landed its task or was turned away; both
	// resolve, neither strands a task in the queue.
	err := <-submitErr
	if err != nil && !errors.Is(err, ErrStopped) {
		t.Fatalf("blocked submit returned %v", err)
	}
	want := int32(3)
	if err != nil {
		want = 2
	}
	if got := ran.Load(); got != want {
		t.Fatalf("ran %d tasks, want %d", got, want)
	}
}

func TestTaskPanicIsRecovered(t *testing.T) {
	p := New(1, 2)

	var after atomic.Bool
	p.Submit(context.Background(), func() { panic("boom") })
	p.Submit(context.Background(), func() { after.Store(true) })

	p.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	if !after.Load() {
		t.Fatal("worker should survive a panicking task")
	}
}
