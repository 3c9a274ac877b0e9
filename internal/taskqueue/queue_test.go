package taskqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPost_RunsInOrder(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := range 10 {
		if err := q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if err := q.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("position %d ran task %d", i, v)
		}
	}
}

func TestAfterFunc_Fires(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	var fired atomic.Bool
	q.AfterFunc(5*time.Millisecond, func() { fired.Store(true) })
	waitFor(t, fired.Load)
}

func TestAfterFunc_Cancel(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	var fired atomic.Bool
	cancel := q.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	cancel()
	cancel()
	time.Sleep(50 * time.Millisecond)
	_ = q.Do(func() {})
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestDrain_DiscardsTimersAndPending(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	var count atomic.Int32
	q.AfterFunc(20*time.Millisecond, func() { count.Add(1) })
	q.Every(5*time.Millisecond, func() { count.Add(1) })

	block := make(chan struct{})
	started := make(chan struct{})
	_ = q.Post(func() {
		close(started)
		<-block
	})
	<-started
	for range 5 {
		_ = q.Post(func() { count.Add(100) })
	}

	drained := make(chan struct{})
	go func() {
		q.Drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}
	waitFor(t, func() bool { return q.Generation() == 1 })
	close(block)
	<-drained

	before := count.Load()
	time.Sleep(60 * time.Millisecond)
	_ = q.Do(func() {})
	if after := count.Load(); after != before {
		t.Errorf("work ran after Drain: %d -> %d", before, after)
	}
	if before >= 100 {
		t.Errorf("pending task ran after Drain (count %d)", before)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Drain", q.Len())
	}
}

func TestDrain_QueueUsableAfterwards(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	q.Drain()
	var ran atomic.Bool
	if err := q.Do(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran.Load() {
		t.Error("task posted after Drain did not run")
	}
	if q.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", q.Generation())
	}
}

func TestEvery_TicksUntilCancelled(t *testing.T) {
	t.Parallel()
	q := New()
	defer q.Close()

	var n atomic.Int32
	cancel := q.Every(2*time.Millisecond, func() { n.Add(1) })
	waitFor(t, func() bool { return n.Load() >= 3 })
	cancel()
	_ = q.Do(func() {})
	stopped := n.Load()
	time.Sleep(20 * time.Millisecond)
	_ = q.Do(func() {})
	// At most one tick may already have been in flight.
	if got := n.Load(); got > stopped+1 {
		t.Errorf("ticks continued after cancel: %d -> %d", stopped, got)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	q := New()
	q.Close()
	q.Close()
	if err := q.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after Close: err = %v, want ErrClosed", err)
	}
	if err := q.Do(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close: err = %v, want ErrClosed", err)
	}
	q.AfterFunc(time.Millisecond, func() { t.Error("timer fired after Close") })()
	time.Sleep(5 * time.Millisecond)
}
