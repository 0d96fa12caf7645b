package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCapsConcurrency(t *testing.T) {
	l := New(2)
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestFIFOAdmission(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	// occupy both slots
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		order []string
	)
	var wg sync.WaitGroup
	for i, name := range []string{"C", "D", "E"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, func() error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			})
		}()
		// wait for the goroutine to enqueue so submission order is fixed
		for l.Queued() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	// release the two held slots; queued callers should run in order
	l.Release()
	l.Release()
	wg.Wait()

	if len(order) != 3 || order[0] != "C" || order[1] != "D" || order[2] != "E" {
		t.Fatalf("dispatch order = %v, want [C D E]", order)
	}
	if got := l.Running(); got != 0 {
		t.Fatalf("running = %d after all calls completed, want 0", got)
	}
}

func TestSlotReleasedOnError(t *testing.T) {
	l := New(1)
	boom := errors.New("boom")
	if err := l.Do(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := l.Running(); got != 0 {
		t.Fatalf("running = %d after failed call, want 0", got)
	}
	// the slot must be reusable
	done := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slot leaked after error")
	}
}

func TestAcquireCancelledWhileQueued(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()
	for l.Queued() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// the cancelled waiter must not receive the slot
	l.Release()
	if got := l.Running(); got != 0 {
		t.Fatalf("running = %d, want 0", got)
	}
}
