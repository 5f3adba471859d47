package callgroup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplication(t *testing.T) {
	var g Group[int, string]
	var calls atomic.Int32
	started := make(chan struct{})

	fn := func() (string, error) {
		calls.Add(1)
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "resolved", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]Result[string], n)

	// First caller starts the work.
	wg.Go(func() {
		results[0] = <-g.DoChan(1, fn)
	})

	// Wait for fn to start, then pile on.
	<-started
	for i := 1; i < n; i++ {
		wg.Go(func() {
			results[i] = <-g.DoChan(1, fn)
		})
	}

	wg.Wait()

	for i, r := range results {
		if r.Err != nil || r.Val != "resolved" {
			t.Errorf("caller %d got %+v", i, r)
		}
		if !r.Shared {
			t.Errorf("caller %d: expected shared result", i)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
}

func TestIndependentKeys(t *testing.T) {
	var g Group[int, int]
	var calls atomic.Int32

	var wg sync.WaitGroup
	for _, key := range []int{1, 2, 3} {
		wg.Go(func() {
			r := <-g.DoChan(key, func() (int, error) {
				calls.Add(1)
				return key * 10, nil
			})
			if r.Val != key*10 {
				t.Errorf("key %d got %d", key, r.Val)
			}
		})
	}

	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("fn called %d times, want 3", got)
	}
}

func TestErrorPropagation(t *testing.T) {
	var g Group[int, string]
	sentinel := errors.New("failed")
	started := make(chan struct{})

	ch1 := g.DoChan(1, func() (string, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "", sentinel
	})
	<-started

	ch2 := g.DoChan(1, func() (string, error) {
		t.Error("should not execute")
		return "", nil
	})

	r1 := <-ch1
	r2 := <-ch2

	if !errors.Is(r1.Err, sentinel) {
		t.Errorf("caller 1: got %v, want %v", r1.Err, sentinel)
	}
	if !errors.Is(r2.Err, sentinel) {
		t.Errorf("caller 2: got %v, want %v", r2.Err, sentinel)
	}
}

func TestReuseAfterCompletion(t *testing.T) {
	var g Group[int, int]
	var calls atomic.Int32

	fn := func() (int, error) {
		return int(calls.Add(1)), nil
	}

	// First call completes.
	if r := <-g.DoChan(1, fn); r.Val != 1 || r.Shared {
		t.Fatalf("first call: %+v", r)
	}

	// Second call for same key should trigger a new execution.
	if r := <-g.DoChan(1, fn); r.Val != 2 {
		t.Fatalf("second call: %+v", r)
	}
}

func TestDoContextCancel(t *testing.T) {
	var g Group[string, int]
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Do(ctx, "k", func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(release)

	v, err := g.Do(context.Background(), "other", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Do = %d, %v", v, err)
	}
}
