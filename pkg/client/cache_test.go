package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetCachesWithinTTL(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls int32
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v1", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), "k", fetch, Options{TTL: time.Minute})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "v1" {
			t.Fatalf("got %v", got)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}

	// Past the TTL the fetcher runs again.
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), "k", fetch, Options{TTL: time.Minute}); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("fetch calls = %d, want 2", n)
	}
}

func TestGetCollapsesConcurrentFetches(t *testing.T) {
	c := NewCache()

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]any, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", fetch, Options{TTL: time.Minute})
			if err != nil {
				t.Errorf("get: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("results[%d] = %v", i, v)
		}
	}
}

func TestGetServesStaleOnError(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	ok := func(ctx context.Context) (any, error) { return "fresh", nil }
	if _, err := c.Get(context.Background(), "k", ok, Options{TTL: time.Minute}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now = now.Add(time.Hour)
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("backend down") }
	got, err := c.Get(context.Background(), "k", failing, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("stale entry should suppress the error, got %v", err)
	}
	if got != "fresh" {
		t.Fatalf("got %v, want stale value", got)
	}

	// No prior value: the error surfaces.
	if _, err := c.Get(context.Background(), "other", failing, Options{TTL: time.Minute}); err == nil {
		t.Fatal("expected error for cold key")
	}
}

func TestGetRetriesOnceByDefault(t *testing.T) {
	c := NewCache()

	var calls int32
	flaky := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}
	got, err := c.Get(context.Background(), "k", flaky, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "recovered" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("got %v after %d calls", got, calls)
	}

	// Retries disabled: the first failure surfaces.
	atomic.StoreInt32(&calls, 0)
	if _, err := c.Get(context.Background(), "k2", flaky, Options{TTL: time.Minute, Retries: -1}); err == nil {
		t.Fatal("expected error with retries disabled")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestPollReplacesValueInPlace(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	fetch := func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			return nil, errors.New("backend down")
		}
		return "v1", nil
	}
	c.Poll(ctx, "k", 10*time.Millisecond, fetch)

	deadline := time.After(time.Second)
	for {
		if _, ok := c.Peek("k"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poll never populated the entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Let several failing refreshes run; the value must never disappear.
	time.Sleep(60 * time.Millisecond)
	v, ok := c.Peek("k")
	if !ok || v != "v1" {
		t.Fatalf("entry = (%v, %v), want v1 kept", v, ok)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatal("expected refreshes to have run")
	}
}

func TestClearDuringFetchDropsWrite(t *testing.T) {
	c := NewCache()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "stale-user", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.Get(context.Background(), "k", fetch, Options{TTL: time.Minute})
		if err != nil {
			t.Errorf("get: %v", err)
		}
		// The caller that started the fetch still gets its value back.
		if v != "stale-user" {
			t.Errorf("got %v", v)
		}
	}()

	<-started
	c.Clear()
	close(release)
	<-done

	if v, ok := c.Peek("k"); ok {
		t.Fatalf("cleared entry was resurrected with %v", v)
	}
}

func TestClearDuringPollRefreshDropsWrite(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "v1", nil
	}
	// A long interval so only the immediate refresh runs.
	c.Poll(ctx, "k", time.Hour, fetch)

	<-started
	c.Clear()
	close(release)

	// Give the refresh goroutine time to finish its store attempt.
	time.Sleep(50 * time.Millisecond)
	if v, ok := c.Peek("k"); ok {
		t.Fatalf("cleared entry was resurrected with %v", v)
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := NewCache()
	seed := func(v string) Fetcher {
		return func(ctx context.Context) (any, error) { return v, nil }
	}
	if _, err := c.Get(context.Background(), "books:1", seed("a"), Options{TTL: time.Minute}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.Get(context.Background(), "status", seed("b"), Options{TTL: time.Minute}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c.Invalidate(func(key string) bool { return key == "books:1" })
	if _, ok := c.Peek("books:1"); ok {
		t.Fatal("books:1 should be invalidated")
	}
	if _, ok := c.Peek("status"); !ok {
		t.Fatal("status should survive")
	}

	c.Clear()
	if _, ok := c.Peek("status"); ok {
		t.Fatal("clear should drop everything")
	}
}
