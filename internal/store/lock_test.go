package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	lock := NewKeyedLock()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Lock(context.Background(), "q1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
}

func TestKeyedLockRespectsContext(t *testing.T) {
	lock := NewKeyedLock()
	release, err := lock.Lock(context.Background(), "q1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	other, err := lock.Lock(context.Background(), "q2")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := lock.Lock(ctx, "q1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestKeyedLockForgetsReleasedKeys(t *testing.T) {
	lock := NewKeyedLock()
	for i := 0; i < 100; i++ {
		release, err := lock.Lock(context.Background(), fmt.Sprintf("q%d", i))
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
		release()
		release()
	}
	if got := lock.size(); got != 0 {
		t.Fatalf("expected no entries after release, got %d", got)
	}

	held, err := lock.Lock(context.Background(), "q1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := lock.Lock(ctx, "q1"); err == nil {
		t.Fatalf("expected the wait to be abandoned")
	}
	if got := lock.size(); got != 1 {
		t.Fatalf("expected the held key only, got %d", got)
	}
	held()
	if got := lock.size(); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
}
