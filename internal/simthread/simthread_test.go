package simthread

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunConcurrentAllSucceed(t *testing.T) {
	var n int64
	err := RunConcurrent(20, func(i int) error {
		atomic.AddInt64(&n, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunConcurrent: %v", err)
	}
	if n != 20 {
		t.Fatalf("n = %d, want 20", n)
	}
}

func TestRunConcurrentPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := RunConcurrent(5, func(i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
