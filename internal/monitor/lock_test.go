package monitor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepAliveExtendsUntilReleased(t *testing.T) {
	var calls atomic.Int32
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, 5*time.Millisecond, func() (bool, error) {
			n := calls.Add(1)
			if n == 2 {
				return false, errors.New("redis timeout")
			}
			return true, nil
		})
	}()

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 3 })
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not return after release")
	}
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Error("lock extended after release")
	}
}

func TestKeepAliveStopsWhenLockLost(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(make(chan struct{}), 5*time.Millisecond, func() (bool, error) {
			calls.Add(1)
			return false, nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept running after the key was taken over")
	}
	if calls.Load() != 1 {
		t.Errorf("extend calls = %d, want 1", calls.Load())
	}
}
