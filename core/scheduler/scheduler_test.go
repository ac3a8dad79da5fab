package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFiresOnce(t *testing.T) {
	s := New("test")
	var fired atomic.Int32
	done := make(chan struct{})

	s.Schedule(5*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("callback fired %d times, expected 1", n)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New("test")
	var fired atomic.Int32

	h := s.Schedule(50*time.Millisecond, func() {
		fired.Add(1)
	})
	if !h.Cancel() {
		t.Fatal("cancel of pending timer should report true")
	}

	time.Sleep(100 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled callback fired %d times", n)
	}
}

func TestCancelIdempotent(t *testing.T) {
	s := New("test")
	h := s.Schedule(50*time.Millisecond, func() {})

	if !h.Cancel() {
		t.Fatal("first cancel should succeed")
	}
	if h.Cancel() {
		t.Fatal("second cancel should be a no-op")
	}
}

func TestCancelAfterFire(t *testing.T) {
	s := New("test")
	done := make(chan struct{})
	h := s.Schedule(1*time.Millisecond, func() { close(done) })

	<-done
	s.Wait()
	if h.Cancel() {
		t.Fatal("cancel after firing should report false")
	}
}

func TestCancelRace(t *testing.T) {
	// A successful Cancel must mean the callback never runs, even when the
	// timer expires at the same moment.
	for i := 0; i < 1000; i++ {
		s := New("test")
		var fired atomic.Int32
		h := s.Schedule(time.Microsecond, func() { fired.Add(1) })

		var wg sync.WaitGroup
		wg.Add(1)
		var prevented bool
		go func() {
			defer wg.Done()
			prevented = h.Cancel()
		}()
		wg.Wait()
		s.Wait()

		if prevented && fired.Load() != 0 {
			t.Fatalf("iteration %d: callback ran despite successful cancel", i)
		}
		if !prevented && fired.Load() != 1 {
			t.Fatalf("iteration %d: callback lost without cancel", i)
		}
	}
}
