package openmemory

import (
	"sync"
	"testing"
)

func TestIDStripesSerializesSameID(t *testing.T) {
	s := newIDStripes(8)
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("same-id")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected no lost updates under striped locking, got %d", counter)
	}
}

func TestIDStripesDistinctIDsDontDeadlock(t *testing.T) {
	s := newIDStripes(8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := s.Lock(string(rune('a' + n)))
			defer unlock()
		}(i)
	}
	wg.Wait()
}

func TestIDStripesSameIDAlwaysSameMutex(t *testing.T) {
	s := newIDStripes(8)
	if s.stripe("abc") != s.stripe("abc") {
		t.Error("the same id should always hash to the same stripe")
	}
}
