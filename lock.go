package openmemory

import (
	"hash/fnv"
	"sync"
)

// idStripes serializes mutations against a single memory id without
// forcing every mutation in the engine through one global lock. The
// teacher ran a single sync.RWMutex over the whole engine (engram.go's
// cm.mu); that gives no per-id ordering guarantee, which the concurrency
// model requires (operations on the same memory id apply in some
// consistent serial order; operations on different ids don't block each
// other on identity).
type idStripes struct {
	mus []sync.Mutex
}

func newIDStripes(n int) *idStripes {
	if n <= 0 {
		n = 64
	}
	return &idStripes{mus: make([]sync.Mutex, n)}
}

func (s *idStripes) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.mus[h.Sum32()%uint32(len(s.mus))]
}

// Lock acquires the stripe guarding id and returns the unlock func.
func (s *idStripes) Lock(id string) func() {
	m := s.stripe(id)
	m.Lock()
	return m.Unlock
}
