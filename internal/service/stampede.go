package service

import "sync"

// missTracker counts provider calls in flight per cache key. Concurrent
// misses each reach the provider; the count only feeds ConcurrentMissesTotal.
type missTracker struct {
	mu       sync.Mutex
	inflight map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{inflight: make(map[string]int)}
}

// begin registers a miss for key and returns how many are in flight, this one
// included. done must be called once the provider returns; extra calls are ignored.
func (m *missTracker) begin(key string) (int, func()) {
	m.mu.Lock()
	m.inflight[key]++
	n := m.inflight[key]
	m.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.inflight[key] <= 1 {
				delete(m.inflight, key)
				return
			}
			m.inflight[key]--
		})
	}
}

func (m *missTracker) active(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[key]
}
