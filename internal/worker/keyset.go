package worker

import "sync"

// keySet tracks which customer+platform keys currently have a goroutine
// draining their group, so two ticks never run the same key concurrently.
type keySet struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newKeySet() *keySet {
	return &keySet{keys: make(map[string]bool)}
}

func (s *keySet) tryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false
	}
	s.keys[key] = true
	return true
}

func (s *keySet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}
