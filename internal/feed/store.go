package feed

import "sync"

// Store caches hydrated entities by id. It has no notion of ordering.
type Store[E Entity] struct {
	mu    sync.RWMutex
	items map[string]E
}

func NewStore[E Entity]() *Store[E] {
	return &Store[E]{items: make(map[string]E)}
}

func (s *Store[E]) Upsert(e E) {
	s.mu.Lock()
	s.items[e.EntityID()] = e
	s.mu.Unlock()
}

func (s *Store[E]) Get(id string) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	return e, ok
}

// GetMany returns the cached subset of ids and the ids that were missing.
func (s *Store[E]) GetMany(ids []string) (map[string]E, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hit := make(map[string]E, len(ids))
	var miss []string
	for _, id := range ids {
		if e, ok := s.items[id]; ok {
			hit[id] = e
		} else {
			miss = append(miss, id)
		}
	}
	return hit, miss
}

func (s *Store[E]) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Clear drops everything; used when the viewer changes.
func (s *Store[E]) Clear() {
	s.mu.Lock()
	s.items = make(map[string]E)
	s.mu.Unlock()
}

func (s *Store[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
