package feed

import "sync"

// Signal is a named slot with listeners that run synchronously, in
// registration order, on every Emit.
type Signal[T any] struct {
	mu        sync.Mutex
	next      int
	listeners []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns the function that removes it.
func (s *Signal[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every listener outside the lock so listeners may subscribe or
// cancel from inside a callback.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	ls := make([]listener[T], len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, l := range ls {
		l.fn(v)
	}
}

func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Signal[T]) Clear() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}
