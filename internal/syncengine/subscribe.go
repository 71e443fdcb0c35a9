package syncengine

import (
	"sync"

	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
)

// ProgressFunc receives sync progress in [0, 1]: push occupies [0, 0.5),
// pull occupies [0.5, 1] (§4.4).
type ProgressFunc func(progress float64)

// ConflictFunc is invoked once per conflict.Info the detector produces
// during a pull cycle, whether or not it was auto-resolved.
type ConflictFunc func(info conflict.Info)

// subscribers is a small fan-out registry with an explicit unregister
// protocol (§9: no weak references — "the engine exposes subscribe(cb) ->
// handle and clients must drop the handle before their own teardown").
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]T
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{subs: make(map[int]T)}
}

// Add registers fn and returns an unsubscribe func removing it.
func (s *subscribers[T]) Add(fn T) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[T]) Each(fn func(T)) {
	s.mu.Lock()
	snapshot := make([]T, 0, len(s.subs))
	for _, v := range s.subs {
		snapshot = append(snapshot, v)
	}
	s.mu.Unlock()
	for _, v := range snapshot {
		fn(v)
	}
}
