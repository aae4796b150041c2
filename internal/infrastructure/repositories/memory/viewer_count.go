package memory

import (
	"context"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
)

// ViewerCountStore keeps per-stream concurrent viewer counters in
// memory. Counters never go below zero.
type ViewerCountStore struct {
	mu     sync.Mutex
	counts map[domain.StreamID]int
}

func NewViewerCountStore() ports.ViewerCountStore {
	return &ViewerCountStore{
		counts: make(map[domain.StreamID]int),
	}
}

func (s *ViewerCountStore) Increment(ctx context.Context, id domain.StreamID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[id]++
	return s.counts[id], nil
}

func (s *ViewerCountStore) Decrement(ctx context.Context, id domain.StreamID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[id] > 0 {
		s.counts[id]--
	}
	return s.counts[id], nil
}

func (s *ViewerCountStore) Get(ctx context.Context, id domain.StreamID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[id], nil
}
