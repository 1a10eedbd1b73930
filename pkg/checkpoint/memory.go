package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. State expires with the
// process; suitable for single-replica deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// GetState returns a copy of the thread's snapshot.
func (s *MemoryStore) GetState(_ context.Context, threadID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *st
	return &out, nil
}

// UpdateState applies a partial update, creating the record if absent.
func (s *MemoryStore) UpdateState(_ context.Context, threadID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[threadID]
	if !ok {
		st = &State{ThreadID: threadID}
		s.states[threadID] = st
	}
	st.apply(patch, time.Now().UTC())
	return nil
}

// Delete removes one thread's checkpoint, or all when threadID is empty.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID == "" {
		s.states = make(map[string]*State)
		return nil
	}
	delete(s.states, threadID)
	return nil
}
