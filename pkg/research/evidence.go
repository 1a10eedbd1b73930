// Package research implements the deep_research mode: a bounded worker
// pool that analyzes document segments in batches, a lead coordinator
// that tracks progress and cost between batches, and an evidence store
// feeding the final synthesis.
package research

import (
	"sort"
	"sync"

	"github.com/docsight/docsight/pkg/models"
)

type evidenceKey struct {
	jobID     string
	segmentID string
}

// EvidenceStore holds per-segment analysis records keyed by
// (job, segment). Safe for concurrent use.
type EvidenceStore struct {
	mu      sync.RWMutex
	records map[evidenceKey]models.Evidence
}

// NewEvidenceStore creates an empty store.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{records: make(map[evidenceKey]models.Evidence)}
}

// Put stores the evidence for one segment, replacing any prior record.
func (s *EvidenceStore) Put(jobID, segmentID string, ev models.Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[evidenceKey{jobID, segmentID}] = ev
}

// Get returns one segment's evidence.
func (s *EvidenceStore) Get(jobID, segmentID string) (models.Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.records[evidenceKey{jobID, segmentID}]
	return ev, ok
}

// ForJob returns all evidence for a job, ordered by page index.
func (s *EvidenceStore) ForJob(jobID string) []models.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Evidence
	for key, ev := range s.records {
		if key.jobID == jobID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out
}

// Clear removes a job's evidence.
func (s *EvidenceStore) Clear(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.records {
		if key.jobID == jobID {
			delete(s.records, key)
		}
	}
}

// Len reports the number of stored records.
func (s *EvidenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
