// Package conversation maintains per-thread message history with LRU
// eviction and TTL cleanup.
//
// A thread holds the pure conversation — user and assistant turns only.
// System prompts are injected at Prepare time and never stored; tool
// traffic lives in checkpoints, not here.
package conversation

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/docsight/docsight/pkg/models"
)

// cleanupEvery is how many accesses pass between opportunistic TTL sweeps.
const cleanupEvery = 10

// Stats reports store occupancy.
type Stats struct {
	Threads       int `json:"threads"`
	TotalMessages int `json:"total_messages"`
}

type thread struct {
	id         string
	messages   []models.Message
	lastAccess time.Time

	// summary carries compacted older history; lastSummarizedAt is the
	// message count at the time of the last summarization.
	summary          string
	lastSummarizedAt int

	elem *list.Element // position in the LRU list (front = most recent)
}

// Store is a thread-keyed bounded conversation store. Safe for concurrent
// use; all operations take the store lock.
type Store struct {
	mu      sync.Mutex
	threads map[string]*thread
	lru     *list.List // of *thread

	maxThreads  int
	maxMessages int
	ttl         time.Duration

	accesses int
	logger   *slog.Logger

	now func() time.Time // injectable for tests
}

// NewStore creates a store bounded by maxThreads and maxMessages per
// thread, with idle threads evicted after ttl.
func NewStore(maxThreads, maxMessages int, ttl time.Duration) *Store {
	return &Store{
		threads:     make(map[string]*thread),
		lru:         list.New(),
		maxThreads:  maxThreads,
		maxMessages: maxMessages,
		ttl:         ttl,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// Prepare returns the full message list for a model call:
// [system] + history + incoming. The incoming tail is deduplicated
// against the stored history so a retried request does not double the
// user turn. Prepare touches (or creates) the thread but does not store
// the incoming messages — call AppendUser/AppendAssistant after the turn
// settles.
func (s *Store) Prepare(threadID string, incoming []models.Message, systemPrompt string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.touchLocked(threadID)

	out := make([]models.Message, 0, len(t.messages)+len(incoming)+1)
	if systemPrompt != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	}
	out = append(out, t.messages...)

	for _, msg := range incoming {
		if msg.Role == models.RoleSystem {
			// Threads never store or replay system messages; the single
			// injected prompt above is authoritative.
			continue
		}
		if n := len(out); n > 0 && duplicates(out[n-1], msg) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// AppendUser appends a user message. Empty content and duplicates of the
// current tail are ignored.
func (s *Store) AppendUser(threadID, content string) {
	s.append(threadID, models.Message{Role: models.RoleUser, Content: content})
}

// AppendAssistant appends an assistant message. Empty content and
// duplicates of the current tail are ignored.
func (s *Store) AppendAssistant(threadID, content string) {
	s.append(threadID, models.Message{Role: models.RoleAssistant, Content: content})
}

func (s *Store) append(threadID string, msg models.Message) {
	if msg.IsEmpty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.touchLocked(threadID)
	if n := len(t.messages); n > 0 && duplicates(t.messages[n-1], msg) {
		return
	}
	t.messages = append(t.messages, msg)
	if len(t.messages) > s.maxMessages {
		// Trim from the front, keeping the most recent messages.
		t.messages = t.messages[len(t.messages)-s.maxMessages:]
	}
}

// History returns a copy of the thread's messages. Touches the thread.
func (s *Store) History(threadID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.touchLocked(threadID)
	return append([]models.Message(nil), t.messages...)
}

// Summary returns the compacted-history summary and the message count at
// the last summarization.
func (s *Store) Summary(threadID string) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.touchLocked(threadID)
	return t.summary, t.lastSummarizedAt
}

// SetSummary replaces the thread's summary and records the point of
// summarization. keep is the number of tail messages retained; older
// messages are dropped from the stored history.
func (s *Store) SetSummary(threadID, summary string, keep int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.touchLocked(threadID)
	t.summary = summary
	if keep >= 0 && len(t.messages) > keep {
		t.messages = append([]models.Message(nil), t.messages[len(t.messages)-keep:]...)
	}
	t.lastSummarizedAt = len(t.messages)
}

// MessageCount returns the number of stored messages without touching
// LRU order.
func (s *Store) MessageCount(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		return len(t.messages)
	}
	return 0
}

// Clear removes one thread, or all threads when threadID is empty.
func (s *Store) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID == "" {
		s.threads = make(map[string]*thread)
		s.lru.Init()
		return
	}
	if t, ok := s.threads[threadID]; ok {
		s.lru.Remove(t.elem)
		delete(s.threads, threadID)
	}
}

// Stats reports current occupancy.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Threads: len(s.threads)}
	for _, t := range s.threads {
		st.TotalMessages += len(t.messages)
	}
	return st
}

// touchLocked returns the thread, creating it if needed, moving it to the
// front of the LRU list, and running opportunistic maintenance.
func (s *Store) touchLocked(threadID string) *thread {
	s.accesses++
	if s.accesses%cleanupEvery == 0 {
		s.sweepLocked()
	}

	t, ok := s.threads[threadID]
	if !ok {
		t = &thread{id: threadID, lastAccess: s.now()}
		t.elem = s.lru.PushFront(t)
		s.threads[threadID] = t
		s.evictLocked()
		return t
	}
	t.lastAccess = s.now()
	s.lru.MoveToFront(t.elem)
	return t
}

// evictLocked drops least-recently-used threads until the bound holds.
func (s *Store) evictLocked() {
	for len(s.threads) > s.maxThreads {
		back := s.lru.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*thread)
		s.lru.Remove(back)
		delete(s.threads, victim.id)
		s.logger.Debug("Evicted LRU conversation thread", "thread_id", victim.id)
	}
}

// sweepLocked removes threads idle longer than the TTL.
func (s *Store) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for e := s.lru.Back(); e != nil; {
		t := e.Value.(*thread)
		if t.lastAccess.After(cutoff) {
			// LRU order means everything closer to the front is newer.
			return
		}
		prev := e.Prev()
		s.lru.Remove(e)
		delete(s.threads, t.id)
		s.logger.Debug("Expired idle conversation thread", "thread_id", t.id)
		e = prev
	}
}

// duplicates reports whether two messages are the same turn repeated.
func duplicates(a, b models.Message) bool {
	return a.Role == b.Role && a.Text() == b.Text() && a.Text() != ""
}
