package tools

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/docsight/docsight/pkg/models"
)

// resultCacheSize bounds the recent-result ring.
const resultCacheSize = 20

// CachedResult is one entry in the recent-result ring.
type CachedResult struct {
	Tool       string
	Args       string // canonical JSON of the arguments
	Summary    string
	References int
	RecordedAt time.Time
}

// resultCache is a fixed-size ring of recent successful tool results,
// kept for observability and debugging. Oldest entries are overwritten
// once the ring is full.
type resultCache struct {
	mu      sync.Mutex
	entries []CachedResult
	next    int
	full    bool
}

func newResultCache(size int) *resultCache {
	return &resultCache{entries: make([]CachedResult, size)}
}

func (c *resultCache) Record(tool string, args map[string]any, result *models.ToolResult) {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	summary := result.Message
	if len(summary) > 200 {
		summary = summary[:200]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.next] = CachedResult{
		Tool:       tool,
		Args:       string(encoded),
		Summary:    summary,
		References: len(result.References),
		RecordedAt: time.Now().UTC(),
	}
	c.next = (c.next + 1) % len(c.entries)
	if c.next == 0 {
		c.full = true
	}
}

// Recent returns the cached entries, oldest first.
func (c *resultCache) Recent() []CachedResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		out := make([]CachedResult, c.next)
		copy(out, c.entries[:c.next])
		return out
	}
	out := make([]CachedResult, 0, len(c.entries))
	out = append(out, c.entries[c.next:]...)
	out = append(out, c.entries[:c.next]...)
	return out
}

func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i] = CachedResult{}
	}
	c.next = 0
	c.full = false
}

// Len reports the number of live entries.
func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return len(c.entries)
	}
	return c.next
}
