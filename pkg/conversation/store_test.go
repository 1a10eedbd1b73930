package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/models"
)

func TestPrepareInjectsSystemAndDeduplicates(t *testing.T) {
	s := NewStore(10, 50, time.Hour)
	s.AppendUser("th", "what is in chapter 2?")
	s.AppendAssistant("th", "Chapter 2 covers revenue.")

	incoming := []models.Message{
		{Role: models.RoleSystem, Content: "stale system prompt"},
		{Role: models.RoleAssistant, Content: "Chapter 2 covers revenue."},
		{Role: models.RoleUser, Content: "and chapter 3?"},
	}
	out := s.Prepare("th", incoming, "You are a document assistant.")

	require.Len(t, out, 4)
	assert.Equal(t, models.RoleSystem, out[0].Role)
	assert.Equal(t, "You are a document assistant.", out[0].Content)
	assert.Equal(t, "what is in chapter 2?", out[1].Content)
	assert.Equal(t, "Chapter 2 covers revenue.", out[2].Content)
	assert.Equal(t, "and chapter 3?", out[3].Content)
}

func TestAppendSkipsEmptyAndDuplicateTail(t *testing.T) {
	s := NewStore(10, 50, time.Hour)
	s.AppendUser("th", "")
	s.AppendUser("th", "hello")
	s.AppendUser("th", "hello")
	s.AppendAssistant("th", "hi")

	assert.Equal(t, 2, s.MessageCount("th"))
}

func TestAppendTrimsToMaxMessages(t *testing.T) {
	s := NewStore(10, 4, time.Hour)
	for i := 0; i < 10; i++ {
		s.AppendUser("th", fmt.Sprintf("message %d", i))
	}

	history := s.History("th")
	require.Len(t, history, 4)
	assert.Equal(t, "message 6", history[0].Content)
	assert.Equal(t, "message 9", history[3].Content)
}

func TestLRUEviction(t *testing.T) {
	s := NewStore(3, 50, time.Hour)
	s.AppendUser("a", "1")
	s.AppendUser("b", "1")
	s.AppendUser("c", "1")

	// Touch "a" so "b" becomes the eviction candidate.
	s.History("a")
	s.AppendUser("d", "1")

	assert.Equal(t, 3, s.Stats().Threads)
	assert.Equal(t, 0, s.MessageCount("b"))
	assert.Equal(t, 1, s.MessageCount("a"))
	assert.Equal(t, 1, s.MessageCount("d"))
}

func TestTTLSweep(t *testing.T) {
	s := NewStore(10, 50, time.Minute)
	current := time.Now()
	s.now = func() time.Time { return current }

	s.AppendUser("old", "1")
	current = current.Add(2 * time.Minute)
	s.AppendUser("new", "1")

	// Sweeps run every cleanupEvery accesses.
	for i := 0; i < cleanupEvery; i++ {
		s.History("new")
	}

	assert.Equal(t, 0, s.MessageCount("old"))
	assert.Equal(t, 1, s.MessageCount("new"))
}

func TestSetSummaryTrimsHistory(t *testing.T) {
	s := NewStore(10, 50, time.Hour)
	for i := 0; i < 8; i++ {
		s.AppendUser("th", fmt.Sprintf("turn %d", i))
	}

	s.SetSummary("th", "earlier turns discussed revenue", 3)

	summary, at := s.Summary("th")
	assert.Equal(t, "earlier turns discussed revenue", summary)
	assert.Equal(t, 3, at)

	history := s.History("th")
	require.Len(t, history, 3)
	assert.Equal(t, "turn 5", history[0].Content)
}

func TestClear(t *testing.T) {
	s := NewStore(10, 50, time.Hour)
	s.AppendUser("a", "1")
	s.AppendUser("b", "1")

	s.Clear("a")
	assert.Equal(t, 1, s.Stats().Threads)

	s.Clear("")
	assert.Equal(t, 0, s.Stats().Threads)
}
