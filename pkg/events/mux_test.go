package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func textChunk(threadID, text string) TextChunk {
	return TextChunk{Meta: NewMeta(TypeTextChunk, "", threadID), TextID: "t1", Text: text}
}

func TestWrapPreservesOrderAndTerminal(t *testing.T) {
	m := NewMux()
	producer := make(chan Event, 4)
	producer <- textChunk("th", "a")
	producer <- textChunk("th", "b")
	producer <- StreamEnd{Meta: NewMeta(TypeStreamEnd, "", "th")}
	close(producer)

	got := collect(t, m.Wrap(context.Background(), "th", producer))

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].(TextChunk).Text)
	assert.Equal(t, "b", got[1].(TextChunk).Text)
	assert.Equal(t, TypeStreamEnd, got[2].EventType())
}

func TestWrapSynthesizesMissingTerminal(t *testing.T) {
	m := NewMux()
	producer := make(chan Event, 1)
	producer <- textChunk("th", "a")
	close(producer)

	got := collect(t, m.Wrap(context.Background(), "th", producer))

	require.Len(t, got, 2)
	errEv, ok := got[1].(Error)
	require.True(t, ok)
	assert.Equal(t, "internal", errEv.ErrorCode)
}

func TestWrapStopsAfterTerminal(t *testing.T) {
	m := NewMux()
	producer := make(chan Event)
	go func() {
		defer close(producer)
		producer <- StreamEnd{Meta: NewMeta(TypeStreamEnd, "", "th")}
		// A misbehaving producer keeps sending; the mux must drain these
		// without forwarding.
		producer <- textChunk("th", "late")
		producer <- StreamEnd{Meta: NewMeta(TypeStreamEnd, "", "th")}
	}()

	got := collect(t, m.Wrap(context.Background(), "th", producer))

	require.Len(t, got, 1)
	assert.Equal(t, TypeStreamEnd, got[0].EventType())
}

func TestJoinSwallowsIntermediateStreamEnd(t *testing.T) {
	m := NewMux()
	stage := func(texts ...string) func(context.Context) <-chan Event {
		return func(context.Context) <-chan Event {
			ch := make(chan Event, len(texts)+1)
			for _, s := range texts {
				ch <- textChunk("th", s)
			}
			ch <- StreamEnd{Meta: NewMeta(TypeStreamEnd, "", "th")}
			close(ch)
			return ch
		}
	}

	got := collect(t, m.Join(context.Background(), "th", stage("a"), stage("b")))

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].(TextChunk).Text)
	assert.Equal(t, "b", got[1].(TextChunk).Text)
	assert.Equal(t, TypeStreamEnd, got[2].EventType())
}

func TestJoinStopsOnErrorTerminal(t *testing.T) {
	m := NewMux()
	failing := func(context.Context) <-chan Event {
		ch := make(chan Event, 1)
		ch <- Error{Meta: NewMeta(TypeError, "", "th"), ErrorMessage: "boom", ErrorCode: "internal"}
		close(ch)
		return ch
	}
	started := false
	never := func(context.Context) <-chan Event {
		started = true
		ch := make(chan Event)
		close(ch)
		return ch
	}

	got := collect(t, m.Join(context.Background(), "th", failing, never))

	require.Len(t, got, 1)
	assert.Equal(t, TypeError, got[0].EventType())
	assert.False(t, started)
}

func TestJoinSynthesizesTerminalWhenLastStageClosesEarly(t *testing.T) {
	m := NewMux()
	silent := func(context.Context) <-chan Event {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	got := collect(t, m.Join(context.Background(), "th", silent))

	require.Len(t, got, 1)
	assert.Equal(t, TypeError, got[0].EventType())
}
