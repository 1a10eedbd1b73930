package research

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/index"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// pngBytes is a tiny valid-enough payload for the image endpoint.
var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

// textModel answers every Generate call with the same text.
type textModel struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (m *textModel) Generate(context.Context, *model.GenerateInput) (<-chan model.Chunk, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	ch := make(chan model.Chunk, 1)
	go func() {
		defer close(ch)
		ch <- model.TextChunk{Content: m.text}
	}()
	return ch, nil
}

func (m *textModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// docService fakes the document service: a two-page document whose page
// images are served per segment. failImageFor makes one segment's image
// endpoint return 500.
func docService(t *testing.T, pageCount int, failImageFor string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/image"):
			if failImageFor != "" && strings.Contains(r.URL.Path, failImageFor) {
				http.Error(w, "render failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		default:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"page_count": %d}`, pageCount)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func researchPipeline(t *testing.T, m model.Client, docURL string, researchCfg config.ResearchConfig) *Pipeline {
	t.Helper()
	registry := tools.NewRegistry(config.ToolsConfig{
		MaxContentLen:        32000,
		RefImageMaxAttach:    1,
		RefImageMaxBase64Len: 500000,
		CallTimeout:          2 * time.Second,
		MaxAttempts:          1,
	})
	docs := index.NewClient(config.IndexConfig{
		SearchURL:          docURL,
		DocumentServiceURL: docURL,
		Timeout:            2 * time.Second,
	})
	require.NoError(t, index.RegisterBuiltins(registry, docs))

	return NewPipeline(m, registry, prompt.NewRegistry(), docs, researchCfg,
		config.ModelConfig{ModelID: "claude-sonnet-4-5", MaxTokens: 1024, SummaryMaxTokens: 512},
	)
}

func singleBatchConfig() config.ResearchConfig {
	return config.ResearchConfig{BatchSize: 50, NumWorkers: 3, MaxConcurrent: 1}
}

func collectEvents(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for stream to close after %d events", len(out))
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType()
	}
	return out
}

func TestPipelineAnalyzesEveryPage(t *testing.T) {
	srv := docService(t, 2, "")
	m := &textModel{text: "The page discusses the ingestion pipeline."}
	p := researchPipeline(t, m, srv.URL, singleBatchConfig())

	ch, err := p.Stream(context.Background(), "how does ingestion work?", "r1",
		models.AgentContext{IndexID: "idx-1", DocumentID: "doc-1"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeTaskStart,
		events.TypeTaskComplete,
		events.TypeTaskStart,
		events.TypeTaskComplete,
		events.TypePhaseUpdate,
		events.TypeTextChunk,
		events.TypeExecutionComplete,
		events.TypeStreamEnd,
	}, eventTypes(evs))

	progress := evs[4].(events.PhaseUpdate)
	require.NotNil(t, progress.Progress)
	assert.InDelta(t, 100.0, *progress.Progress, 0.01)

	done := evs[6].(events.ExecutionComplete)
	assert.Equal(t, 2, done.Total)
	assert.Equal(t, 2, done.Successful)
	assert.Equal(t, 0, done.Failed)

	// Two per-segment analyses plus the final report.
	assert.Equal(t, 3, m.callCount())
}

func TestPipelineReportsProgressPerBatch(t *testing.T) {
	srv := docService(t, 6, "")
	m := &textModel{text: "Findings for the page."}
	p := researchPipeline(t, m, srv.URL,
		config.ResearchConfig{BatchSize: 2, NumWorkers: 2, MaxConcurrent: 1})

	ch, err := p.Stream(context.Background(), "q", "r-batches",
		models.AgentContext{DocumentID: "doc-1"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	var progress []float64
	for _, ev := range evs {
		if pu, ok := ev.(events.PhaseUpdate); ok && pu.Progress != nil {
			progress = append(progress, *pu.Progress)
		}
	}

	// One update per batch boundary: 2, 4, then all 6 of 6 segments done.
	require.Len(t, progress, 3)
	assert.InDelta(t, 100.0/3, progress[0], 0.01)
	assert.InDelta(t, 200.0/3, progress[1], 0.01)
	assert.InDelta(t, 100.0, progress[2], 0.01)

	var done events.ExecutionComplete
	for _, ev := range evs {
		if ec, ok := ev.(events.ExecutionComplete); ok {
			done = ec
		}
	}
	assert.Equal(t, 6, done.Total)
	assert.Equal(t, 6, done.Successful)
	assert.Equal(t, events.TypeStreamEnd, evs[len(evs)-1].EventType())
}

func TestPipelineToleratesSegmentFailure(t *testing.T) {
	srv := docService(t, 2, "doc-1-page-2")
	m := &textModel{text: "Partial findings."}
	p := researchPipeline(t, m, srv.URL, singleBatchConfig())

	ch, err := p.Stream(context.Background(), "q", "r2",
		models.AgentContext{DocumentID: "doc-1"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	types := eventTypes(evs)
	assert.Contains(t, types, events.TypeTaskFailed)
	require.Equal(t, events.TypeStreamEnd, types[len(types)-1])

	var done events.ExecutionComplete
	for _, ev := range evs {
		if ec, ok := ev.(events.ExecutionComplete); ok {
			done = ec
		}
	}
	assert.Equal(t, 2, done.Total)
	assert.Equal(t, 1, done.Successful)
	assert.Equal(t, 1, done.Failed)
}

func TestPipelineRequiresDocumentID(t *testing.T) {
	srv := docService(t, 2, "")
	p := researchPipeline(t, &textModel{text: "x"}, srv.URL, singleBatchConfig())

	_, err := p.Stream(context.Background(), "q", "r3", models.AgentContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document_id")
}

func TestPipelineEmptyDocumentIsNotFound(t *testing.T) {
	srv := docService(t, 0, "")
	p := researchPipeline(t, &textModel{text: "x"}, srv.URL, singleBatchConfig())

	ch, err := p.Stream(context.Background(), "q", "r4",
		models.AgentContext{DocumentID: "doc-empty"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Len(t, evs, 1)
	errEv := evs[0].(events.Error)
	assert.Equal(t, "not_found", errEv.ErrorCode)
}
