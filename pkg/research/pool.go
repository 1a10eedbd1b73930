package research

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

// Analyze processes one segment and returns its outcome.
type Analyze func(ctx context.Context, segment models.Segment) models.SegmentResult

// Pool is the bounded parallel processor over document segments.
// Segments are partitioned into batches; within a batch at most
// maxConcurrent analyses are in flight. Result order is not guaranteed.
type Pool struct {
	batchSize     int
	maxConcurrent int

	// OnTaskStart fires as a segment enters analysis.
	OnTaskStart func(models.Segment)
	// OnBatchDone fires after each batch with cumulative counts; returning
	// false halts processing before the next batch.
	OnBatchDone func(batch, completed, failed, total int) bool

	logger *slog.Logger
}

// NewPool creates a pool from the research configuration. The in-flight
// bound is max_concurrent capped by num_workers.
func NewPool(cfg config.ResearchConfig) *Pool {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}
	if cfg.NumWorkers > 0 && concurrent > cfg.NumWorkers {
		concurrent = cfg.NumWorkers
	}
	return &Pool{
		batchSize:     batchSize,
		maxConcurrent: concurrent,
		logger:        slog.Default(),
	}
}

// Process analyzes every segment and streams results as they complete.
// The channel closes when all segments are processed, the batch predicate
// halts the job, or the context is canceled.
func (p *Pool) Process(ctx context.Context, segments []models.Segment, analyze Analyze) <-chan models.SegmentResult {
	out := make(chan models.SegmentResult)
	go func() {
		defer close(out)

		total := len(segments)
		completed, failed := 0, 0
		batchNum := 0

		for start := 0; start < total; start += p.batchSize {
			if ctx.Err() != nil {
				return
			}
			end := start + p.batchSize
			if end > total {
				end = total
			}
			batchNum++

			for _, r := range p.runBatch(ctx, segments[start:end], analyze, out) {
				if r.Success {
					completed++
				} else {
					failed++
				}
			}

			if p.OnBatchDone != nil && !p.OnBatchDone(batchNum, completed, failed, total) {
				p.logger.Info("Research halted by batch predicate",
					"batch", batchNum, "completed", completed, "failed", failed)
				return
			}
		}
	}()
	return out
}

// runBatch fans the batch out over the concurrency bound and waits for
// every segment before returning.
func (p *Pool) runBatch(ctx context.Context, batch []models.Segment, analyze Analyze, out chan<- models.SegmentResult) []models.SegmentResult {
	sem := make(chan struct{}, p.maxConcurrent)
	results := make([]models.SegmentResult, len(batch))
	var wg sync.WaitGroup

	dispatched := 0
	for i, segment := range batch {
		canceled := false
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			canceled = true
		}
		if canceled {
			break
		}
		dispatched = i + 1

		wg.Add(1)
		go func(i int, segment models.Segment) {
			defer wg.Done()
			defer func() { <-sem }()

			if p.OnTaskStart != nil {
				p.OnTaskStart(segment)
			}
			result := analyze(ctx, segment)
			results[i] = result
			select {
			case out <- result:
			case <-ctx.Done():
			}
		}(i, segment)
	}

	wg.Wait()
	return results[:dispatched]
}
