package events

import (
	"context"
	"log/slog"
)

// Mux joins pipeline producers onto a single ordered consumer channel and
// enforces the stream contract:
//
//   - relative ordering within a producer is preserved
//   - exactly one terminal event per stream
//   - nothing is forwarded after the terminal
//   - on consumer cancellation, producers are drained to a sink so they
//     never block on send
type Mux struct {
	logger *slog.Logger
}

// NewMux creates a multiplexer.
func NewMux() *Mux {
	return &Mux{logger: slog.Default()}
}

// Wrap adapts a single producer to the stream contract. The returned
// channel closes after the terminal event. If the producer closes without
// emitting a terminal, Wrap synthesizes an error terminal so consumers
// always observe exactly one.
func (m *Mux) Wrap(ctx context.Context, threadID string, producer <-chan Event) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		terminal := m.forward(ctx, threadID, producer, out)
		if !terminal {
			m.deliver(ctx, out, Error{
				Meta:         NewMeta(TypeError, "", threadID),
				ErrorMessage: "stream ended without a terminal event",
				ErrorCode:    "internal",
			})
		}
	}()
	return out
}

// Join runs producers sequentially onto one output channel. Terminal
// events from all but the last producer are swallowed unless they signal
// failure or interruption, in which case the stream ends there and the
// remaining producers are never started.
//
// Producers are supplied lazily so a failed stage prevents later stages
// from running at all.
func (m *Mux) Join(ctx context.Context, threadID string, stages ...func(context.Context) <-chan Event) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for i, stage := range stages {
			last := i == len(stages)-1
			producer := stage(ctx)
			stopped := m.forwardStage(ctx, threadID, producer, out, last)
			if stopped {
				return
			}
		}
	}()
	return out
}

// forward copies producer events to out until the terminal is sent or the
// producer closes. Returns whether a terminal was forwarded. After the
// terminal (or consumer cancellation) the producer is drained to a sink.
func (m *Mux) forward(ctx context.Context, threadID string, producer <-chan Event, out chan<- Event) bool {
	for ev := range producer {
		if !m.deliver(ctx, out, ev) {
			drain(producer)
			return true // cancelled; consumer is gone, contract moot
		}
		if IsTerminal(ev.EventType()) {
			drain(producer)
			return true
		}
	}
	return false
}

// forwardStage is forward for one Join stage. Non-last stages have their
// success terminal (stream_end) swallowed; error and interrupt terminals
// always end the joined stream. Returns true when the joined stream is
// finished.
func (m *Mux) forwardStage(ctx context.Context, threadID string, producer <-chan Event, out chan<- Event, last bool) bool {
	for ev := range producer {
		t := ev.EventType()
		if IsTerminal(t) {
			defer drain(producer)
			if !last && t == TypeStreamEnd {
				return false // swallow, next stage continues the stream
			}
			m.deliver(ctx, out, ev)
			return true
		}
		if !m.deliver(ctx, out, ev) {
			drain(producer)
			return true
		}
	}
	if last {
		m.deliver(ctx, out, Error{
			Meta:         NewMeta(TypeError, "", threadID),
			ErrorMessage: "stream ended without a terminal event",
			ErrorCode:    "internal",
		})
		return true
	}
	return false
}

// deliver sends ev to out, honoring consumer cancellation. Returns false
// when the consumer is gone.
func (m *Mux) deliver(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		m.logger.Debug("Event consumer cancelled, dropping event", "type", ev.EventType())
		return false
	}
}

// drain consumes and discards the remainder of a producer channel so the
// producing goroutine can finish its sends and exit.
func drain(producer <-chan Event) {
	go func() {
		for range producer {
		}
	}()
}
