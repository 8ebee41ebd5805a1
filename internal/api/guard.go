package api

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/resilience"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
)

// guard applies retry and circuit breaking to backend calls. Only the
// opening of a call is retried; once a chunk has been relayed the call is
// never repeated. slots, when set, bounds the calls in flight.
type guard struct {
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	slots   *semaphore.Weighted
}

func (g guard) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, func(ctx context.Context) error {
		if g.breaker == nil {
			return fn(ctx)
		}
		return g.breaker.Call(func() error { return fn(ctx) })
	}, g.retry, synthesis.IsRetryable)
}

// guardedSynthesizer decorates a streaming synthesizer with a guard
type guardedSynthesizer struct {
	next  Synthesizer
	guard guard
}

func (g guardedSynthesizer) SynthesizeStream(ctx context.Context, req synthesis.Request) (audio.ChunkSource, error) {
	release, err := g.guard.acquire(ctx)
	if err != nil {
		return nil, err
	}

	var src audio.ChunkSource
	err = g.guard.do(ctx, func(ctx context.Context) error {
		var err error
		src, err = g.next.SynthesizeStream(ctx, req)
		return err
	})
	if err != nil {
		release()
		return nil, err
	}
	if g.guard.breaker != nil {
		src = &trackedSource{ChunkSource: src, breaker: g.guard.breaker}
	}
	return &slotSource{ChunkSource: src, release: release}, nil
}

// trackedSource reports a backend failure that happens mid-body to the
// breaker. The open already counted as a success.
type trackedSource struct {
	audio.ChunkSource
	breaker  *resilience.CircuitBreaker
	reported bool
}

func (s *trackedSource) Next() (*audio.Chunk, error) {
	c, err := s.ChunkSource.Next()
	if err != nil && !s.reported && !errors.Is(err, io.EOF) && synthesis.IsRetryable(err) {
		s.reported = true
		s.breaker.RecordResult(false)
	}
	return c, err
}
