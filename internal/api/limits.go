package api

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lexiqai/tts-gateway/internal/audio"
)

// ErrRateLimited is returned when a request arrives faster than the
// configured admission rate
var ErrRateLimited = errors.New("rate limit exceeded")

// WithRateLimit admits at most limit requests per second with the given
// burst. A WebSocket message counts as one request. A non-positive limit
// disables the check.
func WithRateLimit(limit float64, burst int) Option {
	return func(h *Handler) {
		if limit <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(limit), max(burst, 1))
	}
}

// WithMaxConcurrent caps the number of backend syntheses in flight. A
// streamed call holds its slot until its chunk source is closed; callers
// beyond the cap wait for a slot or for their context.
func WithMaxConcurrent(n int) Option {
	return func(h *Handler) {
		if n <= 0 {
			h.guard.slots = nil
			return
		}
		h.guard.slots = semaphore.NewWeighted(int64(n))
	}
}

func (h *Handler) admit() error {
	if h.limiter != nil && !h.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// acquire takes a backend slot. The returned release is safe to call more
// than once.
func (g guard) acquire(ctx context.Context) (func(), error) {
	if g.slots == nil {
		return func() {}, nil
	}
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { g.slots.Release(1) }) }, nil
}

// slotSource releases its backend slot when closed
type slotSource struct {
	audio.ChunkSource
	release func()
}

func (s *slotSource) Close() error {
	defer s.release()
	return s.ChunkSource.Close()
}
