// Package synthesis is the HTTP client for the external voice-synthesis
// backend. Both the batch and the chunked mode go through one http.Client
// and one request builder.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/observability"
)

const (
	modeBatch  = "batch"
	modeStream = "stream"
)

// ClientConfig is process-wide and read-only after construction
type ClientConfig struct {
	BaseURL         string        // scheme://host:port of the backend
	Path            string        // synthesis endpoint path, e.g. /tts
	Timeout         time.Duration // per call, covers the whole response body; 0 disables
	ChunkSize       int           // size of each pooled read buffer
	MaxInMemorySize int64         // batch payload limit; 0 disables
}

// Client talks to the synthesis backend. It is safe for concurrent use;
// calls share nothing but the http.Client and the buffer pool.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	timeout     time.Duration
	pool        *audio.BufferPool
	maxInMemory int64
	logger      zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a backend client
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 32 << 10
	}
	c := &Client{
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		httpClient:  &http.Client{},
		timeout:     cfg.Timeout,
		pool:        audio.NewBufferPool(chunkSize),
		maxInMemory: cfg.MaxInMemorySize,
		logger:      log.Logger.With().Str("component", "synthesis").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full synthesis URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SynthesizeStream issues one backend call and returns its audio as a lazy
// chunk sequence in arrival order. The caller must Close the source.
func (c *Client) SynthesizeStream(ctx context.Context, req Request) (audio.ChunkSource, error) {
	return c.open(ctx, req, modeStream)
}

// SynthesizeBatch issues one backend call and returns the complete payload.
//
// This call blocks the calling goroutine for the full backend round trip:
// it drains the same chunk stream SynthesizeStream returns. Callers that
// cannot block should use SynthesizeStream and consume chunks themselves.
func (c *Client) SynthesizeBatch(ctx context.Context, req Request) ([]byte, error) {
	stream, err := c.open(ctx, req, modeBatch)
	if err != nil {
		return nil, err
	}
	agg := audio.Aggregator{MaxSize: c.maxInMemory, RequireNonEmpty: true}
	payload, err := agg.Aggregate(stream)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("bytes", len(payload)).Msg("Batch synthesis complete")
	return payload, nil
}

func (c *Client) open(ctx context.Context, req Request, mode string) (*chunkStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := c.logger.With().
		Str("mode", mode).
		Int("text_len", utf8.RuneCountInString(req.Text)).
		Logger()
	if req.ExceedsAdvisoryLength() {
		observability.RecordLongTextAdvisory()
		logger.Warn().
			Int("advisory_length", AdvisoryTextLength).
			Msg("Text exceeds advisory length, synthesis quality may degrade; pre-segment long input")
	}

	body, err := json.Marshal(req.wire())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav, audio/*")
	httpReq.Header.Set("User-Agent", "tts-gateway/1.0")

	metrics := observability.NewCallMetrics(mode)
	logger.Debug().Str("endpoint", c.endpoint).Msg("Calling synthesis backend")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		err = classify(ctx, callCtx, err)
		metrics.RecordEnd(statusOf(err))
		logger.Warn().Err(err).Msg("Synthesis backend call failed")
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		metrics.RecordEnd("backend_error")
		berr := &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		logger.Warn().Int("status", resp.StatusCode).Msg("Synthesis backend returned error status")
		return nil, berr
	}

	return &chunkStream{
		parent:  ctx,
		callCtx: callCtx,
		cancel:  cancel,
		body:    resp.Body,
		size:    resp.ContentLength,
		pool:    c.pool,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// classify maps a transport error to the client's error kinds. A cancelled
// parent context is passed through so callers can tell it from a failure.
func classify(parent, callCtx context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("synthesis call cancelled: %w", parent.Err())
	}
	if callCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out: %w", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

func statusOf(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStreamInterrupted):
		return "interrupted"
	default:
		return "error"
	}
}
