// Package api exposes synthesis over HTTP: a batch endpoint returning one
// WAV payload, and segmented streaming over Server-Sent Events and
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/resilience"
	"github.com/lexiqai/tts-gateway/internal/segment"
	"github.com/lexiqai/tts-gateway/internal/streaming"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
	"github.com/lexiqai/tts-gateway/internal/voice"
)

// maxRequestBody bounds the JSON body of a synthesis request
const maxRequestBody = 1 << 20

// Synthesizer is the backend client used by the handlers
type Synthesizer interface {
	SynthesizeBatch(ctx context.Context, req synthesis.Request) ([]byte, error)
	SynthesizeStream(ctx context.Context, req synthesis.Request) (audio.ChunkSource, error)
}

// Voices resolves a voice name to a request template
type Voices interface {
	Template(name string) (synthesis.Request, error)
}

// SynthesizeRequest is the JSON body accepted by every synthesis endpoint
type SynthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// Handler serves the synthesis endpoints
type Handler struct {
	synth     Synthesizer
	voices    Voices
	guard     guard
	segmenter *segment.Segmenter
	limiter   *rate.Limiter
	logger    zerolog.Logger

	orchestrator *streaming.Orchestrator
}

// Option configures a Handler
type Option func(*Handler)

// WithCircuitBreaker guards backend calls with cb
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(h *Handler) {
		h.guard.breaker = cb
	}
}

// WithRetry retries failed backend calls according to cfg
func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(h *Handler) {
		h.guard.retry = cfg
	}
}

// WithSegmenter replaces the default sentence segmenter
func WithSegmenter(s *segment.Segmenter) Option {
	return func(h *Handler) {
		h.segmenter = s
	}
}

// WithLogger sets the handler logger
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates the synthesis handlers
func NewHandler(synth Synthesizer, voices Voices, opts ...Option) *Handler {
	h := &Handler{
		synth:  synth,
		voices: voices,
		guard:  guard{retry: &resilience.RetryConfig{MaxAttempts: 1}},
		logger: log.Logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.segmenter == nil {
		h.segmenter = segment.NewDefault()
	}
	h.orchestrator = streaming.New(
		guardedSynthesizer{next: synth, guard: h.guard},
		h.segmenter,
		streaming.WithLogger(h.logger),
	)
	return h
}

// Routes registers the synthesis endpoints on mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tts/synthesize", h.HandleSynthesize)
	mux.HandleFunc("POST /tts/stream", h.HandleStream)
	mux.HandleFunc("GET /tts/ws", h.HandleWebSocket)
}

// requestLogger attaches a correlation ID to the request's logger. An
// incoming X-Correlation-ID header is reused.
func (h *Handler) requestLogger(r *http.Request) (zerolog.Logger, string) {
	return observability.WithCorrelationID(h.logger, r.Header.Get("X-Correlation-ID"))
}

func decodeRequest(r io.Reader) (SynthesizeRequest, error) {
	var req SynthesizeRequest
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: malformed request body: %v", synthesis.ErrInvalidInput, err)
	}
	return req, nil
}

// template resolves the voice and applies the per-request speed
func (h *Handler) template(req SynthesizeRequest) (synthesis.Request, error) {
	if req.Speed < 0 {
		return synthesis.Request{}, fmt.Errorf("%w: speed must be positive", synthesis.ErrInvalidInput)
	}
	tmpl, err := h.voices.Template(strings.TrimSpace(req.Voice))
	if err != nil {
		return synthesis.Request{}, err
	}
	if req.Speed > 0 {
		tmpl.Decoding.SpeedFactor = req.Speed
	}
	return tmpl, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to its HTTP status. A cancelled request has no
// status; the client is gone.
func statusFor(err error) int {
	var be *synthesis.BackendError
	switch {
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, synthesis.ErrInvalidInput), errors.Is(err, voice.ErrUnknownVoice):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, synthesis.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &be),
		errors.Is(err, synthesis.ErrStreamInterrupted),
		errors.Is(err, audio.ErrEmptyStream),
		errors.Is(err, audio.ErrBufferLimit):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == 0 {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
