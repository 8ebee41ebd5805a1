// Package streaming drives segmented synthesis: text is split into
// sentences and each sentence is synthesized and relayed in input order.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/segment"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
)

// ErrClosed is returned by Next after Close
var ErrClosed = errors.New("event stream closed")

// Synthesizer opens one chunked synthesis call
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, req synthesis.Request) (audio.ChunkSource, error)
}

// Orchestrator composes a segmenter and a synthesizer. It holds no
// per-run state and may be shared.
type Orchestrator struct {
	synth     Synthesizer
	segmenter *segment.Segmenter
	logger    zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator. A nil segmenter uses the default punctuation set.
func New(synth Synthesizer, segmenter *segment.Segmenter, opts ...Option) *Orchestrator {
	if segmenter == nil {
		segmenter = segment.NewDefault()
	}
	o := &Orchestrator{
		synth:     synth,
		segmenter: segmenter,
		logger:    log.Logger.With().Str("component", "streaming").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run segments text and returns the lazy event sequence for it. No backend
// call is made until the consumer pulls past the first text event.
//
// A malformed template is the only failure that aborts the whole run; it is
// reported here, before any event. Per-sentence failures are reported inline
// as EventError.
func (o *Orchestrator) Run(ctx context.Context, text string, template synthesis.Request) (*EventStream, error) {
	if err := template.ValidateTemplate(); err != nil {
		return nil, err
	}

	units := o.segmenter.Segment(text)
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &o.logger
	}
	l := logger.With().Int("units", len(units)).Logger()
	l.Debug().Msg("Starting segmented stream")

	observability.StreamStarted()
	return &EventStream{
		ctx:       ctx,
		synth:     o.synth,
		segmenter: o.segmenter,
		template:  template,
		units:     units,
		logger:    l,
	}, nil
}

// EventStream is the event sequence of one Run. It is not safe for
// concurrent use; one consumer pulls events with Next.
type EventStream struct {
	ctx       context.Context
	synth     Synthesizer
	segmenter *segment.Segmenter
	template  synthesis.Request
	units     []segment.Unit
	logger    zerolog.Logger

	idx      int               // current unit
	opening  bool              // text event for units[idx] sent, call not yet issued
	src      audio.ChunkSource // in-flight call for units[idx]
	endSent  bool
	err      error // terminal error, repeated on every later Next
	finished bool
}

// Next returns the next event. After EventEnd it returns io.EOF. If the
// run's context is cancelled it returns the context error and issues no
// further backend calls; after Close it returns ErrClosed.
func (s *EventStream) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	if err := s.ctx.Err(); err != nil {
		return Event{}, s.abort(err)
	}

	for {
		switch {
		case s.src != nil:
			ev, ok, err := s.relay()
			if err != nil {
				return Event{}, err
			}
			if ok {
				return ev, nil
			}

		case s.opening:
			ev, ok, err := s.open()
			if err != nil {
				return Event{}, err
			}
			if ok {
				return ev, nil
			}

		case s.idx < len(s.units):
			unit := s.units[s.idx]
			s.opening = true
			s.logger.Debug().
				Int("order", unit.Order).
				Bool("complete", unit.Complete).
				Bool("natural_pause", s.segmenter.IsNaturalPause(unit.Content)).
				Bool("ends_sentence", s.segmenter.EndsSentence(unit.Content)).
				Msg("Emitting segment")
			return Event{Kind: EventText, Unit: unit}, nil

		case !s.endSent:
			s.endSent = true
			s.finish()
			return Event{Kind: EventEnd}, nil

		default:
			return Event{}, io.EOF
		}
	}
}

// open issues the synthesis call for the current unit. It returns an event
// only when the call failed to open.
func (s *EventStream) open() (Event, bool, error) {
	unit := s.units[s.idx]
	s.opening = false

	src, err := s.synth.SynthesizeStream(s.ctx, s.template.WithText(unit.SynthesisText()))
	if err != nil {
		if cerr := s.ctx.Err(); cerr != nil {
			return Event{}, false, s.abort(cerr)
		}
		return s.unitFailed(unit, err), true, nil
	}
	s.src = src
	return Event{}, false, nil
}

// relay pulls one chunk from the in-flight call. It returns an event for
// a chunk or a failure, and nothing when the unit completed normally.
func (s *EventStream) relay() (Event, bool, error) {
	unit := s.units[s.idx]
	chunk, err := s.src.Next()
	if err == nil {
		ev := Event{Kind: EventAudio, Unit: unit, Audio: chunk.Copy()}
		chunk.Release()
		return ev, true, nil
	}

	s.src.Close()
	s.src = nil

	if errors.Is(err, io.EOF) {
		s.idx++
		observability.RecordSegment("ok")
		return Event{}, false, nil
	}
	if cerr := s.ctx.Err(); cerr != nil {
		return Event{}, false, s.abort(cerr)
	}
	return s.unitFailed(unit, err), true, nil
}

func (s *EventStream) unitFailed(unit segment.Unit, err error) Event {
	s.idx++
	observability.RecordSegment("error")
	observability.RecordError(errorType(err), "streaming")
	s.logger.Warn().Err(err).Int("order", unit.Order).Msg("Segment synthesis failed, continuing")
	return Event{
		Kind:    EventError,
		Unit:    unit,
		Message: fmt.Sprintf("segment %d: %v", unit.Order, err),
	}
}

// Close stops the stream and releases the in-flight call, if any. Safe to
// call more than once.
func (s *EventStream) Close() error {
	if s.err == nil {
		s.abort(ErrClosed)
	}
	return nil
}

// Each pulls every event and passes it to fn. It stops at the end of the
// stream, on a stream error, or when fn returns an error, and always
// closes the stream.
func (s *EventStream) Each(fn func(Event) error) error {
	defer s.Close()
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (s *EventStream) abort(err error) error {
	s.err = err
	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
	if !s.endSent && !errors.Is(err, ErrClosed) {
		s.logger.Debug().Err(err).Int("order", s.idx).Msg("Segmented stream cancelled")
	}
	s.finish()
	return err
}

func (s *EventStream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	observability.StreamFinished()
}

func errorType(err error) string {
	var be *synthesis.BackendError
	switch {
	case errors.Is(err, synthesis.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, synthesis.ErrStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, synthesis.ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &be):
		return "backend_error"
	default:
		return "other"
	}
}
