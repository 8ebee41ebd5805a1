package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/observability"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("synthesis stream closed")

// chunkStream yields the response body of one backend call. Each Read
// becomes one chunk backed by a pooled buffer.
type chunkStream struct {
	parent  context.Context
	callCtx context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	size    int64
	pool    *audio.BufferPool
	metrics *observability.CallMetrics
	logger  zerolog.Logger

	chunks int
	err    error // terminal result, repeated on every later Next
}

// Next returns the next chunk, io.EOF at a clean end of body,
// ErrStreamInterrupted if the body was cut short, or ErrBackendUnavailable
// if the call timed out mid-body.
func (s *chunkStream) Next() (*audio.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}

	for {
		buf := s.pool.Get()
		n, err := s.body.Read(buf)
		if n > 0 {
			if err != nil {
				// deliver the data now, report the error on the next call
				s.finish(s.readError(err))
			}
			s.chunks++
			s.metrics.RecordChunk(n)
			return audio.NewPooledChunk(s.pool, buf, n), nil
		}
		s.pool.Put(buf)
		if err != nil {
			s.finish(s.readError(err))
			return nil, s.err
		}
	}
}

// SizeHint returns the Content-Length of the response, or -1
func (s *chunkStream) SizeHint() int64 {
	return s.size
}

// Close releases the response body and the call's timeout. Safe to call
// more than once and after the stream has ended.
func (s *chunkStream) Close() error {
	if s.err == nil {
		s.finish(ErrStreamClosed)
	}
	return nil
}

func (s *chunkStream) readError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if s.parent.Err() != nil || s.callCtx.Err() != nil {
		return classify(s.parent, s.callCtx, err)
	}
	return fmt.Errorf("%w after %d chunks: %w", ErrStreamInterrupted, s.chunks, err)
}

func (s *chunkStream) finish(err error) {
	s.err = err
	s.body.Close()
	s.cancel()

	status := statusOf(err)
	if errors.Is(err, ErrStreamClosed) {
		status = "abandoned"
	}
	s.metrics.RecordEnd(status)

	switch status {
	case "ok":
		s.logger.Debug().Int("chunks", s.chunks).Msg("Synthesis stream complete")
		return
	case "abandoned", "cancelled":
		s.logger.Debug().Int("chunks", s.chunks).Str("status", status).Msg("Synthesis stream stopped by consumer")
		return
	}
	s.logger.Warn().Err(err).Int("chunks", s.chunks).Str("status", status).Msg("Synthesis stream ended early")
}
