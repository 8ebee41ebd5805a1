package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmptyStream is returned when aggregation over zero chunks was
	// required to produce a payload.
	ErrEmptyStream = errors.New("audio stream produced no chunks")

	// ErrBufferLimit is returned when the aggregated payload would exceed
	// the configured maximum in-memory size.
	ErrBufferLimit = errors.New("audio payload exceeds in-memory limit")
)

// Aggregator concatenates a chunk source into one buffer.
type Aggregator struct {
	// MaxSize bounds the aggregated payload in bytes. Zero means unbounded.
	MaxSize int64

	// RequireNonEmpty makes a source that yields no chunks an error.
	RequireNonEmpty bool
}

// Aggregate drains src and returns the concatenation of its chunks in
// arrival order. Each chunk is released right after its bytes are copied,
// so at most one transport buffer is held at a time. src is always closed.
//
// Aggregate blocks until src is exhausted. On any failure it returns a nil
// payload; partial audio is only available by consuming src directly.
func (a Aggregator) Aggregate(src ChunkSource) (_ []byte, err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close audio source: %w", cerr)
		}
	}()

	var buf bytes.Buffer
	if h, ok := src.(SizeHinter); ok {
		if hint := h.SizeHint(); hint > 0 && (a.MaxSize == 0 || hint <= a.MaxSize) {
			buf.Grow(int(hint))
		}
	}

	chunks := 0
	for {
		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		chunks++
		werr := a.appendChunk(&buf, chunk)
		chunk.Release()
		if werr != nil {
			return nil, werr
		}
	}

	if chunks == 0 && a.RequireNonEmpty {
		return nil, ErrEmptyStream
	}
	return buf.Bytes(), nil
}

func (a Aggregator) appendChunk(buf *bytes.Buffer, chunk *Chunk) error {
	data := chunk.Bytes()
	if a.MaxSize > 0 && int64(buf.Len()+len(data)) > a.MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrBufferLimit, a.MaxSize)
	}
	buf.Write(data)
	return nil
}
