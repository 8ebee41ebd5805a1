package audio

import (
	"sync"
)

// BufferPool hands out fixed-size read buffers for network chunks. It is
// safe for concurrent use and is shared by every synthesis call.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size in bytes
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size returns the capacity of each buffer
func (p *BufferPool) Size() int {
	return p.size
}

// Get returns a buffer of Size bytes
func (p *BufferPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// Chunk is one piece of a streamed audio response. Its bytes are owned by
// the transport until Release is called; after that Bytes returns nil.
type Chunk struct {
	mu       sync.Mutex
	data     []byte
	buf      []byte
	pool     *BufferPool
	released bool
}

// NewChunk wraps data that is not backed by a pool
func NewChunk(data []byte) *Chunk {
	return &Chunk{data: data}
}

// NewPooledChunk wraps the first n bytes of buf, which came from pool
func NewPooledChunk(pool *BufferPool, buf []byte, n int) *Chunk {
	return &Chunk{data: buf[:n], buf: buf, pool: pool}
}

// Bytes returns the chunk data, or nil once the chunk has been released
func (c *Chunk) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Len returns the number of bytes in the chunk
func (c *Chunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Copy returns a private copy of the chunk data
func (c *Chunk) Copy() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Release hands the backing buffer back to its pool. Safe to call more than once.
func (c *Chunk) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil && c.buf != nil {
		c.pool.Put(c.buf)
	}
	c.data = nil
	c.buf = nil
	c.pool = nil
	c.released = true
}

// Released reports whether Release has been called
func (c *Chunk) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// ChunkSource is a finite, pull-based sequence of chunks. Next returns
// io.EOF once the sequence has ended normally; a source is not restartable.
type ChunkSource interface {
	Next() (*Chunk, error)
	Close() error
}

// SizeHinter is implemented by sources that know their total size in
// advance (for example from a Content-Length header). A negative value
// means unknown.
type SizeHinter interface {
	SizeHint() int64
}
