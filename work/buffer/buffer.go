package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers through valyala/bytebufferpool. Buffers
// are pre-grown to the configured size so that copying and chunk assembly rarely
// reallocate.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a BufferPool whose buffers start with bufferSize capacity.
func NewBufferPool(bufferSize int64) *BufferPool {
	return &BufferPool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves an empty buffer from the pool.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Put returns buf to the pool. buf must not be used afterwards.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// CopyBuffer returns a scratch slice of the configured size for io.CopyBuffer and the
// function that gives it back.
func (bp *BufferPool) CopyBuffer() ([]byte, func()) {
	buf := bp.Get()
	return buf.B[:bp.bufferSize], func() { bp.Put(buf) }
}
