package transport

import (
	"encoding/binary"
	"sync"
)

// LengthPrefixSize is the width of the length prefix a Buffer reserves for
// stream transports that do not preserve message boundaries on their own
// (a TCP socket, a Pipe). Message-oriented transports (a WebRTC data
// channel) send Buffer.Payload() instead and never see the prefix.
const LengthPrefixSize = 4

// DefaultMaxFrameSize bounds how large a single inbound frame is allowed to
// be before a stream reader treats the length prefix as corrupt.
const DefaultMaxFrameSize = 1 << 20

// Buffer is a pooled, growable byte buffer used to compose a single
// outbound frame. Callers reserve a length placeholder, append the command
// byte and payload, then call Finish to patch in the final length — the
// "flip" step that turns a write buffer into a sendable one.
type Buffer struct {
	data []byte
}

// Reset empties the buffer for reuse without releasing its backing array.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// WriteLengthPlaceholder reserves the 4-byte length prefix. Call this
// first, before writing the command byte and payload.
func (b *Buffer) WriteLengthPlaceholder() {
	b.data = append(b.data, 0, 0, 0, 0)
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) {
	b.data = append(b.data, v)
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// Write appends raw bytes.
func (b *Buffer) Write(p []byte) {
	b.data = append(b.data, p...)
}

// Finish patches the reserved length placeholder with the size of
// everything written after it, and returns the complete wire
// representation (placeholder included) for a stream transport.
func (b *Buffer) Finish() []byte {
	binary.BigEndian.PutUint32(b.data[:LengthPrefixSize], uint32(len(b.data)-LengthPrefixSize))
	return b.data
}

// Payload returns everything written after the length placeholder, for
// message-oriented transports that frame on their own.
func (b *Buffer) Payload() []byte {
	return b.data[LengthPrefixSize:]
}

// Pool allocates and recycles Buffers. This mirrors the transport's buffer
// pool, an external collaborator in the protocol: allocate() -> buffer,
// free(buffer). Every buffer composed for sending must be returned to the
// pool on every exit path, success or failure.
type Pool interface {
	Allocate() *Buffer
	Free(buf *Buffer)
}

type syncPool struct {
	pool sync.Pool
}

// NewPool returns a Pool backed by sync.Pool.
func NewPool() Pool {
	return &syncPool{
		pool: sync.Pool{
			New: func() any {
				return &Buffer{data: make([]byte, 0, 256)}
			},
		},
	}
}

func (p *syncPool) Allocate() *Buffer {
	return p.pool.Get().(*Buffer)
}

func (p *syncPool) Free(buf *Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
