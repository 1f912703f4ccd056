package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

// Conn is the transport collaborator a dispatcher sends composed frames
// through. It intentionally knows nothing about commands, ids, or state
// machines — only how to move an already-finished Buffer to the peer.
type Conn interface {
	// SendBlocking sends buf and blocks until the write completes or fails.
	// The caller retains ownership of buf and must return it to its Pool.
	SendBlocking(buf *Buffer) error

	// Close closes the underlying connection.
	Close() error
}

// FrameHandler processes one decoded frame. r is positioned at the command
// byte; the length prefix has already been consumed.
type FrameHandler interface {
	HandleFrame(r *bytes.Reader)
}

// StreamConn adapts a length-prefixed net.Conn (a TCP socket, a Pipe) into
// the Conn contract and drives a read loop that decodes frames and hands
// them to a FrameHandler. SendBlocking holds a write lock so concurrent
// sends never interleave a partial frame; reads take no lock, as Serve is
// the only reader.
type StreamConn struct {
	conn    net.Conn
	handler FrameHandler
	log     logging.LeveledLogger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewStreamConn wraps conn. handler is invoked from Serve's goroutine for
// every fully-received frame.
func NewStreamConn(conn net.Conn, handler FrameHandler, log logging.LeveledLogger) *StreamConn {
	return &StreamConn{conn: conn, handler: handler, log: log}
}

// SendBlocking writes buf's complete wire representation, length prefix
// included, as a single net.Conn.Write call.
func (s *StreamConn) SendBlocking(buf *Buffer) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(buf.Finish())
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Serve reads length-prefixed frames until the connection closes or a
// frame's length prefix is invalid, and dispatches each to the
// FrameHandler. Blocking; callers run it in its own goroutine.
func (s *StreamConn) Serve() error {
	var lenBuf [LengthPrefixSize]byte
	for {
		if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > DefaultMaxFrameSize {
			if s.log != nil {
				s.log.Warnf("invalid frame length %d, closing connection", n)
			}
			s.Close()
			return ErrInvalidLengthPrefix
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(s.conn, frame); err != nil {
			return err
		}
		s.handler.HandleFrame(bytes.NewReader(frame))
	}
}
