// Package webrtctransport implements the transport.Conn collaborator over
// an ordered, reliable pion/webrtc/v4 DataChannel. Unlike transport.StreamConn,
// frames are never length-prefixed: a DataChannel already preserves message
// boundaries (it carries SCTP underneath, the same way UDP does), so each
// Buffer is sent as exactly one DataChannel message and arrives as exactly
// one OnMessage callback — the length placeholder transport.Buffer reserves
// for byte-stream transports is simply never written to the wire here.
package webrtctransport

import (
	"bytes"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/backkem/muxrpc/pkg/transport"
)

// Config configures a Conn.
type Config struct {
	// LoggerFactory builds the connection's logger. Defaults to
	// logging.NewDefaultLoggerFactory() if nil.
	LoggerFactory logging.LoggerFactory
}

func (c Config) withDefaults() Config {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}

// Conn adapts a *webrtc.DataChannel, already ordered and reliable (the
// default for CreateDataChannel), into the transport.Conn contract.
type Conn struct {
	dc  *webrtc.DataChannel
	log logging.LeveledLogger

	closeOnce sync.Once
}

// NewConn wraps dc. handler's HandleFrame is invoked from dc's own
// OnMessage callback goroutine (pion's SCTP read loop), one call per
// DataChannel message, with the read cursor already positioned at the
// command byte.
func NewConn(dc *webrtc.DataChannel, handler transport.FrameHandler, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{dc: dc, log: cfg.LoggerFactory.NewLogger("webrtctransport")}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.log.Warn("dropping unexpected string DataChannel message")
			return
		}
		handler.HandleFrame(bytes.NewReader(msg.Data))
	})

	return c
}

// SendBlocking sends buf's payload (the length placeholder is never
// written; dc.Send delivers exactly these bytes as one message) and
// returns once the SCTP stack has accepted it. pion's Send is itself
// non-blocking at the API level but the dispatcher's send path treats it
// uniformly with transport.StreamConn's blocking socket write.
func (c *Conn) SendBlocking(buf *transport.Buffer) error {
	return c.dc.Send(buf.Payload())
}

// Close closes the underlying DataChannel. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.dc.Close()
	})
	return err
}

var _ transport.Conn = (*Conn)(nil)
