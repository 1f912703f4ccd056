package dispatch

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/muxrpc/pkg/options"
	"github.com/backkem/muxrpc/pkg/registry"
	"github.com/backkem/muxrpc/pkg/transport"
	"github.com/backkem/muxrpc/pkg/wire"
)

// Dispatcher is the top-level frame dispatcher: one instance per live
// connection. It runs on the transport's single read goroutine — one
// frame in, side effects out, return — and exposes a handful of
// local-origination methods (OpenService, SubmitRequest, OpenStream,
// CloseOutboundClient) for the higher-level API this module treats as an
// external collaborator.
type Dispatcher struct {
	pool     transport.Pool
	services ServiceRegistry
	executor Executor
	codec    *options.Codec
	log      logging.LeveledLogger

	connMu sync.RWMutex
	conn   transport.Conn

	outboundClients *registry.Registry[*registry.OutboundClient]
	inboundClients  *registry.Registry[*registry.InboundClient]
	outboundRequest *registry.Registry[*registry.OutboundRequest]
	inboundRequest  *registry.Registry[*registry.InboundRequest]
	outboundStreams *registry.Registry[*registry.OutboundStream]
	inboundStreams  *registry.Registry[*registry.InboundStream]

	nextID atomic.Uint32

	lastSeen atomic.Int64 // unix nanos
}

// New returns a Dispatcher. Call SetConn before frames are delivered or
// local-origination methods are used.
func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		pool:            cfg.Pool,
		services:        cfg.Services,
		executor:        cfg.Executor,
		codec:           cfg.Codec,
		log:             cfg.LoggerFactory.NewLogger("dispatch"),
		outboundClients: registry.New[*registry.OutboundClient](),
		inboundClients:  registry.New[*registry.InboundClient](),
		outboundRequest: registry.New[*registry.OutboundRequest](),
		inboundRequest:  registry.New[*registry.InboundRequest](),
		outboundStreams: registry.New[*registry.OutboundStream](),
		inboundStreams:  registry.New[*registry.InboundStream](),
	}
	d.lastSeen.Store(time.Now().UnixNano())
	return d
}

// SetConn installs the transport used for originated replies and local
// requests. Must be called once before use.
func (d *Dispatcher) SetConn(conn transport.Conn) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	d.conn = conn
}

func (d *Dispatcher) getConn() transport.Conn {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return d.conn
}

// LastSeen returns the time of the most recently dispatched frame,
// including ALIVE frames. Callers use this for idle-disconnect policy; the
// dispatcher itself never disconnects on staleness.
func (d *Dispatcher) LastSeen() time.Time {
	return time.Unix(0, d.lastSeen.Load())
}

func (d *Dispatcher) nextOutboundID() uint32 {
	return d.nextID.Add(1)
}

// HandleFrame implements transport.FrameHandler. r is positioned at the
// command byte; the caller (a transport.Conn's read loop) has already
// validated and consumed the length prefix. One call processes exactly one
// frame and returns; the caller loops. HandleFrame never panics and never
// returns an error to its caller — invalid frames are handled internally
// per the error-handling design (unknown id: log and drop; unknown
// command: log and close).
func (d *Dispatcher) HandleFrame(r *bytes.Reader) {
	d.lastSeen.Store(time.Now().UnixNano())

	cmdByte, err := r.ReadByte()
	if err != nil {
		d.log.Warn("empty frame, closing connection")
		d.closeConn()
		return
	}
	cmd := wire.Command(cmdByte)

	switch cmd {
	case wire.ServiceRequest:
		d.handleServiceRequest(r)
	case wire.ServiceNotFound:
		d.handleServiceTerminal(r, registry.ErrServiceNotFound)
	case wire.ServiceError:
		d.handleServiceTerminal(r, registry.ErrServiceOpenFailed)
	case wire.ServiceClientOpened:
		d.handleServiceClientOpened(r)
	case wire.ChannelClose:
		d.handleChannelClose(r)
	case wire.ClientAsyncClose:
		d.handleClientAsyncClose(r)
	case wire.Request:
		d.handleRequest(r)
	case wire.RequestAbort:
		d.handleRequestAbort(r)
	case wire.RequestAckChunk:
		d.handleRequestAckChunk(r)
	case wire.Reply:
		d.handleReply(r, false)
	case wire.ReplyAckChunk:
		d.handleReplyAckChunk(r)
	case wire.ReplyException:
		d.handleReply(r, true)
	case wire.ReplyExceptionAbort:
		d.handleReplyExceptionAbort(r)
	case wire.Alive:
		// Liveness timer already updated above; nothing else to do.
	case wire.StreamData:
		d.handleStreamData(r)
	case wire.StreamClose:
		d.handleStreamClose(r)
	case wire.StreamException:
		d.handleStreamException(r)
	case wire.StreamAck:
		d.handleStreamAck(r)
	case wire.StreamAsyncStart:
		d.handleStreamAsync(r, (*registry.OutboundStream).MarkAsyncStart, "STREAM_ASYNC_START")
	case wire.StreamAsyncClose:
		d.handleStreamAsync(r, (*registry.OutboundStream).MarkAsyncClose, "STREAM_ASYNC_CLOSE")
	case wire.StreamAsyncException:
		d.handleStreamAsync(r, (*registry.OutboundStream).MarkAsyncException, "STREAM_ASYNC_EXCEPTION")
	default:
		d.log.Warnf("unknown command byte %#x, closing connection", cmdByte)
		d.closeConn()
	}
}

func (d *Dispatcher) closeConn() {
	if conn := d.getConn(); conn != nil {
		conn.Close()
	}
}

func readUint32(r *bytes.Reader) (uint32, bool) {
	var b [4]byte
	n, _ := r.Read(b[:])
	if n != 4 {
		return 0, false
	}
	v, _, ok := wire.Uint32(b[:])
	return v, ok
}

func readByte(r *bytes.Reader) (byte, bool) {
	b, err := r.ReadByte()
	return b, err == nil
}

func remaining(r *bytes.Reader) []byte {
	b := make([]byte, r.Len())
	r.Read(b)
	return b
}

// sendSimple composes a frame carrying only cmd and id into a pooled
// buffer and sends it blocking, freeing the buffer on every exit path.
func (d *Dispatcher) sendSimple(cmd wire.Command, id uint32) {
	conn := d.getConn()
	if conn == nil {
		return
	}
	buf := d.pool.Allocate()
	defer d.pool.Free(buf)

	buf.WriteLengthPlaceholder()
	buf.WriteByte(byte(cmd))
	buf.WriteUint32(id)

	if err := conn.SendBlocking(buf); err != nil {
		d.log.Warnf("send %s(%d) failed: %v", cmd, id, err)
	}
}

// Teardown cancels every in-flight entity: every registry is iterated,
// every byte input is terminated with a connection-closed exception, and
// every local handler is closed. Call this once, when the underlying
// transport reports the connection has gone away.
func (d *Dispatcher) Teardown() {
	d.outboundClients.Each(func(_ uint32, c *registry.OutboundClient) {
		c.Fail(errConnectionClosed)
	})
	d.inboundClients.Each(func(_ uint32, c *registry.InboundClient) {
		if c.Handler != nil {
			c.Handler.Close()
		}
	})
	d.outboundRequest.Each(func(_ uint32, req *registry.OutboundRequest) {
		if sink := req.ByteInput(); sink != nil {
			sink.PushErr(errConnectionClosed)
		}
	})
	d.inboundRequest.Each(func(_ uint32, req *registry.InboundRequest) {
		if sink := req.ByteInput(); sink != nil {
			sink.PushErr(errConnectionClosed)
		}
	})
	d.inboundStreams.Each(func(_ uint32, s *registry.InboundStream) {
		if s.Receiver != nil {
			s.Receiver.PushErr(errConnectionClosed)
		}
	})
}

var _ transport.FrameHandler = (*Dispatcher)(nil)
