package dispatch

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/backkem/muxrpc/pkg/options"
	"github.com/backkem/muxrpc/pkg/registry"
	"github.com/backkem/muxrpc/pkg/transport"
	"github.com/backkem/muxrpc/pkg/wire"
)

var errMalformedOptions = errors.New("malformed option map")

// fakeConn records every buffer sent through it, finished into its wire
// bytes, and tracks whether Close was called.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeConn) SendBlocking(buf *transport.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := append([]byte(nil), buf.Finish()...)
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// payload strips the 4-byte length prefix from a frame recorded by
// fakeConn, leaving command byte + body.
func payload(frame []byte) []byte {
	return frame[transport.LengthPrefixSize:]
}

func newFrame(cmd wire.Command, body []byte) *bytes.Reader {
	return bytes.NewReader(append([]byte{byte(cmd)}, body...))
}

type fakeServiceHandler struct {
	handle func(body io.Reader) ([]byte, error)
	closed bool
}

func (h *fakeServiceHandler) HandleRequest(body io.Reader) ([]byte, error) {
	return h.handle(body)
}

func (h *fakeServiceHandler) Close() error {
	h.closed = true
	return nil
}

// fakeReplyHandler stands in for the real object decoder: it knows exactly
// how many bytes its one reply object occupies (readLen) and reads that
// many, the way a real marshaller reads a self-describing object rather
// than waiting for EOF that the protocol never promises.
type fakeReplyHandler struct {
	mu       sync.Mutex
	readLen  int
	replies  [][]byte
	excepts  int
	repliedC chan struct{}
}

func newFakeReplyHandler(readLen int) *fakeReplyHandler {
	return &fakeReplyHandler{readLen: readLen, repliedC: make(chan struct{}, 8)}
}

func (h *fakeReplyHandler) OnReply(r io.Reader) {
	b := make([]byte, h.readLen)
	io.ReadFull(r, b)
	h.mu.Lock()
	h.replies = append(h.replies, b)
	h.mu.Unlock()
	h.repliedC <- struct{}{}
}

func (h *fakeReplyHandler) OnException(r io.Reader) {
	io.ReadAll(r)
	h.mu.Lock()
	h.excepts++
	h.mu.Unlock()
	h.repliedC <- struct{}{}
}

func waitFor(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for signal %d/%d", i+1, n)
		}
	}
}

func serviceRequestBody(id uint32, serviceType, groupName string, opts options.Map) []byte {
	var body []byte
	body = wire.PutUint32(body, id)
	body = wire.PutUTF8Z(body, serviceType)
	body = wire.PutUTF8Z(body, groupName)
	body = options.Encode(body, opts)
	return body
}

// Scenario 1 (spec.md §8): service not found.
func TestScenario_ServiceNotFound(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.HandleFrame(newFrame(wire.ServiceRequest, serviceRequestBody(7, "foo", "grp", options.Map{})))

	frames := conn.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	want := append([]byte{byte(wire.ServiceNotFound)}, wire.PutUint32(nil, 7)...)
	if !bytes.Equal(payload(frames[0]), want) {
		t.Fatalf("sent %v, want %v", payload(frames[0]), want)
	}
	if d.outboundClients.Count() != 0 || d.inboundClients.Count() != 0 {
		t.Fatal("registries must be unchanged")
	}
}

// Scenario 2 (spec.md §8): service opened.
func TestScenario_ServiceOpened(t *testing.T) {
	services := NewStaticServiceRegistry()
	handler := &fakeServiceHandler{}
	services.Register("foo", func(string, string) (registry.ServiceHandler, bool) { return handler, true })

	d := New(Config{Services: services})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.HandleFrame(newFrame(wire.ServiceRequest, serviceRequestBody(7, "foo", "grp", options.Map{})))

	frames := conn.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	want := append([]byte{byte(wire.ServiceClientOpened)}, wire.PutUint32(nil, 7)...)
	if !bytes.Equal(payload(frames[0]), want) {
		t.Fatalf("sent %v, want %v", payload(frames[0]), want)
	}
	if d.inboundClients.Count() != 1 {
		t.Fatalf("inboundClients count = %d, want 1", d.inboundClients.Count())
	}
	client, ok := d.inboundClients.Get(7)
	if !ok || client.Handler != handler {
		t.Fatal("InboundClient(7) missing or wrong handler")
	}
}

// Scenario 3 (spec.md §8): multi-frame request then abort.
func TestScenario_MultiFrameRequestThenAbort(t *testing.T) {
	gotBody := make(chan []byte, 1)
	gotErr := make(chan error, 1)
	handler := &fakeServiceHandler{
		handle: func(body io.Reader) ([]byte, error) {
			b, err := io.ReadAll(body)
			gotBody <- b
			gotErr <- err
			return nil, err
		},
	}

	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)
	d.inboundClients.Put(7, registry.NewInboundClient(7, handler))

	firstBody := append(wire.PutUint32(nil, 0x10), byte(wire.FlagFirst))
	firstBody = append(firstBody, wire.PutUint32(nil, 7)...)
	firstBody = append(firstBody, "AB"...)
	d.HandleFrame(newFrame(wire.Request, firstBody))

	contBody := append(wire.PutUint32(nil, 0x10), 0x00)
	contBody = append(contBody, "CD"...)
	d.HandleFrame(newFrame(wire.Request, contBody))

	d.HandleFrame(newFrame(wire.RequestAbort, wire.PutUint32(nil, 0x10)))

	select {
	case b := <-gotBody:
		if string(b) != "ABCD" {
			t.Fatalf("worker read %q, want %q", b, "ABCD")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for worker body")
	}
	select {
	case err := <-gotErr:
		if err != errAbortedIO {
			t.Fatalf("worker err = %v, want errAbortedIO", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for worker error")
	}

	if d.inboundRequest.Count() != 0 {
		t.Fatalf("inboundRequest count = %d, want 0", d.inboundRequest.Count())
	}
}

// Scenario 4 (spec.md §8): reply with ack.
func TestScenario_ReplyWithAck(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	replyHandler := newFakeReplyHandler(2)
	req := registry.NewOutboundRequest(0x20, replyHandler)
	d.outboundRequest.Put(0x20, req)

	first := append(wire.PutUint32(nil, 0x20), byte(wire.FlagFirst))
	first = append(first, "X"...)
	d.HandleFrame(newFrame(wire.Reply, first))

	cont := append(wire.PutUint32(nil, 0x20), 0x00)
	cont = append(cont, "Y"...)
	d.HandleFrame(newFrame(wire.Reply, cont))

	waitFor(t, replyHandler.repliedC, 1)

	replyHandler.mu.Lock()
	got := replyHandler.replies
	replyHandler.mu.Unlock()
	if len(got) != 1 || string(got[0]) != "XY" {
		t.Fatalf("replies = %v, want [\"XY\"]", got)
	}

	var ackFrames int
	for _, f := range conn.frames() {
		if wire.Command(payload(f)[0]) == wire.ReplyAckChunk {
			ackFrames++
		}
	}
	if ackFrames != 2 {
		t.Fatalf("REPLY_ACK_CHUNK frames = %d, want 2", ackFrames)
	}
}

// Scenario 5 (spec.md §8): unknown-id keepalive.
func TestScenario_UnknownIDKeepalive(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.HandleFrame(newFrame(wire.StreamAck, wire.PutUint32(nil, 0xDEADBEEF)))

	if len(conn.frames()) != 0 {
		t.Fatalf("sent %d frames, want 0", len(conn.frames()))
	}
	if conn.isClosed() {
		t.Fatal("connection must remain open")
	}
}

// Scenario 6 (spec.md §8): invalid command closes the connection.
func TestScenario_InvalidCommandClosesConnection(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.HandleFrame(newFrame(wire.Command(0xFF), nil))

	if !conn.isClosed() {
		t.Fatal("connection should be closed on unknown command byte")
	}
	if len(conn.frames()) != 0 {
		t.Fatalf("sent %d frames, want 0", len(conn.frames()))
	}
}

// Boundary case: frame referring to a just-removed id must not recreate or
// panic.
func TestBoundary_FrameForRemovedID(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.outboundClients.Put(1, registry.NewOutboundClient("foo", "grp", nil))
	d.outboundClients.Remove(1)

	d.HandleFrame(newFrame(wire.ServiceClientOpened, wire.PutUint32(nil, 1)))

	if d.outboundClients.Count() != 0 {
		t.Fatal("ServiceClientOpened for a removed id must not recreate it")
	}
}

// Boundary case: REQUEST without FIRST for an unknown rid is dropped.
func TestBoundary_RequestWithoutFirstUnknownRid(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	body := append(wire.PutUint32(nil, 99), 0x00)
	d.HandleFrame(newFrame(wire.Request, body))

	if d.inboundRequest.Count() != 0 {
		t.Fatal("REQUEST without FIRST must not create an InboundRequest")
	}
}

// Boundary case: duplicate FIRST for an already-present rid is dropped,
// the existing entity is left untouched (spec.md §9 open question).
func TestBoundary_DuplicateFirstRequest(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	existing := registry.NewInboundRequest(0x10, 7)
	d.inboundRequest.Put(0x10, existing)

	first := append(wire.PutUint32(nil, 0x10), byte(wire.FlagFirst))
	first = append(first, wire.PutUint32(nil, 7)...)
	first = append(first, "new"...)
	d.HandleFrame(newFrame(wire.Request, first))

	got, ok := d.inboundRequest.Get(0x10)
	if !ok || got != existing {
		t.Fatal("duplicate FIRST must leave the existing InboundRequest untouched")
	}
}

// Boundary case: REPLY_EXCEPTION_ABORT before the first REPLY_EXCEPTION —
// byte input absent, reply handler absent — is a legal no-op.
func TestBoundary_ReplyExceptionAbortBeforeFirst(t *testing.T) {
	d := New(Config{})
	conn := &fakeConn{}
	d.SetConn(conn)

	// No OutboundRequest registered at all for this rid.
	d.HandleFrame(newFrame(wire.ReplyExceptionAbort, wire.PutUint32(nil, 0x30)))

	if conn.isClosed() {
		t.Fatal("connection must remain open")
	}
}

// Boundary case: marshalling of service-open options fails — engine must
// emit SERVICE_ERROR and free its buffer (freeing is structural: sendSimple
// always defers pool.Free).
func TestBoundary_OptionMapDecodeFailure(t *testing.T) {
	d := New(Config{Codec: options.FailingCodec(errMalformedOptions)})
	conn := &fakeConn{}
	d.SetConn(conn)

	d.HandleFrame(newFrame(wire.ServiceRequest, serviceRequestBody(5, "foo", "grp", options.Map{})))

	frames := conn.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if wire.Command(payload(frames[0])[0]) != wire.ServiceError {
		t.Fatalf("sent command %v, want SERVICE_ERROR", wire.Command(payload(frames[0])[0]))
	}
}
