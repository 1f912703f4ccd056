package registry

import (
	"io"
	"sync"
)

// ServiceHandler is the local handler a successful openService call
// produced for an InboundClient. HandleRequest is invoked by the worker
// task an InboundRequest spawns on its first frame, with the request's
// byte input as body; later frames are pushed into body while it reads.
// The returned bytes become the REPLY payload, or a non-nil error makes
// the reply a REPLY_EXCEPTION. CHANNEL_CLOSE closes it.
type ServiceHandler interface {
	HandleRequest(body io.Reader) ([]byte, error)
	Close() error
}

// RequestHandler is installed on an OutboundClient once SERVICE_CLIENT_OPENED
// arrives. It only supports Close, which CLIENT_ASYNC_CLOSE uses to close
// the client out; requests are submitted by client id, not through it.
type RequestHandler interface {
	Close() error
}

// ReplyHandler receives a decoded reply object or a decoded exception for
// one OutboundRequest.
type ReplyHandler interface {
	OnReply(r io.Reader)
	OnException(r io.Reader)
}

// ByteSink is a chunked byte input: Push/PushEOF/PushErr on the producer
// side, Read (blocking, io.Reader) on the consumer side. *chunked.Reader
// and *chunked.AckReader both satisfy this.
type ByteSink interface {
	io.Reader
	Push(chunk []byte)
	PushEOF()
	PushErr(err error)
}

// OpenResult is delivered to an OutboundClient's result slot exactly once:
// either Handler is set (service opened) or Err is set (not found / error).
type OpenResult struct {
	Handler RequestHandler
	Err     error
}

// OutboundClient tracks a local service-open request against a peer.
type OutboundClient struct {
	mu sync.Mutex

	ServiceType string
	GroupName   string

	state   ClientState
	handler RequestHandler

	// onResult, if set, is invoked exactly once with the outcome of the
	// service-open negotiation. Set by the request originator before the
	// SERVICE_REQUEST frame is sent.
	onResult func(OpenResult)
}

// NewOutboundClient returns a new OutboundClient in the WAITING state.
func NewOutboundClient(serviceType, groupName string, onResult func(OpenResult)) *OutboundClient {
	return &OutboundClient{
		ServiceType: serviceType,
		GroupName:   groupName,
		state:       Waiting,
		onResult:    onResult,
	}
}

// State returns the current state.
func (c *OutboundClient) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fail transitions WAITING -> CLOSED and delivers err to the result slot.
// A no-op if the client is not in WAITING (the peer may legitimately race
// a local close against its own terminal frame).
func (c *OutboundClient) Fail(err error) {
	c.mu.Lock()
	if c.state != Waiting {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	onResult := c.onResult
	c.mu.Unlock()

	if onResult != nil {
		onResult(OpenResult{Err: err})
	}
}

// Establish transitions WAITING -> ESTABLISHED, installs handler, and
// delivers it to the result slot.
func (c *OutboundClient) Establish(handler RequestHandler) {
	c.mu.Lock()
	if c.state != Waiting {
		c.mu.Unlock()
		return
	}
	c.state = Established
	c.handler = handler
	onResult := c.onResult
	c.mu.Unlock()

	if onResult != nil {
		onResult(OpenResult{Handler: handler})
	}
}

// Close transitions ESTABLISHED -> CLOSED and returns the installed
// handler so the caller can close it and emit CLIENT_ASYNC_CLOSE. Returns
// nil if the client was not ESTABLISHED.
func (c *OutboundClient) Close() RequestHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Established {
		return nil
	}
	c.state = Closed
	return c.handler
}

// InboundClient is the peer-visible side of a locally-opened service,
// created on SERVICE_REQUEST success.
type InboundClient struct {
	ID      uint32
	Handler ServiceHandler
}

// NewInboundClient returns a new InboundClient.
func NewInboundClient(id uint32, handler ServiceHandler) *InboundClient {
	return &InboundClient{ID: id, Handler: handler}
}

// OutboundRequest tracks a locally-submitted request awaiting a reply.
type OutboundRequest struct {
	mu sync.Mutex

	ID      uint32
	Handler ReplyHandler

	byteInput  ByteSink
	ackCounter int
}

// NewOutboundRequest returns a new OutboundRequest.
func NewOutboundRequest(id uint32, handler ReplyHandler) *OutboundRequest {
	return &OutboundRequest{ID: id, Handler: handler}
}

// InstallByteInput sets the byte input backing this request's reply
// stream. Called on the first REPLY/REPLY_EXCEPTION frame. A no-op if a
// byte input is already installed.
func (r *OutboundRequest) InstallByteInput(sink ByteSink) (installed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byteInput != nil {
		return false
	}
	r.byteInput = sink
	return true
}

// ByteInput returns the installed byte input, or nil if none has been
// installed yet.
func (r *OutboundRequest) ByteInput() ByteSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byteInput
}

// IncrementAck increments the chunk-ack counter and returns the new value.
func (r *OutboundRequest) IncrementAck() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ackCounter++
	return r.ackCounter
}

// InboundRequest tracks a peer-submitted request being serviced locally.
type InboundRequest struct {
	mu sync.Mutex

	ID       uint32
	ClientID uint32

	byteInput  ByteSink
	ackCounter int
}

// NewInboundRequest returns a new InboundRequest bound to rid and cid.
func NewInboundRequest(rid, cid uint32) *InboundRequest {
	return &InboundRequest{ID: rid, ClientID: cid}
}

// InstallByteInput sets the byte input for this request's payload. Called
// once, on the first (FIRST-flagged) REQUEST frame.
func (r *InboundRequest) InstallByteInput(sink ByteSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byteInput = sink
}

// ByteInput returns the installed byte input, or nil if none has been
// installed yet.
func (r *InboundRequest) ByteInput() ByteSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byteInput
}

// IncrementAck increments the chunk-ack counter and returns the new value.
func (r *InboundRequest) IncrementAck() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ackCounter++
	return r.ackCounter
}

// InboundStream receives pushed chunks for a peer-initiated stream set up
// out-of-band.
type InboundStream struct {
	Receiver ByteSink
}

// NewInboundStream returns a new InboundStream delivering to receiver.
func NewInboundStream(receiver ByteSink) *InboundStream {
	return &InboundStream{Receiver: receiver}
}

// OutboundStream is a locally-initiated stream; it is stateless aside from
// its ack counter and async-event flags.
type OutboundStream struct {
	mu sync.Mutex

	ackCounter     int
	asyncStart     bool
	asyncClose     bool
	asyncException bool
}

// NewOutboundStream returns a new OutboundStream.
func NewOutboundStream() *OutboundStream {
	return &OutboundStream{}
}

// IncrementAck increments the chunk-ack counter and returns the new value.
func (s *OutboundStream) IncrementAck() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackCounter++
	return s.ackCounter
}

// MarkAsyncStart records STREAM_ASYNC_START.
func (s *OutboundStream) MarkAsyncStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncStart = true
}

// MarkAsyncClose records STREAM_ASYNC_CLOSE.
func (s *OutboundStream) MarkAsyncClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncClose = true
}

// MarkAsyncException records STREAM_ASYNC_EXCEPTION.
func (s *OutboundStream) MarkAsyncException() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncException = true
}

// AsyncFlags returns the current (asyncStart, asyncClose, asyncException)
// flags.
func (s *OutboundStream) AsyncFlags() (start, closeF, exception bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asyncStart, s.asyncClose, s.asyncException
}
