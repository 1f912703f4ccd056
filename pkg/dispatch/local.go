package dispatch

import (
	"github.com/backkem/muxrpc/pkg/options"
	"github.com/backkem/muxrpc/pkg/registry"
	"github.com/backkem/muxrpc/pkg/wire"
)

// OpenService originates a SERVICE_REQUEST for serviceType/groupName and
// registers an OutboundClient awaiting the peer's reply. onResult, if
// non-nil, is invoked exactly once with the negotiation's outcome, from
// whatever goroutine processes the terminal frame (SERVICE_NOT_FOUND,
// SERVICE_ERROR, or SERVICE_CLIENT_OPENED).
func (d *Dispatcher) OpenService(serviceType, groupName string, opts options.Map, onResult func(registry.OpenResult)) (id uint32, err error) {
	conn := d.getConn()
	if conn == nil {
		return 0, ErrNoConn
	}

	id = d.nextOutboundID()
	client := registry.NewOutboundClient(serviceType, groupName, onResult)
	d.outboundClients.Put(id, client)

	buf := d.pool.Allocate()
	defer d.pool.Free(buf)
	buf.WriteLengthPlaceholder()
	buf.WriteByte(byte(wire.ServiceRequest))
	buf.WriteUint32(id)
	var body []byte
	body = wire.PutUTF8Z(body, serviceType)
	body = wire.PutUTF8Z(body, groupName)
	body = options.Encode(body, opts)
	buf.Write(body)

	if err := conn.SendBlocking(buf); err != nil {
		d.outboundClients.Remove(id)
		return 0, err
	}
	return id, nil
}

// SubmitRequest originates a REQUEST against clientID, an OutboundClient
// that must be ESTABLISHED, carrying payload as a single FIRST-flagged
// frame. replyHandler receives the eventual REPLY or REPLY_EXCEPTION.
func (d *Dispatcher) SubmitRequest(clientID uint32, payload []byte, replyHandler registry.ReplyHandler) (rid uint32, err error) {
	conn := d.getConn()
	if conn == nil {
		return 0, ErrNoConn
	}

	client, found := d.outboundClients.Get(clientID)
	if !found {
		return 0, ErrClientNotFound
	}
	if !client.State().CanSend() {
		return 0, ErrClientNotEstablished
	}

	rid = d.nextOutboundID()
	req := registry.NewOutboundRequest(rid, replyHandler)
	d.outboundRequest.Put(rid, req)

	buf := d.pool.Allocate()
	defer d.pool.Free(buf)
	buf.WriteLengthPlaceholder()
	buf.WriteByte(byte(wire.Request))
	buf.WriteUint32(rid)
	buf.WriteByte(byte(wire.FlagFirst))
	buf.WriteUint32(clientID)
	buf.Write(payload)

	if err := conn.SendBlocking(buf); err != nil {
		d.outboundRequest.Remove(rid)
		return 0, err
	}
	return rid, nil
}

// CloseOutboundClient closes an ESTABLISHED OutboundClient and notifies
// the peer with CLIENT_ASYNC_CLOSE.
func (d *Dispatcher) CloseOutboundClient(id uint32) error {
	client, found := d.outboundClients.Get(id)
	if !found {
		return ErrClientNotFound
	}
	if handler := client.Close(); handler != nil {
		d.outboundClients.Remove(id)
		d.sendSimple(wire.ClientAsyncClose, id)
	}
	return nil
}

// OpenStream registers receiver as the InboundStream for sid, out-of-band
// setup performed by the higher-level API before the peer starts sending
// STREAM_DATA frames for that id.
func (d *Dispatcher) OpenStream(sid uint32, receiver registry.ByteSink) {
	d.inboundStreams.Put(sid, registry.NewInboundStream(receiver))
}

// NewOutboundStream registers and returns a new OutboundStream under sid
// for local use when originating a stream.
func (d *Dispatcher) NewOutboundStream(sid uint32) *registry.OutboundStream {
	s := registry.NewOutboundStream()
	d.outboundStreams.Put(sid, s)
	return s
}

