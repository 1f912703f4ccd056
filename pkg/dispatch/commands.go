package dispatch

import (
	"bytes"
	"io"

	"github.com/backkem/muxrpc/pkg/chunked"
	"github.com/backkem/muxrpc/pkg/options"
	"github.com/backkem/muxrpc/pkg/registry"
	"github.com/backkem/muxrpc/pkg/wire"
)

// handleServiceRequest implements §4.1.1: parse id/serviceType/groupName/
// OptionMap, call openService, reply with exactly one of
// SERVICE_ERROR/SERVICE_NOT_FOUND/SERVICE_CLIENT_OPENED.
func (d *Dispatcher) handleServiceRequest(r *bytes.Reader) {
	id, ok := readUint32(r)
	if !ok {
		d.log.Warn("SERVICE_REQUEST: truncated frame")
		return
	}
	serviceType, ok := readUTF8ZFrom(r)
	if !ok {
		d.log.Warn("SERVICE_REQUEST: truncated serviceType")
		return
	}
	groupName, ok := readUTF8ZFrom(r)
	if !ok {
		d.log.Warn("SERVICE_REQUEST: truncated groupName")
		return
	}

	if _, err := options.Decode(d.codec, r); err != nil {
		d.log.Warnf("SERVICE_REQUEST: option map decode failed: %v", err)
		d.sendSimple(wire.ServiceError, id)
		return
	}

	handler, ok := d.services.OpenService(serviceType, groupName)
	if !ok {
		d.sendSimple(wire.ServiceNotFound, id)
		return
	}

	client := registry.NewInboundClient(id, handler)
	d.inboundClients.Put(id, client)
	d.sendSimple(wire.ServiceClientOpened, id)
}

func readUTF8ZFrom(r *bytes.Reader) (string, bool) {
	rest := remaining(r)
	s, tail, ok := wire.UTF8Z(rest)
	if !ok {
		return "", false
	}
	// Put back whatever wasn't consumed by the string.
	*r = *bytes.NewReader(tail)
	return s, true
}

// handleServiceTerminal implements SERVICE_NOT_FOUND and SERVICE_ERROR:
// remove the OutboundClient and fail its result slot.
func (d *Dispatcher) handleServiceTerminal(r *bytes.Reader, reason error) {
	id, ok := readUint32(r)
	if !ok {
		d.log.Warn("service-terminal frame: truncated")
		return
	}
	client, found := d.outboundClients.Remove(id)
	if !found {
		d.log.Tracef("service-terminal frame for unknown id %d, dropping", id)
		return
	}
	client.Fail(reason)
}

func (d *Dispatcher) handleServiceClientOpened(r *bytes.Reader) {
	id, ok := readUint32(r)
	if !ok {
		d.log.Warn("SERVICE_CLIENT_OPENED: truncated frame")
		return
	}
	client, found := d.outboundClients.Get(id)
	if !found {
		d.log.Tracef("SERVICE_CLIENT_OPENED for unknown id %d, dropping", id)
		return
	}
	client.Establish(&clientHandle{d: d, id: id})
}

func (d *Dispatcher) handleChannelClose(r *bytes.Reader) {
	id, ok := readUint32(r)
	if !ok {
		d.log.Warn("CHANNEL_CLOSE: truncated frame")
		return
	}
	client, found := d.inboundClients.Remove(id)
	if !found {
		d.log.Tracef("CHANNEL_CLOSE for unknown id %d, dropping", id)
		return
	}
	if client.Handler != nil {
		client.Handler.Close()
	}
}

func (d *Dispatcher) handleClientAsyncClose(r *bytes.Reader) {
	id, ok := readUint32(r)
	if !ok {
		d.log.Warn("CLIENT_ASYNC_CLOSE: truncated frame")
		return
	}
	client, found := d.outboundClients.Remove(id)
	if !found {
		d.log.Tracef("CLIENT_ASYNC_CLOSE for unknown id %d, dropping", id)
		return
	}
	if handler := client.Close(); handler != nil {
		handler.Close()
	}
}

// handleRequest implements §4.1.2.
func (d *Dispatcher) handleRequest(r *bytes.Reader) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REQUEST: truncated frame")
		return
	}
	flagByte, ok := readByte(r)
	if !ok {
		d.log.Warn("REQUEST: truncated frame")
		return
	}
	flags := wire.Flags(flagByte)

	var req *registry.InboundRequest
	if flags.First() {
		cid, ok := readUint32(r)
		if !ok {
			d.log.Warn("REQUEST: truncated FIRST frame")
			return
		}
		req = registry.NewInboundRequest(rid, cid)
		if !d.inboundRequest.PutIfAbsent(rid, req) {
			d.log.Warnf("REQUEST: duplicate FIRST frame for rid %d, dropping", rid)
			return
		}
		sink := chunked.NewAckReader(func() { d.sendSimple(wire.RequestAckChunk, rid) })
		req.InstallByteInput(sink)
		d.executor.Execute(func() { d.runInboundRequestTask(req) })
	} else {
		var found bool
		req, found = d.inboundRequest.Get(rid)
		if !found {
			d.log.Tracef("REQUEST: unknown rid %d, dropping", rid)
			return
		}
	}

	payload := remaining(r)
	if sink := req.ByteInput(); sink != nil {
		sink.Push(payload)
	}
}

func (d *Dispatcher) runInboundRequestTask(req *registry.InboundRequest) {
	defer d.inboundRequest.Remove(req.ID)

	client, found := d.inboundClients.Get(req.ClientID)
	if !found {
		return
	}

	reply, err := client.Handler.HandleRequest(req.ByteInput())
	if err != nil {
		d.sendPayload(wire.ReplyException, req.ID, reply)
		return
	}
	d.sendPayload(wire.Reply, req.ID, reply)
}

func (d *Dispatcher) handleRequestAbort(r *bytes.Reader) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REQUEST_ABORT: truncated frame")
		return
	}
	req, found := d.inboundRequest.Remove(rid)
	if !found {
		d.log.Tracef("REQUEST_ABORT for unknown rid %d, dropping", rid)
		return
	}
	if sink := req.ByteInput(); sink != nil {
		sink.PushErr(errAbortedIO)
	}
}

func (d *Dispatcher) handleRequestAckChunk(r *bytes.Reader) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REQUEST_ACK_CHUNK: truncated frame")
		return
	}
	req, found := d.outboundRequest.Get(rid)
	if !found {
		d.log.Tracef("REQUEST_ACK_CHUNK for unknown rid %d, dropping", rid)
		return
	}
	req.IncrementAck()
}

// handleReply implements §4.1.3 for both REPLY and REPLY_EXCEPTION.
func (d *Dispatcher) handleReply(r *bytes.Reader, isException bool) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REPLY: truncated frame")
		return
	}
	flagByte, ok := readByte(r)
	if !ok {
		d.log.Warn("REPLY: truncated frame")
		return
	}
	flags := wire.Flags(flagByte)

	req, found := d.outboundRequest.Get(rid)
	if !found {
		d.log.Tracef("REPLY for unknown rid %d, dropping", rid)
		return
	}

	if flags.First() {
		sink := chunked.NewAckReader(func() { d.sendSimple(wire.ReplyAckChunk, rid) })
		if req.InstallByteInput(sink) {
			d.executor.Execute(func() { d.runReplyTask(req, sink, isException) })
		}
	}

	payload := remaining(r)
	if sink := req.ByteInput(); sink != nil {
		sink.Push(payload)
	}
}

func (d *Dispatcher) runReplyTask(req *registry.OutboundRequest, sink io.Reader, isException bool) {
	defer d.outboundRequest.Remove(req.ID)
	if req.Handler == nil {
		io.ReadAll(sink)
		return
	}
	if isException {
		req.Handler.OnException(sink)
		return
	}
	req.Handler.OnReply(sink)
}

func (d *Dispatcher) handleReplyAckChunk(r *bytes.Reader) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REPLY_ACK_CHUNK: truncated frame")
		return
	}
	req, found := d.inboundRequest.Get(rid)
	if !found {
		d.log.Tracef("REPLY_ACK_CHUNK for unknown rid %d, dropping", rid)
		return
	}
	req.IncrementAck()
}

func (d *Dispatcher) handleReplyExceptionAbort(r *bytes.Reader) {
	rid, ok := readUint32(r)
	if !ok {
		d.log.Warn("REPLY_EXCEPTION_ABORT: truncated frame")
		return
	}
	req, found := d.outboundRequest.Get(rid)
	if !found {
		// Byte input absent, reply handler absent: no-op is legal (§8
		// boundary case).
		d.log.Tracef("REPLY_EXCEPTION_ABORT for unknown rid %d, dropping", rid)
		return
	}
	if sink := req.ByteInput(); sink != nil {
		sink.PushErr(errReplyExceptionAborted)
	}
	if req.Handler != nil {
		aborted := chunked.NewReader(nil)
		aborted.PushErr(errReplyExceptionAborted)
		req.Handler.OnException(aborted)
	}
}

func (d *Dispatcher) handleStreamData(r *bytes.Reader) {
	sid, ok := readUint32(r)
	if !ok {
		d.log.Warn("STREAM_DATA: truncated frame")
		return
	}
	stream, found := d.inboundStreams.Get(sid)
	if !found {
		d.log.Tracef("STREAM_DATA for unknown sid %d, dropping", sid)
		return
	}
	stream.Receiver.Push(remaining(r))
}

func (d *Dispatcher) handleStreamClose(r *bytes.Reader) {
	sid, ok := readUint32(r)
	if !ok {
		d.log.Warn("STREAM_CLOSE: truncated frame")
		return
	}
	stream, found := d.inboundStreams.Remove(sid)
	if !found {
		d.log.Tracef("STREAM_CLOSE for unknown sid %d, dropping", sid)
		return
	}
	stream.Receiver.PushEOF()
}

func (d *Dispatcher) handleStreamException(r *bytes.Reader) {
	sid, ok := readUint32(r)
	if !ok {
		d.log.Warn("STREAM_EXCEPTION: truncated frame")
		return
	}
	stream, found := d.inboundStreams.Remove(sid)
	if !found {
		d.log.Tracef("STREAM_EXCEPTION for unknown sid %d, dropping", sid)
		return
	}
	stream.Receiver.PushErr(errStreamException)
}

func (d *Dispatcher) handleStreamAck(r *bytes.Reader) {
	sid, ok := readUint32(r)
	if !ok {
		d.log.Warn("STREAM_ACK: truncated frame")
		return
	}
	stream, found := d.outboundStreams.Get(sid)
	if !found {
		d.log.Warnf("STREAM_ACK for unknown sid %d, dropping", sid)
		return
	}
	stream.IncrementAck()
}

func (d *Dispatcher) handleStreamAsync(r *bytes.Reader, mark func(*registry.OutboundStream), label string) {
	sid, ok := readUint32(r)
	if !ok {
		d.log.Warnf("%s: truncated frame", label)
		return
	}
	stream, found := d.outboundStreams.Get(sid)
	if !found {
		d.log.Tracef("%s for unknown sid %d, dropping", label, sid)
		return
	}
	mark(stream)
}

// sendPayload composes a frame carrying cmd, id, and payload into a pooled
// buffer and sends it blocking, freeing the buffer on every exit path.
func (d *Dispatcher) sendPayload(cmd wire.Command, id uint32, payload []byte) {
	conn := d.getConn()
	if conn == nil {
		return
	}
	buf := d.pool.Allocate()
	defer d.pool.Free(buf)

	buf.WriteLengthPlaceholder()
	buf.WriteByte(byte(cmd))
	buf.WriteUint32(id)
	// The reply carries the full payload in a single FIRST-flagged frame;
	// ack accounting is driven by the receiving side's byte input, not by
	// frame count, so a single frame is a valid (if degenerate) chunking.
	buf.WriteByte(byte(wire.FlagFirst))
	buf.Write(payload)

	if err := conn.SendBlocking(buf); err != nil {
		d.log.Warnf("send %s(%d) failed: %v", cmd, id, err)
	}
}

// clientHandle is the RequestHandler installed on an OutboundClient once
// SERVICE_CLIENT_OPENED arrives. Closing it emits CLIENT_ASYNC_CLOSE.
type clientHandle struct {
	d  *Dispatcher
	id uint32
}

func (h *clientHandle) Close() error {
	client, found := h.d.outboundClients.Remove(h.id)
	if !found {
		return nil
	}
	if handler := client.Close(); handler != nil {
		h.d.sendSimple(wire.ClientAsyncClose, h.id)
	}
	return nil
}
