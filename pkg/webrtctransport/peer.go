package webrtctransport

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/backkem/muxrpc/pkg/transport"
)

// ErrDataChannelTimeout is returned by Accept/Dial when the context is
// done before the data channel opens.
var ErrDataChannelTimeout = errors.New("webrtctransport: data channel did not open before context done")

const dataChannelLabel = "muxrpc"

// NewPeerConnection returns a PeerConnection using the default ICE
// configuration (no STUN/TURN servers configured — callers needing NAT
// traversal supply their own webrtc.Configuration via the lower-level pion
// API directly).
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{})
}

// Dial creates an ordered, reliable data channel labeled "muxrpc" on pc
// and blocks until it opens (or ctx is done), returning a Conn wrapping
// it. Call this on the offering side; since it blocks until the offer/answer
// exchange completes and the channel opens, callers run it on its own
// goroutine while they exchange SDP.
func Dial(ctx context.Context, pc *webrtc.PeerConnection, handler transport.FrameHandler, cfg Config) (*Conn, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return awaitOpen(ctx, dc, handler, cfg)
}

// Accept waits for the peer to create the "muxrpc" data channel (the
// answering side's counterpart to Dial) and blocks until it opens (or ctx
// is done), returning a Conn wrapping it.
func Accept(ctx context.Context, pc *webrtc.PeerConnection, handler transport.FrameHandler, cfg Config) (*Conn, error) {
	dcCh := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == dataChannelLabel {
			select {
			case dcCh <- dc:
			default:
			}
		}
	})

	select {
	case dc := <-dcCh:
		return awaitOpen(ctx, dc, handler, cfg)
	case <-ctx.Done():
		return nil, ErrDataChannelTimeout
	}
}

func awaitOpen(ctx context.Context, dc *webrtc.DataChannel, handler transport.FrameHandler, cfg Config) (*Conn, error) {
	openCh := make(chan struct{})
	dc.OnOpen(func() { close(openCh) })

	select {
	case <-openCh:
		return NewConn(dc, handler, cfg), nil
	case <-ctx.Done():
		return nil, ErrDataChannelTimeout
	}
}
