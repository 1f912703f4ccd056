// muxrpcd is a demo binary wiring a Dispatcher to a WebRTC data channel
// transport. Two instances signal out of band by pasting base64-encoded
// SDP at each other's terminal: the offering side (-offer) prints an
// offer and waits for an answer on stdin; the answering side reads an
// offer from stdin and prints its answer.
//
// Usage:
//
//	muxrpcd -offer
//	muxrpcd
//
// Options:
//
//	-offer  act as the offering (dialing) side (default: answering side)
//	-echo   register a demo "echo" service that replies with its request
package main

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/backkem/muxrpc/pkg/dispatch"
	"github.com/backkem/muxrpc/pkg/registry"
	"github.com/backkem/muxrpc/pkg/webrtctransport"
)

func main() {
	offer := flag.Bool("offer", false, "act as the offering (dialing) side")
	echo := flag.Bool("echo", false, `register a demo "echo" service`)
	flag.Parse()

	connID := uuid.New()
	loggerFactory := logging.NewDefaultLoggerFactory()
	log := loggerFactory.NewLogger("muxrpcd")
	log.Infof("connection id %s", connID)

	services := dispatch.NewStaticServiceRegistry()
	if *echo {
		services.Register("echo", func(serviceType, groupName string) (registry.ServiceHandler, bool) {
			return echoHandler{}, true
		})
	}

	d := dispatch.New(dispatch.Config{
		Services:      services,
		LoggerFactory: loggerFactory,
	})

	pc, err := webrtctransport.NewPeerConnection()
	if err != nil {
		log.Fatalf("create peer connection: %v", err)
	}
	defer pc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var conn *webrtctransport.Conn
	if *offer {
		conn, err = dialAndSignal(ctx, pc, d, loggerFactory)
	} else {
		conn, err = acceptAndSignal(ctx, pc, d, loggerFactory)
	}
	if err != nil {
		log.Fatalf("establish data channel: %v", err)
	}
	defer conn.Close()
	d.SetConn(conn)

	log.Info("data channel open, serving frames")
	<-ctx.Done()
	log.Info("shutting down")
	d.Teardown()
}

func dialAndSignal(ctx context.Context, pc *webrtc.PeerConnection, d *dispatch.Dispatcher, lf logging.LoggerFactory) (*webrtctransport.Conn, error) {
	connCh := make(chan *webrtctransport.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := webrtctransport.Dial(ctx, pc, d, webrtctransport.Config{LoggerFactory: lf})
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	fmt.Println("--- paste this offer to the answering side ---")
	fmt.Println(encodeSDP(*pc.LocalDescription()))
	fmt.Println("--- paste the answer below and press enter ---")

	answer, err := readSDP()
	if err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-errCh:
		return nil, err
	}
}

func acceptAndSignal(ctx context.Context, pc *webrtc.PeerConnection, d *dispatch.Dispatcher, lf logging.LoggerFactory) (*webrtctransport.Conn, error) {
	connCh := make(chan *webrtctransport.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := webrtctransport.Accept(ctx, pc, d, webrtctransport.Config{LoggerFactory: lf})
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	fmt.Println("--- paste the offer from the offering side and press enter ---")
	offer, err := readSDP()
	if err != nil {
		return nil, fmt.Errorf("read offer: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	fmt.Println("--- paste this answer back to the offering side ---")
	fmt.Println(encodeSDP(*pc.LocalDescription()))

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-errCh:
		return nil, err
	}
}

func encodeSDP(desc webrtc.SessionDescription) string {
	b, err := json.Marshal(desc)
	if err != nil {
		log.Fatalf("marshal sdp: %v", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		log.Fatalf("compress sdp: %v", err)
	}
	if err := zw.Close(); err != nil {
		log.Fatalf("compress sdp: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func readSDP() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return desc, err
	}
	raw, err := base64.StdEncoding.DecodeString(trimNewline(line))
	if err != nil {
		return desc, fmt.Errorf("decode base64: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return desc, fmt.Errorf("decompress sdp: %w", err)
	}
	defer zr.Close()
	b, err := io.ReadAll(zr)
	if err != nil {
		return desc, fmt.Errorf("decompress sdp: %w", err)
	}
	if err := json.Unmarshal(b, &desc); err != nil {
		return desc, fmt.Errorf("unmarshal sdp: %w", err)
	}
	return desc, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// echoHandler is a ServiceHandler that replies with exactly the request
// bytes it received, useful for manually exercising muxrpcd end to end.
type echoHandler struct{}

func (echoHandler) HandleRequest(body io.Reader) ([]byte, error) {
	return io.ReadAll(body)
}

func (echoHandler) Close() error { return nil }
