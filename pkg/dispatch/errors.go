package dispatch

import "errors"

// Dispatcher errors.
var (
	// ErrClientNotEstablished is returned by SubmitRequest when the target
	// OutboundClient is not in the ESTABLISHED state.
	ErrClientNotEstablished = errors.New("dispatch: client not established")

	// ErrClientNotFound is returned by SubmitRequest and CloseOutboundClient
	// when the given client id is not registered.
	ErrClientNotFound = errors.New("dispatch: client not found")

	// ErrNoConn is returned by local-origination methods when the
	// dispatcher has no transport.Conn installed yet.
	ErrNoConn = errors.New("dispatch: no connection installed")

	// errAbortedIO is pushed into an InboundRequest's byte input on
	// REQUEST_ABORT.
	errAbortedIO = errors.New("dispatch: request aborted by peer")

	// errReplyExceptionAborted is pushed into an OutboundRequest's byte
	// input, and surfaced to its reply handler, on REPLY_EXCEPTION_ABORT.
	errReplyExceptionAborted = errors.New("dispatch: reply exception aborted by peer")

	// errConnectionClosed terminates every in-flight byte input on
	// connection teardown.
	errConnectionClosed = errors.New("dispatch: connection closed")

	// errStreamException is pushed into an InboundStream's receiver on
	// STREAM_EXCEPTION.
	errStreamException = errors.New("dispatch: stream exception from peer")
)
