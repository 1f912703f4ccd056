package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNoHandler is returned when no frame handler is configured.
	ErrNoHandler = errors.New("transport: no frame handler configured")

	// ErrSendFailed is returned when sending a frame fails.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrFrameTooLarge reports a frame that exceeds the maximum size.
	// StreamConn.Serve reports an oversized length prefix as
	// ErrInvalidLengthPrefix instead.
	ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

	// ErrInvalidLengthPrefix is returned when a stream length prefix is zero
	// or larger than DefaultMaxFrameSize.
	ErrInvalidLengthPrefix = errors.New("transport: invalid length prefix")
)
