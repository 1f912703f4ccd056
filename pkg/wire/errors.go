package wire

import "errors"

// Wire-format decoding errors.
var (
	// ErrTruncated is returned when a frame ends before a required field
	// has been fully read.
	ErrTruncated = errors.New("wire: truncated frame")

	// ErrUnterminatedString is returned when a utf8z string is not
	// terminated by a NUL byte before the frame ends.
	ErrUnterminatedString = errors.New("wire: unterminated string")

	// ErrUnknownCommand is returned when a frame's command byte does not
	// match any defined Command.
	ErrUnknownCommand = errors.New("wire: unknown command byte")
)
