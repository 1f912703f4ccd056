// Package dispatch implements the frame dispatcher: the top-level routine
// that peels the command byte off a decoded frame, parses its fixed
// header, looks up the target entity, and drives that entity's state
// transition — plus the reply originator for service-open negotiation.
package dispatch

import (
	"github.com/pion/logging"

	"github.com/backkem/muxrpc/pkg/options"
	"github.com/backkem/muxrpc/pkg/transport"
)

// Config configures a Dispatcher.
type Config struct {
	// Pool allocates and recycles send buffers. Defaults to
	// transport.NewPool() if nil.
	Pool transport.Pool

	// Services resolves SERVICE_REQUEST to a local handler. Defaults to an
	// empty StaticServiceRegistry (every open fails with not-found) if
	// nil.
	Services ServiceRegistry

	// Executor runs worker tasks (request/reply/exception decoding).
	// Defaults to GoExecutor if nil.
	Executor Executor

	// Codec decodes the OptionMap carried by SERVICE_REQUEST. Defaults to
	// options.DefaultCodec if nil.
	Codec *options.Codec

	// LoggerFactory builds the dispatcher's logger. Defaults to
	// logging.NewDefaultLoggerFactory() if nil.
	LoggerFactory logging.LoggerFactory
}

func (c Config) withDefaults() Config {
	if c.Pool == nil {
		c.Pool = transport.NewPool()
	}
	if c.Services == nil {
		c.Services = NewStaticServiceRegistry()
	}
	if c.Executor == nil {
		c.Executor = GoExecutor{}
	}
	if c.Codec == nil {
		c.Codec = options.DefaultCodec
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}
