package registry

import "errors"

// Service-open failure reasons delivered through OutboundClient.Fail.
var (
	ErrServiceNotFound   = errors.New("registry: service not found")
	ErrServiceOpenFailed = errors.New("registry: service open failed")
)
