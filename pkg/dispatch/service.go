package dispatch

import (
	"sync"

	"github.com/backkem/muxrpc/pkg/registry"
)

// ServiceRegistry resolves a SERVICE_REQUEST to a local handler, the
// `openService(type, group)` collaborator.
type ServiceRegistry interface {
	OpenService(serviceType, groupName string) (registry.ServiceHandler, bool)
}

// ServiceFunc opens a new ServiceHandler for one accepted SERVICE_REQUEST.
type ServiceFunc func(serviceType, groupName string) (registry.ServiceHandler, bool)

// StaticServiceRegistry resolves services from a fixed, registered-at-setup
// map keyed by serviceType. It ignores groupName beyond passing it to the
// factory, matching the spec's `openService(type, group)` signature.
type StaticServiceRegistry struct {
	mu        sync.RWMutex
	factories map[string]ServiceFunc
}

// NewStaticServiceRegistry returns an empty StaticServiceRegistry.
func NewStaticServiceRegistry() *StaticServiceRegistry {
	return &StaticServiceRegistry{factories: make(map[string]ServiceFunc)}
}

// Register installs fn as the factory for serviceType.
func (s *StaticServiceRegistry) Register(serviceType string, fn ServiceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[serviceType] = fn
}

// OpenService implements ServiceRegistry.
func (s *StaticServiceRegistry) OpenService(serviceType, groupName string) (registry.ServiceHandler, bool) {
	s.mu.RLock()
	fn, ok := s.factories[serviceType]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(serviceType, groupName)
}
