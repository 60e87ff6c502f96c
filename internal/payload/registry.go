package payload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/peerwire/internal/wire"
)

var ErrUnknownProtocol = errors.New("payload: unknown protocol")

// Registry maps content-protocol names to receive-side factories. It is an
// explicit object handed to connection managers rather than package state, so
// tests can substitute fakes. Populated once at startup; safe for concurrent
// reads afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the two stock protocols bound.
// Received files land under downloadDir.
func NewDefaultRegistry(downloadDir string) *Registry {
	r := NewRegistry()
	r.Register(NameFileTransfer, func(h wire.Header) (Protocol, error) {
		return NewFileReceiver(h, downloadDir, nil)
	})
	r.Register(NameHostIdentity, func(h wire.Header) (Protocol, error) {
		return NewIdentityResponder(h)
	})
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve looks up the factory for name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return f, nil
}
