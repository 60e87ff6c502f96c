// Package payload defines the pluggable payload-protocol contract driven by
// the connection state machine, the registry that resolves inbound protocol
// names, and the two stock protocols: bulk file transfer and host-identity
// exchange.
package payload

import (
	"github.com/danmuck/peerwire/internal/wire"
)

// Protocol names as they appear in the content-protocol header field.
const (
	NameFileTransfer = "FileTransfer"
	NameHostIdentity = "HostIdentity"
)

// Protocol is one pluggable exchange handler. The connection state machine
// drains Read for outbound bytes, feeds Receive with inbound payload bytes in
// strict arrival order, and calls Complete exactly once when the exchange
// finishes. Complete must be idempotent.
type Protocol interface {
	// Read returns the next outbound chunk, or an empty slice when nothing
	// more is currently available.
	Read() ([]byte, error)

	// Receive delivers the next inbound payload chunk.
	Receive(p []byte) error

	// Complete finishes the exchange and releases held resources.
	Complete() error

	// HasResponse reports whether the inbound phase must be followed by an
	// outbound response.
	HasResponse() bool
}

// Failer is optionally implemented by protocols that want to observe fatal
// per-connection errors before the connection is torn down.
type Failer interface {
	Fail(err error)
}

// Listener observes transfer progress and outcome. Callbacks run on the
// connection manager's loop goroutine; implementations needing to touch
// other threads must hand off themselves.
type Listener interface {
	OnProgress(fraction float64)
	OnComplete()
	OnFailure(err error)
}

// ListenerFuncs adapts closures to Listener; nil funcs are skipped.
type ListenerFuncs struct {
	Progress func(fraction float64)
	Complete func()
	Failure  func(err error)
}

func (l ListenerFuncs) OnProgress(fraction float64) {
	if l.Progress != nil {
		l.Progress(fraction)
	}
}

func (l ListenerFuncs) OnComplete() {
	if l.Complete != nil {
		l.Complete()
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}

// Factory constructs a receive-side Protocol from a decoded frame header.
type Factory func(h wire.Header) (Protocol, error)
