package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/danmuck/peerwire/internal/sysinfo"
	"github.com/danmuck/peerwire/internal/wire"
)

// IdentityCallback receives the decoded peer record, or the terminal error if
// the exchange failed. Exactly one of the two is meaningful per invocation.
type IdentityCallback func(rec sysinfo.Record, err error)

// HostIdentity exchanges advisory host-identity records. Both sides transmit
// their own record; a request instance frames it with a full header while a
// responder emits only the raw JSON payload, since the peer already consumed
// a header for this connection.
type HostIdentity struct {
	mu       sync.Mutex
	out      []byte
	buf      bytes.Buffer
	callback IdentityCallback
	done     bool
}

// NewIdentityRequest builds the client-side instance with a fully framed
// outbound identity record.
func NewIdentityRequest(cb IdentityCallback) (*HostIdentity, error) {
	body, err := json.Marshal(sysinfo.Collect())
	if err != nil {
		return nil, fmt.Errorf("payload: encode identity record: %w", err)
	}
	header := wire.Header{
		wire.KeyContentProtocol: NameHostIdentity,
		wire.KeyContentSize:     len(body),
	}
	hb, err := wire.EncodeHeader(header)
	if err != nil {
		return nil, err
	}
	return &HostIdentity{out: append(hb, body...), callback: cb}, nil
}

// NewIdentityResponder builds the server-side instance from the received
// header; its response carries no header of its own.
func NewIdentityResponder(_ wire.Header) (*HostIdentity, error) {
	body, err := json.Marshal(sysinfo.Collect())
	if err != nil {
		return nil, fmt.Errorf("payload: encode identity record: %w", err)
	}
	return &HostIdentity{out: body}, nil
}

// Read returns the prepared outbound bytes once.
func (p *HostIdentity) Read() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.out = nil
	return out, nil
}

// Receive accumulates the peer's identity bytes.
func (p *HostIdentity) Receive(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(data)
	return nil
}

// Complete decodes the accumulated peer record and fires the callback.
// Subsequent calls are no-ops.
func (p *HostIdentity) Complete() error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	raw := p.buf.Bytes()
	cb := p.callback
	p.mu.Unlock()

	if len(raw) == 0 || cb == nil {
		return nil
	}
	var rec sysinfo.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		err = fmt.Errorf("payload: decode peer identity: %w", err)
		cb(sysinfo.Record{}, err)
		return err
	}
	cb(rec, nil)
	return nil
}

// Fail reports the terminal error through the callback.
func (p *HostIdentity) Fail(cause error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	cb := p.callback
	p.mu.Unlock()

	if cb != nil {
		cb(sysinfo.Record{}, cause)
	}
}

func (p *HostIdentity) HasResponse() bool { return true }
