package conn

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/peerwire/internal/payload"
	"github.com/danmuck/peerwire/internal/wire"
)

var (
	ErrIncompleteFrame  = errors.New("conn: connection closed mid-frame")
	ErrTransferTimeout  = errors.New("conn: transfer idle deadline exceeded")
	ErrManagerClosed    = errors.New("conn: manager closed")
	ErrMachineCorrupted = errors.New("conn: state machine used after terminal state")
)

type phase uint8

const (
	phaseLength phase = iota
	phaseHeader
	phasePayload
	phaseWrite
	phaseResponse
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseLength:
		return "awaiting-length"
	case phaseHeader:
		return "awaiting-header"
	case phasePayload:
		return "awaiting-payload"
	case phaseWrite:
		return "awaiting-write"
	case phaseResponse:
		return "awaiting-response"
	case phaseDone:
		return "done"
	}
	return "unknown"
}

// Machine steps one connection through the frame lifecycle:
// length prefix -> header -> payload -> write (-> response for initiators).
// It is fed raw inbound bytes in arbitrary chunks and drained of outbound
// chunks; it owns no socket and is driven entirely by its caller, so it can
// be exercised without any I/O.
type Machine struct {
	registry  *payload.Registry
	proto     payload.Protocol
	protoName string

	phase     phase
	inbuf     []byte
	unwritten []byte

	headerLen   int
	header      wire.Header
	received    int64
	contentSize int64
	initiator   bool
}

// NewReceiveMachine builds the accept-side machine; the payload protocol is
// unknown until the header arrives and is resolved through reg.
func NewReceiveMachine(reg *payload.Registry) *Machine {
	return &Machine{registry: reg, phase: phaseLength, headerLen: -1}
}

// NewSendMachine builds the initiator-side machine, which starts in the write
// phase draining proto's prepared frame.
func NewSendMachine(proto payload.Protocol, name string) *Machine {
	return &Machine{
		proto:     proto,
		protoName: name,
		phase:     phaseWrite,
		headerLen: -1,
		initiator: true,
	}
}

// Feed consumes inbound bytes. Chunk boundaries carry no meaning: the machine
// accumulates until each stage's requirement is met. Any returned error is
// fatal for the connection.
func (m *Machine) Feed(p []byte) error {
	if m.phase == phaseDone {
		return ErrMachineCorrupted
	}
	if m.phase == phaseResponse {
		m.inbuf = append(m.inbuf, p...)
		return m.flushResponse()
	}
	m.inbuf = append(m.inbuf, p...)

	for {
		switch m.phase {
		case phaseLength:
			if len(m.inbuf) < 2 {
				return nil
			}
			m.headerLen = int(binary.BigEndian.Uint16(m.inbuf[0:2]))
			m.inbuf = m.inbuf[2:]
			m.phase = phaseHeader

		case phaseHeader:
			if len(m.inbuf) < m.headerLen {
				return nil
			}
			if err := m.consumeHeader(m.inbuf[:m.headerLen]); err != nil {
				return err
			}
			m.inbuf = m.inbuf[m.headerLen:]
			m.phase = phasePayload

		case phasePayload:
			take := m.contentSize - m.received
			if take > int64(len(m.inbuf)) {
				take = int64(len(m.inbuf))
			}
			if take > 0 {
				if err := m.proto.Receive(m.inbuf[:take]); err != nil {
					return err
				}
				m.received += take
				m.inbuf = m.inbuf[take:]
			}
			if m.received < m.contentSize {
				return nil
			}
			// Frame satisfied; completion is deferred to the write path so a
			// required response can still be sent.
			m.phase = phaseWrite
			return nil

		default:
			// Initiator still draining writes: the response prefix stays
			// buffered until the machine enters the response phase. On the
			// receive side, bytes past the declared content-size are ignored.
			return nil
		}
	}
}

// flushResponse hands any buffered inbound bytes to the protocol. Response
// bytes can race in while the initiator is still in the write phase; they are
// delivered here, in arrival order, once the response phase begins.
func (m *Machine) flushResponse() error {
	if len(m.inbuf) == 0 {
		return nil
	}
	buffered := m.inbuf
	m.inbuf = nil
	return m.proto.Receive(buffered)
}

func (m *Machine) consumeHeader(raw []byte) error {
	h, err := wire.DecodeHeader(raw, wire.DefaultEncoding)
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}
	name, err := h.ContentProtocol()
	if err != nil {
		return err
	}
	size, err := h.ContentSize()
	if err != nil {
		return err
	}
	factory, err := m.registry.Resolve(name)
	if err != nil {
		return err
	}
	proto, err := factory(h)
	if err != nil {
		return err
	}
	m.header = h
	m.protoName = name
	m.contentSize = size
	m.proto = proto
	return nil
}

// WritePending reports whether the machine has outbound work.
func (m *Machine) WritePending() bool {
	return m.phase == phaseWrite
}

// NextWrite returns the next outbound chunk. An empty chunk with done=false
// means nothing is writable right now (the machine moved to the response
// phase or the frame is not complete yet); done=true means the exchange
// finished and Complete has been called on the payload protocol.
func (m *Machine) NextWrite() (chunk []byte, done bool, err error) {
	if m.phase == phaseDone {
		return nil, true, nil
	}
	if m.phase != phaseWrite {
		return nil, false, nil
	}
	if len(m.unwritten) > 0 {
		chunk = m.unwritten
		m.unwritten = nil
		return chunk, false, nil
	}

	chunk, err = m.proto.Read()
	if err != nil {
		return nil, false, err
	}
	if len(chunk) > 0 {
		return chunk, false, nil
	}

	// Outbound side drained.
	if m.initiator && m.proto.HasResponse() {
		m.phase = phaseResponse
		if err := m.flushResponse(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	m.phase = phaseDone
	return nil, true, m.proto.Complete()
}

// Unwritten hands back bytes the socket did not accept; they are returned by
// the next NextWrite call before any new protocol output.
func (m *Machine) Unwritten(p []byte) {
	m.unwritten = p
}

// HandleEOF processes a peer half-close. A half-close after the inbound frame
// is satisfied (or while awaiting the response tail) is normal completion; a
// half-close mid-frame, or while an initiator still holds undrained outbound
// bytes, is an error.
func (m *Machine) HandleEOF() error {
	switch m.phase {
	case phaseDone:
		return nil
	case phaseResponse:
		m.phase = phaseDone
		return m.proto.Complete()
	case phaseWrite:
		if m.initiator {
			if len(m.unwritten) > 0 {
				return fmt.Errorf("%w: peer closed with outbound pending", ErrIncompleteFrame)
			}
			chunk, err := m.proto.Read()
			if err != nil {
				return err
			}
			if len(chunk) > 0 {
				return fmt.Errorf("%w: peer closed with outbound pending", ErrIncompleteFrame)
			}
		}
		m.phase = phaseDone
		return m.proto.Complete()
	case phaseLength:
		if len(m.inbuf) == 0 {
			// Peer connected and said nothing; nothing to complete.
			m.phase = phaseDone
			return nil
		}
	}
	return fmt.Errorf("%w: in phase %s", ErrIncompleteFrame, m.phase)
}

// Done reports terminal state.
func (m *Machine) Done() bool { return m.phase == phaseDone }

// Phase names the current lifecycle phase, for logs and the admin surface.
func (m *Machine) Phase() string { return m.phase.String() }

// ProtocolName is empty until the header resolves on the receive side.
func (m *Machine) ProtocolName() string { return m.protoName }

// Received reports payload bytes delivered to the protocol so far.
func (m *Machine) Received() int64 { return m.received }

// Proto exposes the active payload protocol; nil before the header resolves.
func (m *Machine) Proto() payload.Protocol { return m.proto }
