package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/peerwire/internal/observability"
	"github.com/danmuck/peerwire/internal/payload"
)

// DefaultPort is the listening port used when none is configured.
const DefaultPort = 65432

// Config bounds the manager's per-connection behavior.
type Config struct {
	// IdleTimeout closes a connection with ErrTransferTimeout when no
	// readiness activity arrives within the window.
	IdleTimeout time.Duration
	// WriteBurst caps bytes written for one connection per loop pass, so a
	// large transfer cannot starve its siblings.
	WriteBurst int
	// ReadBuffer sizes the per-connection read buffer.
	ReadBuffer int
	// DialTimeout bounds outbound connection establishment.
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout: 30 * time.Second,
		WriteBurst:  32 * 1024,
		ReadBuffer:  4096,
		DialTimeout: 5 * time.Second,
	}
}

// ConnInfo is one connection's snapshot for the admin surface.
type ConnInfo struct {
	ID         uint64    `json:"id"`
	Peer       string    `json:"peer"`
	Protocol   string    `json:"protocol,omitempty"`
	Phase      string    `json:"phase"`
	Received   int64     `json:"received_bytes"`
	Initiator  bool      `json:"initiator"`
	Opened     time.Time `json:"opened"`
	LastActive time.Time `json:"last_active"`
}

type eventKind uint8

const (
	evAccept eventKind = iota
	evConnect
	evData
	evEOF
	evError
	evSnapshot
)

type event struct {
	kind    eventKind
	conn    net.Conn
	machine *Machine
	track   *track
	data    []byte
	err     error
	reply   chan []ConnInfo
}

type track struct {
	id         uint64
	conn       net.Conn
	machine    *Machine
	peer       string
	opened     time.Time
	lastActive time.Time
	queued     bool
}

// Manager is a readiness-style connection multiplexer. One loop goroutine
// exclusively owns every registered connection's state machine; per-socket
// reader goroutines only pump raw events (bytes, EOF, errors) into the loop,
// and all state transitions and socket writes happen on the loop. A manager
// may act as a server (Listen), a client (Connect), or both.
type Manager struct {
	name     string
	registry *payload.Registry
	cfg      Config
	log      zerolog.Logger

	events chan event
	quit   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu sync.Mutex
	ln net.Listener

	nextID atomic.Uint64

	// Loop-owned; never touched off the loop goroutine.
	conns   map[uint64]*track
	pending []*track
}

func NewManager(name string, reg *payload.Registry, log zerolog.Logger, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.WriteBurst <= 0 {
		cfg.WriteBurst = DefaultConfig().WriteBurst
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultConfig().ReadBuffer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	return &Manager{
		name:     name,
		registry: reg,
		cfg:      cfg,
		log:      log.With().Str("manager", name).Logger(),
		events:   make(chan event, 128),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		conns:    make(map[uint64]*track),
	}
}

// Start launches the event loop. Idempotent.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Listen binds host:port and begins accepting peers. Port 0 picks an
// ephemeral port, reported by Addr.
func (m *Manager) Listen(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("conn: listen: %w", err)
	}
	m.mu.Lock()
	m.ln = ln
	m.mu.Unlock()

	m.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	go m.acceptLoop(ln)
	return nil
}

// Addr reports the bound listen address, or nil before Listen.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Connect dials host:port and registers a send-initiated connection driving
// proto through the event loop.
func (m *Manager) Connect(host string, port int, proto payload.Protocol, name string) error {
	return m.ConnectAddr(net.JoinHostPort(host, strconv.Itoa(port)), proto, name)
}

// ConnectAddr is Connect with a pre-joined address.
func (m *Manager) ConnectAddr(addr string, proto payload.Protocol, name string) error {
	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		err = fmt.Errorf("conn: dial %s: %w", addr, err)
		reportFailure(proto, err)
		return err
	}
	if !m.post(event{kind: evConnect, conn: c, machine: NewSendMachine(proto, name)}) {
		c.Close()
		reportFailure(proto, ErrManagerClosed)
		return ErrManagerClosed
	}
	return nil
}

// Snapshot returns the loop's current view of its connections.
func (m *Manager) Snapshot() []ConnInfo {
	reply := make(chan []ConnInfo, 1)
	if !m.post(event{kind: evSnapshot, reply: reply}) {
		return nil
	}
	select {
	case infos := <-reply:
		return infos
	case <-m.done:
		return nil
	}
}

// Close stops the loop, the listener, and every open connection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.mu.Lock()
		if m.ln != nil {
			m.ln.Close()
		}
		m.mu.Unlock()
	})
	m.Start() // ensure done is eventually closed even if never started
	<-m.done
	return nil
}

func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Manager) acceptLoop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-m.quit:
			default:
				m.log.Error().Err(err).Msg("accept failed")
			}
			return
		}
		if !m.post(event{kind: evAccept, conn: c}) {
			c.Close()
			return
		}
	}
}

func (m *Manager) loop() {
	defer close(m.done)

	tick := m.cfg.IdleTimeout / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if len(m.pending) > 0 {
			select {
			case ev := <-m.events:
				m.handle(ev)
			case <-ticker.C:
				m.reapIdle()
			case <-m.quit:
				m.teardown()
				return
			default:
				t := m.pending[0]
				m.pending = m.pending[1:]
				t.queued = false
				m.serviceWrite(t)
			}
		} else {
			select {
			case ev := <-m.events:
				m.handle(ev)
			case <-ticker.C:
				m.reapIdle()
			case <-m.quit:
				m.teardown()
				return
			}
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evAccept:
		m.register(ev.conn, NewReceiveMachine(m.registry))
	case evConnect:
		t := m.register(ev.conn, ev.machine)
		m.queueWrite(t)
	case evData:
		t := ev.track
		if _, open := m.conns[t.id]; !open {
			return
		}
		t.lastActive = time.Now()
		if err := t.machine.Feed(ev.data); err != nil {
			m.abort(t, err)
			return
		}
		if t.machine.WritePending() {
			m.queueWrite(t)
		}
	case evEOF:
		t := ev.track
		if _, open := m.conns[t.id]; !open {
			return
		}
		if err := t.machine.HandleEOF(); err != nil {
			m.abort(t, err)
			return
		}
		m.finish(t)
	case evError:
		t := ev.track
		if _, open := m.conns[t.id]; !open {
			return
		}
		m.abort(t, ev.err)
	case evSnapshot:
		infos := make([]ConnInfo, 0, len(m.conns))
		for _, t := range m.conns {
			infos = append(infos, ConnInfo{
				ID:         t.id,
				Peer:       t.peer,
				Protocol:   t.machine.ProtocolName(),
				Phase:      t.machine.Phase(),
				Received:   t.machine.Received(),
				Initiator:  t.machine.initiator,
				Opened:     t.opened,
				LastActive: t.lastActive,
			})
		}
		ev.reply <- infos
	}
}

func (m *Manager) register(c net.Conn, machine *Machine) *track {
	t := &track{
		id:         m.nextID.Add(1),
		conn:       c,
		machine:    machine,
		peer:       c.RemoteAddr().String(),
		opened:     time.Now(),
		lastActive: time.Now(),
	}
	m.conns[t.id] = t
	observability.ConnectionOpened()
	m.log.Debug().Uint64("conn_id", t.id).Str("peer", t.peer).Bool("initiator", machine.initiator).Msg("connection registered")
	go m.readLoop(t)
	return t
}

func (m *Manager) readLoop(t *track) {
	buf := make([]byte, m.cfg.ReadBuffer)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !m.post(event{kind: evData, track: t, data: data}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.post(event{kind: evEOF, track: t})
			} else {
				m.post(event{kind: evError, track: t, err: err})
			}
			return
		}
	}
}

func (m *Manager) queueWrite(t *track) {
	if t.queued {
		return
	}
	t.queued = true
	m.pending = append(m.pending, t)
}

// serviceWrite drains up to WriteBurst bytes from t's machine into the
// socket, requeueing the connection when more remains.
func (m *Manager) serviceWrite(t *track) {
	if _, open := m.conns[t.id]; !open {
		return
	}
	written := 0
	for written < m.cfg.WriteBurst {
		chunk, finished, err := t.machine.NextWrite()
		if err != nil {
			m.abort(t, err)
			return
		}
		if finished {
			m.finish(t)
			return
		}
		if len(chunk) == 0 {
			// Response phase: the reader events drive the rest.
			return
		}

		t.conn.SetWriteDeadline(time.Now().Add(m.cfg.IdleTimeout))
		n, werr := t.conn.Write(chunk)
		written += n
		t.lastActive = time.Now()
		if werr != nil {
			if n < len(chunk) {
				t.machine.Unwritten(chunk[n:])
			}
			m.abort(t, werr)
			return
		}
	}
	if t.machine.WritePending() {
		m.queueWrite(t)
	}
}

func (m *Manager) reapIdle() {
	now := time.Now()
	for _, t := range m.conns {
		if now.Sub(t.lastActive) > m.cfg.IdleTimeout {
			m.abort(t, ErrTransferTimeout)
		}
	}
}

func (m *Manager) drop(t *track) {
	delete(m.conns, t.id)
	t.conn.Close()
	observability.ConnectionClosed()
}

func (m *Manager) finish(t *track) {
	m.drop(t)
	observability.RecordTransfer(t.machine.ProtocolName(), direction(t.machine), "ok",
		t.machine.Received(), time.Since(t.opened))
	m.log.Info().
		Uint64("conn_id", t.id).
		Str("peer", t.peer).
		Str("protocol", t.machine.ProtocolName()).
		Int64("received_bytes", t.machine.Received()).
		Msg("exchange complete")
}

// abort closes one connection on a fatal error. Failures never cross
// connection boundaries; the loop keeps serving everything else.
func (m *Manager) abort(t *track, cause error) {
	if _, open := m.conns[t.id]; !open {
		return
	}
	m.drop(t)
	if proto := t.machine.Proto(); proto != nil {
		reportFailure(proto, cause)
	}
	observability.RecordTransfer(t.machine.ProtocolName(), direction(t.machine), "error",
		t.machine.Received(), time.Since(t.opened))
	m.log.Error().
		Err(cause).
		Uint64("conn_id", t.id).
		Str("peer", t.peer).
		Str("phase", t.machine.Phase()).
		Msg("connection aborted")
}

func (m *Manager) teardown() {
	for _, t := range m.conns {
		m.abort(t, ErrManagerClosed)
	}
}

func direction(machine *Machine) string {
	if machine.initiator {
		return "outbound"
	}
	return "inbound"
}

func reportFailure(proto payload.Protocol, err error) {
	if f, ok := proto.(payload.Failer); ok {
		f.Fail(err)
	}
}
