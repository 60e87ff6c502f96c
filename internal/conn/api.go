package conn

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/peerwire/internal/payload"
	"github.com/danmuck/peerwire/internal/sysinfo"
)

// SendFile streams path to addr on a dedicated goroutine and returns the
// transfer handle immediately. Progress, completion, and failure arrive
// through the listener.
func SendFile(path, addr string, l payload.Listener, log zerolog.Logger) (*payload.FileTransfer, error) {
	ft, err := payload.NewFileSender(path, l)
	if err != nil {
		return nil, err
	}
	Go(addr, ft, DefaultExchangeTimeout, log)
	return ft, nil
}

// RequestIdentity queries addr's host identity over a short-lived multiplexed
// client manager; cb receives the decoded peer record or the terminal error,
// after which the manager shuts itself down.
func RequestIdentity(addr string, cb payload.IdentityCallback, log zerolog.Logger) error {
	m := NewManager("identity-client", payload.NewRegistry(), log, DefaultConfig())
	m.Start()

	proto, err := payload.NewIdentityRequest(func(rec sysinfo.Record, cerr error) {
		cb(rec, cerr)
		go m.Close()
	})
	if err != nil {
		m.Close()
		return err
	}
	if err := m.ConnectAddr(addr, proto, payload.NameHostIdentity); err != nil {
		m.Close()
		return err
	}
	return nil
}

// ServerSet hands out at most one listening Manager per (host, port) pair.
type ServerSet struct {
	registry *payload.Registry
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	servers map[string]*Manager
}

func NewServerSet(reg *payload.Registry, log zerolog.Logger, cfg Config) *ServerSet {
	return &ServerSet{
		registry: reg,
		cfg:      cfg,
		log:      log,
		servers:  make(map[string]*Manager),
	}
}

// GetOrCreate returns the manager listening on host:port, starting one when
// absent.
func (s *ServerSet) GetOrCreate(host string, port int) (*Manager, error) {
	key := fmt.Sprintf("%s:%d", host, port)
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.servers[key]; ok {
		return m, nil
	}
	m := NewManager("server-"+key, s.registry, s.log, s.cfg)
	m.Start()
	if err := m.Listen(host, port); err != nil {
		m.Close()
		return nil, err
	}
	s.servers[key] = m
	return m, nil
}

// CloseAll shuts every managed server down.
func (s *ServerSet) CloseAll() {
	s.mu.Lock()
	servers := make([]*Manager, 0, len(s.servers))
	for _, m := range s.servers {
		servers = append(servers, m)
	}
	s.servers = make(map[string]*Manager)
	s.mu.Unlock()

	for _, m := range servers {
		m.Close()
	}
}
