package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/peerwire/internal/payload"
)

// DefaultExchangeTimeout bounds one blocking exchange end to end.
const DefaultExchangeTimeout = 60 * time.Second

// Exchange performs one synchronous connect/send/receive/close cycle for
// proto: it drains Read until empty, half-closes the write side, consumes the
// response stream to exhaustion when the protocol expects one, and completes.
// Suited to one-shot transfers where a shared event loop is overhead.
func Exchange(addr string, proto payload.Protocol, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		err = fmt.Errorf("conn: dial %s: %w", addr, err)
		reportFailure(proto, err)
		return err
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(timeout))

	for {
		chunk, rerr := proto.Read()
		if rerr != nil {
			reportFailure(proto, rerr)
			return rerr
		}
		if len(chunk) == 0 {
			break
		}
		if _, werr := c.Write(chunk); werr != nil {
			werr = fmt.Errorf("conn: write: %w", werr)
			reportFailure(proto, werr)
			return werr
		}
	}

	if proto.HasResponse() {
		if tc, ok := c.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		buf := make([]byte, 4096)
		for {
			n, rerr := c.Read(buf)
			if n > 0 {
				if perr := proto.Receive(buf[:n]); perr != nil {
					reportFailure(proto, perr)
					return perr
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					break
				}
				rerr = fmt.Errorf("conn: read response: %w", rerr)
				reportFailure(proto, rerr)
				return rerr
			}
		}
	}

	return proto.Complete()
}

// Go runs Exchange on a dedicated goroutine, fire-and-forget. Failures reach
// the caller only through the protocol's failure callback and the log.
func Go(addr string, proto payload.Protocol, timeout time.Duration, log zerolog.Logger) {
	go func() {
		if err := Exchange(addr, proto, timeout); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("blocking exchange failed")
		}
	}()
}
