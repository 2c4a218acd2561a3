package gree

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"
)

// handlerKey routes inbound datagrams by source address and outer message
// type. An empty addr matches any source and is used during discovery.
type handlerKey struct {
	addr string
	kind string
}

type handlerFunc func(env *envelope, addr *net.UDPAddr)

type registration struct {
	fn handlerFunc
}

// transport owns the single shared UDP socket. All sends go through it and
// every inbound datagram is parsed just enough to read its type, then routed
// to whichever component registered interest in that (address, type) pair.
type transport struct {
	conn   *net.UDPConn
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[handlerKey]*registration
	closed   bool
}

func newTransport(localPort int, logger *slog.Logger) (*transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}

	// Discovery needs to reach devices beyond unicast routing.
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}
	var optErr error
	err = raw.Control(func(fd uintptr) {
		optErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err == nil {
		err = optErr
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	t := &transport{
		conn:     conn,
		logger:   logger,
		handlers: make(map[handlerKey]*registration),
	}
	go t.readLoop()
	return t, nil
}

func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// send writes one datagram. Socket failures are surfaced to the caller,
// never swallowed.
func (t *transport) send(data []byte, addr *net.UDPAddr) error {
	if t.isClosed() {
		return &TransportError{Addr: addr.String(), Err: ErrClosed}
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return &TransportError{Addr: addr.String(), Err: err}
	}
	if t.logger != nil {
		t.logger.Debug("datagram sent", "addr", addr.String(), "len", len(data))
	}
	return nil
}

// subscribe registers a handler for datagrams of the given outer type from
// addr (empty for any source). A second subscription for the same key
// supersedes the first. The returned cancel removes the handler unless it
// was already superseded.
func (t *transport) subscribe(addr, kind string, fn handlerFunc) (cancel func()) {
	key := handlerKey{addr: addr, kind: kind}
	reg := &registration{fn: fn}

	t.mu.Lock()
	t.handlers[key] = reg
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		if t.handlers[key] == reg {
			delete(t.handlers, key)
		}
		t.mu.Unlock()
	}
}

// wildcard returns the any-source handler for kind, if one is registered.
// Exact-address handlers use it to hand off datagrams that turn out not to
// be theirs, such as scan responses from a bound device.
func (t *transport) wildcard(kind string) handlerFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reg, ok := t.handlers[handlerKey{addr: "", kind: kind}]; ok {
		return reg.fn
	}
	return nil
}

func (t *transport) lookup(addr, kind string) handlerFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reg, ok := t.handlers[handlerKey{addr: addr, kind: kind}]; ok {
		return reg.fn
	}
	if reg, ok := t.handlers[handlerKey{addr: "", kind: kind}]; ok {
		return reg.fn
	}
	return nil
}

func (t *transport) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.isClosed() {
				return
			}
			if t.logger != nil {
				t.logger.Warn("read failed", "error", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		env, err := parseEnvelope(buf[:n])
		if err != nil {
			// Network noise, not a caller-visible failure.
			if t.logger != nil {
				t.logger.Debug("dropping unparseable datagram", "addr", addr.String(), "error", err)
			}
			continue
		}

		fn := t.lookup(addr.String(), env.Type)
		if fn == nil {
			if t.logger != nil {
				t.logger.Debug("dropping unmatched datagram", "addr", addr.String(), "type", env.Type)
			}
			continue
		}
		fn(env, addr)
	}
}
