package gree

import (
	"encoding/json"
	"net"
	"sync"
)

// Session is an authenticated, keyed channel to one physical device,
// produced by a successful bind. It owns its key material exclusively and
// holds the wait set of in-flight requests against the device.
type Session struct {
	identity   DeviceIdentity
	generation CipherGeneration

	client *Client

	mu          sync.Mutex
	key         []byte
	token       string
	pending     []*pendingRequest
	nextID      uint32
	unsubscribe func()
	closed      bool
}

// pendingRequest is the correlation record for one in-flight command
// message. It is created when the request is sent and removed exactly once,
// on fulfillment, timeout, cancellation, or session close.
type pendingRequest struct {
	id    uint32
	kind  string
	names []string
	ch    chan pendingResult
}

type pendingResult struct {
	raw json.RawMessage
	err error
}

// Identity returns the device this session is bound to.
func (s *Session) Identity() DeviceIdentity { return s.identity }

// Generation returns the cipher generation negotiated for this session.
func (s *Session) Generation() CipherGeneration { return s.generation }

// Key returns the negotiated device key, usable with
// Client.SessionFromKey to rebind without a handshake.
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.key)
}

// Close tears the session down: the key is discarded, the transport
// registration removed, and every in-flight request resolved with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.key = nil
	pending := s.pending
	s.pending = nil
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, p := range pending {
		p.ch <- pendingResult{err: ErrSessionClosed}
	}
	if s.client != nil {
		s.client.forgetSession(s)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) addr() *net.UDPAddr { return s.identity.udpAddr() }

// enqueue registers a wait record before the request datagram goes out, so
// a fast response cannot race past the wait set.
func (s *Session) enqueue(kind string, names []string) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := &pendingRequest{
		id:    s.nextID,
		kind:  kind,
		names: names,
		ch:    make(chan pendingResult, 1),
	}
	s.pending = append(s.pending, p)
	return p
}

// remove takes a cancelled or timed-out record out of the wait set. A
// datagram arriving afterwards for it is discarded as unmatched.
func (s *Session) remove(p *pendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.pending {
		if q == p {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// drain removes and returns the pending request whose kind and requested
// names match the response's echo, or nil when nothing matches. Each record
// drains at most once; a retransmitted response finds no matching record
// and is dropped, even while other requests are still waiting.
func (s *Session) drain(kind string, names []string) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.kind == kind && equalNames(p.names, names) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p
		}
	}
	return nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// handle is the transport dispatch target for this session's device
// address. It resolves the matching wait record and nothing else; the
// correlation logic lives with the waiting caller.
func (s *Session) handle(env *envelope, addr *net.UDPAddr) {
	s.mu.Lock()
	key := s.key
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	logger := s.client.cfg.logger

	kind, raw, err := openPack(env, s.generation, key)
	if err != nil {
		// Not session traffic. The device answers scans with the
		// generic key even while bound, so give the wildcard handler
		// a chance at it before writing the datagram off as noise.
		// Pending requests are never failed on it either way.
		if fn := s.client.transport.wildcard(typePack); fn != nil {
			fn(env, addr)
			return
		}
		if logger != nil {
			logger.Debug("dropping undecodable datagram", "device", s.identity.String(), "error", err)
		}
		return
	}

	switch kind {
	case packTypeData, packTypeResult:
		var echo struct {
			Cols []string `json:"cols"`
			Opt  []string `json:"opt"`
		}
		if err := json.Unmarshal(raw, &echo); err != nil {
			if logger != nil {
				logger.Warn("malformed response pack", "device", s.identity.String(), "kind", kind, "error", err)
			}
			return
		}
		names := echo.Cols
		if kind == packTypeResult {
			names = echo.Opt
		}

		p := s.drain(kind, names)
		if p == nil {
			// Retransmit of an already drained exchange.
			if logger != nil {
				logger.Debug("duplicate response ignored", "device", s.identity.String(), "kind", kind)
			}
			return
		}
		p.ch <- pendingResult{raw: raw}
	default:
		if logger != nil {
			logger.Debug("unexpected pack ignored", "device", s.identity.String(), "kind", kind)
		}
	}
}
