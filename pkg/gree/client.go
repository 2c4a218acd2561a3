package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Client is the entry point for talking to appliances. It owns the single
// shared UDP socket; discovery, binding, and command traffic for every
// device are multiplexed over it.
type Client struct {
	cfg       *config
	transport *transport

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewClient opens the shared UDP socket and starts the receive loop.
// Options can be provided to configure timeouts, ports, and logging.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	t, err := newTransport(cfg.localPort, cfg.logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		transport: t,
		sessions:  make(map[string]*Session),
	}, nil
}

// Close tears down every session and releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return c.transport.close()
}

// SessionFromKey establishes a session from a previously negotiated device
// key, skipping the bind handshake.
func (c *Client) SessionFromKey(identity DeviceIdentity, key string) (*Session, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: got %d bytes, want 16", ErrInvalidKey, len(key))
	}
	return c.adoptSession(identity, identity.Generation(), []byte(key)), nil
}

// adoptSession registers a keyed session and wires it into the transport,
// superseding any prior session on the same device address.
func (c *Client) adoptSession(identity DeviceIdentity, gen CipherGeneration, key []byte) *Session {
	addr := identity.udpAddr().String()

	c.mu.Lock()
	prior := c.sessions[addr]
	c.mu.Unlock()
	if prior != nil {
		prior.Close()
	}

	s := &Session{
		identity:   identity,
		generation: gen,
		client:     c,
		key:        key,
		token:      identity.MAC,
	}
	s.unsubscribe = c.transport.subscribe(addr, typePack, s.handle)

	c.mu.Lock()
	c.sessions[addr] = s
	c.mu.Unlock()
	return s
}

func (c *Client) forgetSession(s *Session) {
	addr := s.addr().String()
	c.mu.Lock()
	if c.sessions[addr] == s {
		delete(c.sessions, addr)
	}
	c.mu.Unlock()
}

// RequestProperties reads the named properties from a bound device and
// returns their values zipped positionally with names. Requests larger than
// the configured batch size are split into sequential messages; the call
// returns only once every sub-batch has been answered.
func (c *Client) RequestProperties(ctx context.Context, s *Session, names []string) (*PropertyBatch, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	result := NewPropertyBatch()
	if len(names) == 0 {
		return result, nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.requestTimeout)
		defer cancel()
	}

	var satisfied []string
	for _, chunk := range chunkStrings(names, c.cfg.maxBatchSize) {
		pack := statusPack{Type: packTypeStatus, MAC: s.token, Cols: chunk}
		raw, err := c.exchange(ctx, s, pack, packTypeData, chunk, satisfied)
		if err != nil {
			return nil, err
		}

		var dat dataPack
		if err := json.Unmarshal(raw, &dat); err != nil {
			return nil, fmt.Errorf("%w: malformed dat pack: %v", ErrDecode, err)
		}
		// Some firmware answers with fewer values than requested
		// columns. That must fail loudly, not zip short.
		part, err := zipBatch(packTypeData, chunk, dat.Dat)
		if err != nil {
			return nil, err
		}
		for _, name := range part.Names() {
			v, _ := part.Get(name)
			result.Add(name, v)
		}
		satisfied = append(satisfied, chunk...)
	}
	return result, nil
}

// SetProperties writes a batch of properties to a bound device and returns
// the device-confirmed (possibly clamped) values. Batches larger than the
// configured batch size are split; the call returns only after every
// sub-batch response has drained.
func (c *Client) SetProperties(ctx context.Context, s *Session, batch *PropertyBatch) (*PropertyBatch, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	confirmed := NewPropertyBatch()
	if batch.Len() == 0 {
		return confirmed, nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.requestTimeout)
		defer cancel()
	}

	names := batch.Names()
	values := batch.Values()

	var satisfied []string
	for start := 0; start < len(names); start += c.cfg.maxBatchSize {
		end := min(start+c.cfg.maxBatchSize, len(names))
		chunk := names[start:end]

		pack := cmdPack{Type: packTypeCmd, MAC: s.token, Opt: chunk, P: values[start:end]}
		raw, err := c.exchange(ctx, s, pack, packTypeResult, chunk, satisfied)
		if err != nil {
			return nil, err
		}

		var res resultPack
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("%w: malformed res pack: %v", ErrDecode, err)
		}
		part, err := zipBatch(packTypeResult, chunk, res.Val)
		if err != nil {
			return nil, err
		}
		for _, name := range part.Names() {
			v, _ := part.Get(name)
			confirmed.Add(name, v)
		}
		satisfied = append(satisfied, chunk...)
	}
	return confirmed, nil
}

// exchange sends one encrypted command message and waits for its response.
// satisfied lists names already confirmed by earlier sub-batches of the same
// call, reported on timeout so the caller can judge partial progress.
func (c *Client) exchange(ctx context.Context, s *Session, pack any, kind string, names, satisfied []string) (json.RawMessage, error) {
	p := s.enqueue(kind, names)

	data, err := sealEnvelope(pack, s.generation, []byte(s.Key()), s.token, false)
	if err != nil {
		s.remove(p)
		return nil, err
	}
	if err := c.transport.send(data, s.addr()); err != nil {
		s.remove(p)
		return nil, err
	}
	if c.cfg.logger != nil {
		c.cfg.logger.Debug("request sent", "device", s.identity.String(), "id", p.id, "kind", kind, "properties", len(names))
	}

	select {
	case res := <-p.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.raw, nil
	case <-ctx.Done():
		s.remove(p)
		if c.cfg.logger != nil {
			c.cfg.logger.Warn("request timed out", "device", s.identity.String(), "id", p.id)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &RequestTimeoutError{ID: p.id, Satisfied: satisfied}
		}
		return nil, fmt.Errorf("request canceled: %w", ctx.Err())
	}
}

func chunkStrings(names []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(names); start += size {
		chunks = append(chunks, names[start:min(start+size, len(names))])
	}
	return chunks
}
