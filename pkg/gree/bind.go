package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Bind runs the key-exchange handshake against a discovered device and
// returns a bound Session. The handshake is encrypted with the well-known
// generic key of the device's cipher generation; the response carries the
// per-device session key.
//
// Bind never retries. A timeout returns *BindTimeoutError, an undecryptable
// or malformed reply *BindProtocolError, and in both cases the device stays
// unbound with no wait state left behind, so calling Bind again starts
// clean. A repeated Bind supersedes the previous attempt.
func (c *Client) Bind(ctx context.Context, identity DeviceIdentity) (*Session, error) {
	if c.transport.isClosed() {
		return nil, ErrClosed
	}

	gen := identity.Generation()
	addr := identity.udpAddr()

	type bindOutcome struct {
		key string
		err error
	}
	ch := make(chan bindOutcome, 1)
	deliver := func(o bindOutcome) {
		select {
		case ch <- o:
		default:
		}
	}

	// Registering for the device address supersedes any previous bind
	// attempt or stale session handler on the same device.
	unsubscribe := c.transport.subscribe(addr.String(), typePack, func(env *envelope, src *net.UDPAddr) {
		kind, raw, err := openPack(env, gen, GenericKey(gen))
		if err != nil {
			deliver(bindOutcome{err: &BindProtocolError{Identity: identity, Err: err}})
			return
		}
		if kind != packTypeBindOK {
			if c.cfg.logger != nil {
				c.cfg.logger.Debug("ignoring pack during bind", "device", identity.String(), "kind", kind)
			}
			return
		}
		var ok bindOKPack
		if err := json.Unmarshal(raw, &ok); err != nil {
			deliver(bindOutcome{err: &BindProtocolError{Identity: identity, Err: fmt.Errorf("%w: %v", ErrDecode, err)}})
			return
		}
		if len(ok.Key) != 16 {
			deliver(bindOutcome{err: &BindProtocolError{Identity: identity, Err: fmt.Errorf("%w: key length %d", ErrDecode, len(ok.Key))}})
			return
		}
		deliver(bindOutcome{key: ok.Key})
	})
	defer unsubscribe()

	data, err := sealEnvelope(bindPack{Type: packTypeBind, MAC: identity.MAC, UID: 0}, gen, GenericKey(gen), identity.MAC, true)
	if err != nil {
		return nil, err
	}
	if err := c.transport.send(data, addr); err != nil {
		return nil, err
	}
	if c.cfg.logger != nil {
		c.cfg.logger.Debug("bind request sent", "device", identity.String(), "cipher", gen.String())
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.bindTimeout)
		defer cancel()
	}

	select {
	case outcome := <-ch:
		if outcome.err != nil {
			return nil, outcome.err
		}
		s := c.adoptSession(identity, gen, []byte(outcome.key))
		if c.cfg.logger != nil {
			c.cfg.logger.Debug("device bound", "device", identity.String())
		}
		return s, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &BindTimeoutError{Identity: identity}
		}
		return nil, fmt.Errorf("bind canceled: %w", ctx.Err())
	}
}
