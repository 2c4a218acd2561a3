package gree

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DeviceIdentity describes one appliance found during a scan. Identities
// are immutable once returned; a device is identified by its MAC with the
// network address as fallback.
type DeviceIdentity struct {
	IP      string
	Port    int
	MAC     string
	Name    string
	Brand   string
	Model   string
	Version string

	// SupportsModernCipher is set when the scan response advertises the
	// second generation GCM scheme.
	SupportsModernCipher bool
}

func (d DeviceIdentity) String() string {
	name := d.Name
	if name == "" {
		name = "device"
	}
	return fmt.Sprintf("%s (%s) @ %s:%d", name, d.MAC, d.IP, d.Port)
}

// Generation returns the cipher generation command traffic to this device
// must use.
func (d DeviceIdentity) Generation() CipherGeneration {
	if d.SupportsModernCipher {
		return ModernGCM
	}
	return LegacyECB
}

func (d DeviceIdentity) udpAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(d.IP), Port: d.Port}
}

// key dedupes scan responses. Two responses with the same MAC are the same
// physical device even when they arrive from different interfaces.
func (d DeviceIdentity) key() string {
	if d.MAC != "" {
		return d.MAC
	}
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// Scan broadcasts a discovery request and collects device identities until
// the discovery window closes. Addresses may be "ip" or "ip:port" strings;
// with none supplied the local interface broadcast addresses are used. A
// scan that hears nothing returns an empty slice, not an error.
func (c *Client) Scan(ctx context.Context, broadcast ...string) ([]DeviceIdentity, error) {
	if c.transport.isClosed() {
		return nil, ErrClosed
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.discoveryTimeout)
		defer cancel()
	}

	targets, err := c.scanTargets(broadcast)
	if err != nil {
		return nil, err
	}

	var (
		order []string
		found = make(map[string]DeviceIdentity)
	)

	unsubscribe := c.transport.subscribe("", typePack, func(env *envelope, addr *net.UDPAddr) {
		// Devices always answer a scan in the legacy scheme.
		kind, raw, err := openPack(env, LegacyECB, genericKeyECB)
		if err != nil {
			if c.cfg.logger != nil {
				c.cfg.logger.Debug("dropping scan response", "addr", addr.String(), "error", err)
			}
			return
		}
		if kind != packTypeDev {
			return
		}
		var dev devPack
		if err := json.Unmarshal(raw, &dev); err != nil {
			if c.cfg.logger != nil {
				c.cfg.logger.Debug("malformed device identity", "addr", addr.String(), "error", err)
			}
			return
		}

		id := DeviceIdentity{
			IP:                   addr.IP.String(),
			Port:                 addr.Port,
			MAC:                  dev.MAC,
			Name:                 dev.Name,
			Brand:                dev.Brand,
			Model:                dev.Model,
			Version:              dev.Version,
			SupportsModernCipher: dev.Encrypt > 0 || versionMajor(dev.Version) >= 2,
		}
		if dev.MAC == "" && dev.CID != "" {
			id.MAC = dev.CID
		}

		c.mu.Lock()
		if _, seen := found[id.key()]; !seen {
			order = append(order, id.key())
		}
		// Latest response wins, the device may have moved.
		found[id.key()] = id
		c.mu.Unlock()

		if c.cfg.logger != nil {
			c.cfg.logger.Debug("device discovered", "device", id.String())
		}
	})
	defer unsubscribe()

	scanMsg, err := json.Marshal(envelope{Type: typeScan})
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := c.transport.send(scanMsg, target); err != nil {
			return nil, err
		}
	}

	<-ctx.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	results := make([]DeviceIdentity, 0, len(order))
	for _, k := range order {
		results = append(results, found[k])
	}
	return results, nil
}

func (c *Client) scanTargets(broadcast []string) ([]*net.UDPAddr, error) {
	if len(broadcast) == 0 {
		addrs, err := broadcastAddrs()
		if err != nil {
			return nil, err
		}
		targets := make([]*net.UDPAddr, 0, len(addrs)+1)
		for _, ip := range addrs {
			targets = append(targets, &net.UDPAddr{IP: ip, Port: c.cfg.devicePort})
		}
		targets = append(targets, &net.UDPAddr{IP: net.IPv4bcast, Port: c.cfg.devicePort})
		return targets, nil
	}

	targets := make([]*net.UDPAddr, 0, len(broadcast))
	for _, s := range broadcast {
		host, portStr, err := net.SplitHostPort(s)
		port := c.cfg.devicePort
		if err != nil {
			host = s
		} else {
			port, err = strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid scan address %q", s)
			}
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("invalid scan address %q", s)
		}
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return targets, nil
}

// broadcastAddrs computes the directed broadcast address of every IPv4
// interface, supporting hosts attached to more than one subnet.
func broadcastAddrs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		bcast := make(net.IP, net.IPv4len)
		for i := range bcast {
			bcast[i] = ip4[i] | ^mask[i]
		}
		ips = append(ips, bcast)
	}
	return ips, nil
}

// versionMajor extracts the major number from firmware versions such as
// "V1.1.13" or "V3.0". Unparseable versions count as generation one.
func versionMajor(ver string) int {
	ver = strings.TrimPrefix(ver, "V")
	if i := strings.IndexByte(ver, '.'); i > 0 {
		ver = ver[:i]
	}
	n, err := strconv.Atoi(ver)
	if err != nil {
		return 0
	}
	return n
}
