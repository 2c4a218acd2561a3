package gree

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendRaw(t *testing.T, to *net.UDPAddr, payload any) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = conn.WriteToUDP(data, to)
	require.NoError(t, err)
	return conn.LocalAddr().(*net.UDPAddr)
}

func localAddr(tr *transport) *net.UDPAddr {
	port := tr.conn.LocalAddr().(*net.UDPAddr).Port
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestTransport_RoutesByType(t *testing.T) {
	tr, err := newTransport(0, nil)
	require.NoError(t, err)
	defer tr.close()

	got := make(chan string, 1)
	cancel := tr.subscribe("", typePack, func(env *envelope, addr *net.UDPAddr) {
		got <- env.Pack
	})
	defer cancel()

	sendRaw(t, localAddr(tr), envelope{Type: typePack, Pack: "payload"})

	select {
	case pack := <-got:
		assert.Equal(t, "payload", pack)
	case <-time.After(defaultTestWindow):
		t.Fatal("datagram was not dispatched")
	}
}

func TestTransport_ExactAddressBeatsWildcard(t *testing.T) {
	tr, err := newTransport(0, nil)
	require.NoError(t, err)
	defer tr.close()

	wildcard := make(chan struct{}, 2)
	exact := make(chan struct{}, 2)
	cancelWild := tr.subscribe("", typePack, func(*envelope, *net.UDPAddr) {
		wildcard <- struct{}{}
	})
	defer cancelWild()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	src := conn.LocalAddr().(*net.UDPAddr)

	// First datagram lands on the wildcard handler.
	data, _ := json.Marshal(envelope{Type: typePack, Pack: "a"})
	_, err = conn.WriteToUDP(data, localAddr(tr))
	require.NoError(t, err)
	select {
	case <-wildcard:
	case <-time.After(defaultTestWindow):
		t.Fatal("wildcard handler not invoked")
	}

	// Registering the exact source shadows the wildcard.
	cancelExact := tr.subscribe(src.String(), typePack, func(*envelope, *net.UDPAddr) {
		exact <- struct{}{}
	})
	defer cancelExact()

	data, _ = json.Marshal(envelope{Type: typePack, Pack: "b"})
	_, err = conn.WriteToUDP(data, localAddr(tr))
	require.NoError(t, err)

	select {
	case <-exact:
	case <-time.After(defaultTestWindow):
		t.Fatal("exact handler not invoked")
	}
	assert.Empty(t, wildcard)
}

func TestTransport_DropsUnmatched(t *testing.T) {
	tr, err := newTransport(0, nil)
	require.NoError(t, err)
	defer tr.close()

	got := make(chan struct{}, 1)
	cancel := tr.subscribe("", typeScan, func(*envelope, *net.UDPAddr) {
		got <- struct{}{}
	})
	defer cancel()

	// Different type: discarded, handler never fires.
	sendRaw(t, localAddr(tr), envelope{Type: typePack})

	select {
	case <-got:
		t.Fatal("handler fired for unmatched type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransport_SubscribeSupersedes(t *testing.T) {
	tr, err := newTransport(0, nil)
	require.NoError(t, err)
	defer tr.close()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	cancelFirst := tr.subscribe("", typePack, func(*envelope, *net.UDPAddr) {
		first <- struct{}{}
	})
	tr.subscribe("", typePack, func(*envelope, *net.UDPAddr) {
		second <- struct{}{}
	})

	// Cancelling the superseded registration must not remove the new one.
	cancelFirst()

	sendRaw(t, localAddr(tr), envelope{Type: typePack})

	select {
	case <-second:
	case <-time.After(defaultTestWindow):
		t.Fatal("superseding handler not invoked")
	}
	assert.Empty(t, first)
}

func TestTransport_SendAfterClose(t *testing.T) {
	tr, err := newTransport(0, nil)
	require.NoError(t, err)
	require.NoError(t, tr.close())

	err = tr.send([]byte("{}"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, ErrClosed)
}
