package gree

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// defaultTestWindow keeps loopback timeouts short.
const defaultTestWindow = 500 * time.Millisecond

// fakeDevice emulates one appliance on the loopback interface. Behavior
// flags simulate the firmware quirks the client has to survive: silence,
// short answers, duplicate datagrams, garbage replies.
type fakeDevice struct {
	t    *testing.T
	conn *net.UDPConn

	mac     string
	name    string
	version string
	gen     CipherGeneration
	key     []byte

	mu            sync.Mutex
	state         map[string]any
	ignoreBind    bool
	garbageBind   bool
	ignoreCommand bool
	shortData     bool
	duplicateData bool
	statusDelay   time.Duration // wait before answering a status request
	redeliverData time.Duration // resend each dat this long after the first copy
	answerLimit   int // commands answered before going silent, <0 = unlimited
	secondName    string
	cmdCount      int
}

func newFakeDevice(t *testing.T, gen CipherGeneration) *fakeDevice {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("fake device socket: %v", err)
	}

	version := "V1.1.13"
	if gen == ModernGCM {
		version = "V2.1.0"
	}
	f := &fakeDevice{
		t:           t,
		conn:        conn,
		mac:         "f4911e000001",
		name:        "Bedroom",
		version:     version,
		gen:         gen,
		key:         []byte("0123456789abcdef"),
		state:       make(map[string]any),
		answerLimit: -1,
	}
	go f.loop()
	t.Cleanup(func() { conn.Close() })
	return f
}

func (f *fakeDevice) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeDevice) addr() string {
	return fmt.Sprintf("127.0.0.1:%d", f.port())
}

func (f *fakeDevice) identity() DeviceIdentity {
	return DeviceIdentity{
		IP:                   "127.0.0.1",
		Port:                 f.port(),
		MAC:                  f.mac,
		Name:                 f.name,
		Version:              f.version,
		SupportsModernCipher: f.gen == ModernGCM,
	}
}

func (f *fakeDevice) set(name string, value any) {
	f.mu.Lock()
	f.state[name] = value
	f.mu.Unlock()
}

func (f *fakeDevice) get(name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.state[name]; ok {
		return v
	}
	return 0
}

// setFlags mutates behavior flags race-free while the loop is running.
func (f *fakeDevice) setFlags(fn func(*fakeDevice)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeDevice) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmdCount
}

func (f *fakeDevice) loop() {
	buf := make([]byte, 65536)
	for {
		n, src, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			continue
		}

		switch env.Type {
		case typeScan:
			f.answerScan(src)
		case typePack:
			f.answerPack(&env, src)
		}
	}
}

func (f *fakeDevice) answerScan(src *net.UDPAddr) {
	f.mu.Lock()
	secondName := f.secondName
	f.mu.Unlock()

	f.sendDev(src, f.name)
	if secondName != "" {
		f.sendDev(src, secondName)
	}
}

func (f *fakeDevice) sendDev(src *net.UDPAddr, name string) {
	// Scan responses always use the legacy scheme.
	dev := devPack{Type: packTypeDev, CID: f.mac, MAC: f.mac, Name: name, Brand: "gree", Model: "gree", Version: f.version}
	data, err := sealEnvelope(dev, LegacyECB, genericKeyECB, "", false)
	if err != nil {
		f.t.Errorf("seal dev pack: %v", err)
		return
	}
	f.conn.WriteToUDP(data, src)
}

func (f *fakeDevice) answerPack(env *envelope, src *net.UDPAddr) {
	key := f.key
	if env.I == 1 {
		key = GenericKey(f.gen)
	}
	kind, raw, err := openPack(env, f.gen, key)
	if err != nil {
		f.t.Logf("fake device could not open pack: %v", err)
		return
	}

	switch kind {
	case packTypeBind:
		f.answerBind(src)
	case packTypeStatus:
		f.answerStatus(raw, src)
	case packTypeCmd:
		f.answerCmd(raw, src)
	}
}

func (f *fakeDevice) answerBind(src *net.UDPAddr) {
	f.mu.Lock()
	ignore, garbage := f.ignoreBind, f.garbageBind
	f.mu.Unlock()
	if ignore {
		return
	}
	if garbage {
		junk, _ := json.Marshal(envelope{
			Type: typePack,
			Pack: base64.StdEncoding.EncodeToString([]byte("definitely not a valid ciphertext.")),
		})
		f.conn.WriteToUDP(junk, src)
		return
	}

	ok := bindOKPack{Type: packTypeBindOK, MAC: f.mac, Key: string(f.key)}
	data, err := sealEnvelope(ok, f.gen, GenericKey(f.gen), "", false)
	if err != nil {
		f.t.Errorf("seal bindok: %v", err)
		return
	}
	f.conn.WriteToUDP(data, src)
}

func (f *fakeDevice) allowAnswer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmdCount++
	if f.ignoreCommand {
		return false
	}
	if f.answerLimit < 0 {
		return true
	}
	if f.answerLimit == 0 {
		return false
	}
	f.answerLimit--
	return true
}

func (f *fakeDevice) answerStatus(raw json.RawMessage, src *net.UDPAddr) {
	if !f.allowAnswer() {
		return
	}
	var req statusPack
	if err := json.Unmarshal(raw, &req); err != nil {
		f.t.Errorf("bad status pack: %v", err)
		return
	}

	dat := dataPack{Type: packTypeData, MAC: f.mac, Cols: req.Cols}
	for _, col := range req.Cols {
		dat.Dat = append(dat.Dat, f.get(col))
	}
	f.mu.Lock()
	if f.shortData && len(dat.Dat) > 0 {
		dat.Dat = dat.Dat[:len(dat.Dat)-1]
	}
	dup := f.duplicateData
	delay := f.statusDelay
	redeliver := f.redeliverData
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	data, err := sealEnvelope(dat, f.gen, f.key, "", false)
	if err != nil {
		f.t.Errorf("seal dat: %v", err)
		return
	}
	f.conn.WriteToUDP(data, src)
	if dup {
		f.conn.WriteToUDP(data, src)
	}
	if redeliver > 0 {
		time.AfterFunc(redeliver, func() { f.conn.WriteToUDP(data, src) })
	}
}

func (f *fakeDevice) answerCmd(raw json.RawMessage, src *net.UDPAddr) {
	if !f.allowAnswer() {
		return
	}
	var req cmdPack
	if err := json.Unmarshal(raw, &req); err != nil {
		f.t.Errorf("bad cmd pack: %v", err)
		return
	}

	res := resultPack{Type: packTypeResult, MAC: f.mac, Opt: req.Opt}
	for i, name := range req.Opt {
		f.set(name, req.P[i])
		res.Val = append(res.Val, req.P[i])
	}

	data, err := sealEnvelope(res, f.gen, f.key, "", false)
	if err != nil {
		f.t.Errorf("seal res: %v", err)
		return
	}
	f.conn.WriteToUDP(data, src)
}

// newTestClient builds a client with short timeouts suitable for loopback
// tests.
func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithDiscoveryTimeout(defaultTestWindow),
		WithBindTimeout(defaultTestWindow),
		WithRequestTimeout(defaultTestWindow),
	}
	c, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}
