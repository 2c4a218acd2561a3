package gree

import (
	"encoding/json"
	"fmt"
)

// Outer message type tags.
const (
	typeScan = "scan"
	typePack = "pack"
)

// Inner pack type tags.
const (
	packTypeDev    = "dev"
	packTypeBind   = "bind"
	packTypeBindOK = "bindok"
	packTypeStatus = "status"
	packTypeCmd    = "cmd"
	packTypeData   = "dat"
	packTypeResult = "res"
)

// clientID identifies this client in outgoing envelopes. The firmware only
// distinguishes "app" from other controllers.
const clientID = "app"

// envelope is the outer wire message. The pack field carries the encrypted
// payload; tag and iv are only present for ModernGCM traffic.
type envelope struct {
	Type string `json:"t"`
	I    int    `json:"i,omitempty"`
	CID  string `json:"cid,omitempty"`
	UID  int    `json:"uid,omitempty"`
	TCID string `json:"tcid,omitempty"`
	Pack string `json:"pack,omitempty"`
	Tag  string `json:"tag,omitempty"`
	IV   string `json:"iv,omitempty"`
}

// packHeader is decoded first to learn the inner payload type.
type packHeader struct {
	Type string `json:"t"`
}

type devPack struct {
	Type    string `json:"t"`
	CID     string `json:"cid"`
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Version string `json:"ver"`
	Encrypt int    `json:"e,omitempty"`
}

type bindPack struct {
	Type string `json:"t"`
	MAC  string `json:"mac"`
	UID  int    `json:"uid"`
}

type bindOKPack struct {
	Type string `json:"t"`
	MAC  string `json:"mac"`
	Key  string `json:"key"`
}

type statusPack struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac"`
	Cols []string `json:"cols"`
}

type cmdPack struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac"`
	Opt  []string `json:"opt"`
	P    []any    `json:"p"`
}

type dataPack struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac"`
	Cols []string `json:"cols"`
	Dat  []any    `json:"dat"`
}

type resultPack struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac"`
	Opt  []string `json:"opt"`
	Val  []any    `json:"val"`
}

// sealEnvelope encrypts pack under the given generation and key and wraps it
// in an outer envelope addressed to tcid. handshake marks scan/bind traffic,
// which the firmware expects flagged with i=1.
func sealEnvelope(pack any, gen CipherGeneration, key []byte, tcid string, handshake bool) ([]byte, error) {
	plain, err := json.Marshal(pack)
	if err != nil {
		return nil, err
	}
	s, err := encryptPack(gen, key, plain)
	if err != nil {
		return nil, err
	}
	env := envelope{
		Type: typePack,
		CID:  clientID,
		TCID: tcid,
		Pack: s.pack,
		Tag:  s.tag,
		IV:   s.nonce,
	}
	if handshake {
		env.I = 1
	}
	return json.Marshal(env)
}

// parseEnvelope decodes only the outer wire message; the pack stays opaque.
func parseEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing message type", ErrDecode)
	}
	return &env, nil
}

// openPack decrypts an envelope's pack and returns the inner type tag along
// with the raw payload for a typed second pass.
func openPack(env *envelope, gen CipherGeneration, key []byte) (string, json.RawMessage, error) {
	if env.Pack == "" {
		return "", nil, fmt.Errorf("%w: envelope has no pack", ErrDecode)
	}
	plain, err := decryptPack(gen, key, sealed{pack: env.Pack, tag: env.Tag, nonce: env.IV})
	if err != nil {
		return "", nil, err
	}
	var hdr packHeader
	if err := json.Unmarshal(plain, &hdr); err != nil {
		return "", nil, fmt.Errorf("%w: pack is not valid JSON: %v", ErrDecode, err)
	}
	if hdr.Type == "" {
		return "", nil, fmt.Errorf("%w: pack has no type tag", ErrDecode)
	}
	return hdr.Type, plain, nil
}

// PropertyBatch is an ordered pairing of property names to values, used for
// both read results and write payloads.
type PropertyBatch struct {
	names  []string
	values []any
}

// NewPropertyBatch creates an empty batch.
func NewPropertyBatch() *PropertyBatch {
	return &PropertyBatch{}
}

// Add appends a property. Adding a name twice overwrites the earlier value
// while keeping the original position.
func (b *PropertyBatch) Add(name string, value any) *PropertyBatch {
	for i, n := range b.names {
		if n == name {
			b.values[i] = value
			return b
		}
	}
	b.names = append(b.names, name)
	b.values = append(b.values, value)
	return b
}

// Get returns the value for name.
func (b *PropertyBatch) Get(name string) (any, bool) {
	for i, n := range b.names {
		if n == name {
			return b.values[i], true
		}
	}
	return nil, false
}

// Names returns the property names in insertion order.
func (b *PropertyBatch) Names() []string {
	return append([]string(nil), b.names...)
}

// Values returns the values in the same order as Names.
func (b *PropertyBatch) Values() []any {
	return append([]any(nil), b.values...)
}

func (b *PropertyBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}

// zipBatch pairs names with values positionally, enforcing the protocol
// invariant that both sides have equal cardinality.
func zipBatch(kind string, names []string, values []any) (*PropertyBatch, error) {
	if len(names) != len(values) {
		return nil, &ProtocolError{Kind: kind, Want: len(names), Got: len(values)}
	}
	batch := NewPropertyBatch()
	for i, n := range names {
		batch.Add(n, values[i])
	}
	return batch, nil
}
