package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// CipherGeneration selects the encryption scheme a device speaks. It is
// chosen once per device and never changes for the lifetime of a Session.
type CipherGeneration int

const (
	// LegacyECB is AES-128-ECB with PKCS#7 padding, used by first
	// generation units for all traffic.
	LegacyECB CipherGeneration = iota + 1
	// ModernGCM is AES-128-GCM with a random per-message nonce and an
	// authentication tag carried alongside the ciphertext.
	ModernGCM
)

func (g CipherGeneration) String() string {
	switch g {
	case LegacyECB:
		return "ecb"
	case ModernGCM:
		return "gcm"
	default:
		return fmt.Sprintf("cipher(%d)", int(g))
	}
}

// Well-known generic keys used for scan and bind traffic before a device
// key has been negotiated.
var (
	genericKeyECB = []byte("a3K8Bx%2r8Y7#xDh")
	genericKeyGCM = []byte("{yxAHAY_Lm6pbC/<")
)

const gcmNonceSize = 12

// GenericKey returns the well-known handshake key for a cipher generation.
func GenericKey(gen CipherGeneration) []byte {
	if gen == ModernGCM {
		return append([]byte(nil), genericKeyGCM...)
	}
	return append([]byte(nil), genericKeyECB...)
}

// sealed holds the base64 fields produced by encrypting a pack.
type sealed struct {
	pack  string
	tag   string
	nonce string
}

func encryptPack(gen CipherGeneration, key, plaintext []byte) (sealed, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealed{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch gen {
	case LegacyECB:
		padded := pkcs7Pad(plaintext, aes.BlockSize)
		out := make([]byte, len(padded))
		for i := 0; i < len(padded); i += aes.BlockSize {
			block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
		}
		return sealed{pack: base64.StdEncoding.EncodeToString(out)}, nil

	case ModernGCM:
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return sealed{}, err
		}
		nonce := make([]byte, gcmNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return sealed{}, err
		}
		out := gcm.Seal(nil, nonce, plaintext, nil)
		split := len(out) - gcm.Overhead()
		return sealed{
			pack:  base64.StdEncoding.EncodeToString(out[:split]),
			tag:   base64.StdEncoding.EncodeToString(out[split:]),
			nonce: base64.StdEncoding.EncodeToString(nonce),
		}, nil

	default:
		return sealed{}, fmt.Errorf("unsupported cipher generation %d", int(gen))
	}
}

func decryptPack(gen CipherGeneration, key []byte, s sealed) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	ct, err := base64.StdEncoding.DecodeString(s.pack)
	if err != nil {
		return nil, fmt.Errorf("%w: pack is not base64: %v", ErrDecode, err)
	}

	switch gen {
	case LegacyECB:
		if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecode, len(ct))
		}
		out := make([]byte, len(ct))
		for i := 0; i < len(ct); i += aes.BlockSize {
			block.Decrypt(out[i:i+aes.BlockSize], ct[i:i+aes.BlockSize])
		}
		plain, err := pkcs7Unpad(out, aes.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return plain, nil

	case ModernGCM:
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		tag, err := base64.StdEncoding.DecodeString(s.tag)
		if err != nil {
			return nil, fmt.Errorf("%w: tag is not base64: %v", ErrDecode, err)
		}
		nonce, err := base64.StdEncoding.DecodeString(s.nonce)
		if err != nil || len(nonce) != gcmNonceSize {
			return nil, fmt.Errorf("%w: bad nonce", ErrDecode)
		}
		plain, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: authentication failed", ErrDecode)
		}
		return plain, nil

	default:
		return nil, fmt.Errorf("unsupported cipher generation %d", int(gen))
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("pad byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
