package esm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	codecNonceSize = 12
	codecKeySize   = 32
)

// Sentinel error kinds from the error handling design. Callers use
// errors.Is; text carried alongside comes from fmt.Errorf wrapping.
var (
	ErrFrameMalformed = errors.New("esm: frame malformed")
	ErrDecrypt        = errors.New("esm: decryption failed")
	ErrSerialize      = errors.New("esm: serialize failed")
	ErrDeserialize    = errors.New("esm: deserialize failed")
)

// ParseHeader extracts the cleartext server_id from an encoded packet
// without needing the key, so the caller can resolve the key before
// attempting decryption. It also validates the nonce length field.
func ParseHeader(b []byte) (serverID []byte, err error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty packet", ErrFrameMalformed)
	}
	l := int(b[0])
	if l == 0 {
		return nil, fmt.Errorf("%w: server_id length is 0", ErrFrameMalformed)
	}
	if 1+l >= len(b) {
		return nil, fmt.Errorf("%w: server_id length %d overruns packet", ErrFrameMalformed, l)
	}
	n := int(b[1+l])
	if n != codecNonceSize {
		return nil, fmt.Errorf("%w: nonce length %d != %d", ErrFrameMalformed, n, codecNonceSize)
	}
	return b[1 : 1+l], nil
}

// Encode encrypts message into a framed packet as specified in the codec
// layout (length-prefixed server_id, then a 12-byte nonce, then the AEAD
// ciphertext). The key must be at least 32 bytes; only the first 32 are
// used. A fresh random nonce is sampled on every call.
func Encode(m *Message, key []byte) ([]byte, error) {
	if len(m.ServerID) == 0 {
		return nil, fmt.Errorf("%w: message has no server_id", ErrFrameMalformed)
	}
	if len(m.ServerID) > 255 {
		return nil, fmt.Errorf("%w: server_id too long (%d bytes)", ErrFrameMalformed, len(m.ServerID))
	}
	if len(key) < codecKeySize {
		return nil, fmt.Errorf("esm: key too short (%d bytes, need %d)", len(key), codecKeySize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	nonce := make([]byte, codecNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("esm: generate nonce: %w", err)
	}

	packet := make([]byte, 0, 1+len(m.ServerID)+1+codecNonceSize+len(plaintext)+gcm.Overhead())
	packet = append(packet, byte(len(m.ServerID)))
	packet = append(packet, m.ServerID...)
	packet = append(packet, byte(codecNonceSize))
	packet = append(packet, nonce...)
	packet = gcm.Seal(packet, nonce, plaintext, nil)

	return packet, nil
}

// Decode parses and decrypts a framed packet with the given key. The
// returned Message's ServerID is set from the cleartext header, which is
// authoritative until AEAD verification succeeds; a successful decryption
// binds the endpoint to that identity.
func Decode(b []byte, key []byte) (*Message, error) {
	serverID, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if len(key) < codecKeySize {
		return nil, fmt.Errorf("esm: key too short (%d bytes, need %d)", len(key), codecKeySize)
	}

	l := len(serverID)
	rest := b[1+l+1:]
	if len(rest) < codecNonceSize {
		return nil, fmt.Errorf("%w: packet shorter than nonce", ErrFrameMalformed)
	}
	nonce, ciphertext := rest[:codecNonceSize], rest[codecNonceSize:]

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	var m Message
	if err := m.UnmarshalBinary(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	m.ServerID = append([]byte(nil), serverID...)

	return &m, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	c, err := aes.NewCipher(key[:codecKeySize])
	if err != nil {
		return nil, fmt.Errorf("esm: init aes: %w", err)
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, fmt.Errorf("esm: init gcm: %w", err)
	}
	if gcm.NonceSize() != codecNonceSize {
		return nil, fmt.Errorf("esm: unexpected nonce size %d", gcm.NonceSize())
	}
	return gcm, nil
}
