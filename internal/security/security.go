// Package security implements the per-connection Security Manager of
// spec.md §4.3: X25519 key exchange, SHA-256 session key derivation, and
// ChaCha20-Poly1305 AEAD encrypt/decrypt. It wraps golang.org/x/crypto
// rather than reimplementing any of those primitives — unlike the codec and
// LZ4 engine, cryptographic primitives are exactly the kind of code a
// production Go service always sources from a vetted library.
package security

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/ocx/gateway/internal/gatewayerr"
)

const (
	// KeySize is the X25519 key size and the derived session key size.
	KeySize = 32
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the ChaCha20-Poly1305 authentication tag size.
	TagSize = 16
	// MinEncryptedLen is nonce + tag with zero-length plaintext.
	MinEncryptedLen = NonceSize + TagSize
)

// GenerateKeyPair produces a fresh X25519 private/public key pair.
func GenerateKeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, gatewayerr.New(gatewayerr.KindUnknown, "security.GenerateKeyPair", err)
	}
	// Clamp per RFC 7748. curve25519.X25519 also clamps the scalar
	// internally, so the stored private key is exactly the scalar X25519
	// uses both here and when it is later passed to SharedSecret.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, gatewayerr.New(gatewayerr.KindUnknown, "security.GenerateKeyPair", err)
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret between a
// local private key and a peer's public key.
func SharedSecret(priv, peerPub [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return out, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "security.SharedSecret", err)
	}
	copy(out[:], secret)
	return out, nil
}

// DeriveSessionKey hashes a shared secret down to a symmetric AEAD key.
func DeriveSessionKey(sharedSecret [KeySize]byte) [KeySize]byte {
	return sha256.Sum256(sharedSecret[:])
}

// Manager holds per-connection key material and exposes encrypt/decrypt
// wrapping the session AEAD key. It must not be used concurrently from
// multiple goroutines without external synchronization — the owning
// Connection serializes access via its single I/O task, per spec.md §5.
type Manager struct {
	sessionKey [KeySize]byte
	ready      bool
}

// NewManager creates a Manager with no session key yet derived.
func NewManager() *Manager {
	return &Manager{}
}

// DeriveSessionKeyFrom computes and installs the session key from a local
// private key and a peer public key. Must be called exactly once per
// handshake; a second call overwrites the key.
func (m *Manager) DeriveSessionKeyFrom(priv, peerPub [KeySize]byte) error {
	shared, err := SharedSecret(priv, peerPub)
	if err != nil {
		return err
	}
	m.sessionKey = DeriveSessionKey(shared)
	m.ready = true
	return nil
}

// SessionKey returns the current session key and whether one has been
// derived.
func (m *Manager) SessionKey() ([KeySize]byte, bool) {
	return m.sessionKey, m.ready
}

// Ready reports whether a session key has been derived.
func (m *Manager) Ready() bool { return m.ready }

// Encrypt wraps plaintext as nonce(12) || ciphertext || tag(16), per
// spec.md §6. Fails with EncryptionNotReady if DeriveSessionKeyFrom hasn't
// run yet.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	if !m.ready {
		return nil, gatewayerr.New(gatewayerr.KindEncryptionNotReady, "security.Encrypt", nil)
	}
	aead, err := chacha20poly1305.New(m.sessionKey[:])
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUnknown, "security.Encrypt", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUnknown, "security.Encrypt", err)
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt reverses Encrypt. Fails with Malformed if ciphertext is shorter
// than MinEncryptedLen, EncryptionNotReady if no session key has been
// derived, or AuthenticationFailed on tag mismatch.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	if !m.ready {
		return nil, gatewayerr.New(gatewayerr.KindEncryptionNotReady, "security.Decrypt", nil)
	}
	if len(ciphertext) < MinEncryptedLen {
		return nil, gatewayerr.New(gatewayerr.KindMalformed, "security.Decrypt", nil)
	}

	aead, err := chacha20poly1305.New(m.sessionKey[:])
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUnknown, "security.Decrypt", err)
	}

	nonce := ciphertext[:NonceSize]
	sealed := ciphertext[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "security.Decrypt", err)
	}
	return plaintext, nil
}

// Reset clears the session key, forcing re-handshake before the next
// encrypt/decrypt call. Used when a connection is demoted back to
// Connecting after a decrypt failure (spec.md §3).
func (m *Manager) Reset() {
	m.sessionKey = [KeySize]byte{}
	m.ready = false
}
