// Package crypto provides the symmetric AEAD + MAC layer the relay engine
// uses to protect user payloads, and the session-key KDF run once the
// server's key arrives during the handshake. Keys are drawn straight from
// crypto/rand, never derived from a password.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"derpnetws/internal/errs"
)

// Suite selects the AEAD construction used for encrypt/decrypt.
type Suite int

const (
	// SuiteAES256GCM is the default, matching spec.md's "AES-256-GCM with a
	// fresh 12-byte nonce per call".
	SuiteAES256GCM Suite = iota
	// SuiteChaCha20Poly1305 is an alternate AEAD construction.
	SuiteChaCha20Poly1305
)

const (
	aeadKeySize = 32
	macKeySize  = 32
	nonceSize   = 12

	sessionKeyInfo = "derpnet session v1"
)

// Option configures a new State.
type Option func(*options)

type options struct {
	suite Suite
}

// WithCipherSuite selects a non-default AEAD suite.
func WithCipherSuite(s Suite) Option {
	return func(o *options) { o.suite = s }
}

// State owns the AEAD and MAC keys for the lifetime of one engine. It is
// safe for concurrent use: encrypt/decrypt/sign/verify never mutate state,
// and the session key is written at most once (guarded by a mutex).
type State struct {
	aead    cipher.AEAD
	macKey  []byte
	aeadKey []byte

	mu         sync.Mutex
	sessionKey []byte
}

// New generates a fresh AEAD key and MAC key from crypto/rand. Failure to
// obtain entropy is fatal to construction, per spec.md §4.1.
func New(opts ...Option) (*State, error) {
	const op = "crypto.New"

	o := options{suite: SuiteAES256GCM}
	for _, fn := range opts {
		fn(&o)
	}

	aeadKey := make([]byte, aeadKeySize)
	if _, err := io.ReadFull(rand.Reader, aeadKey); err != nil {
		return nil, errs.New(errs.CryptoError, op, fmt.Errorf("generate aead key: %w", err))
	}
	macKey := make([]byte, macKeySize)
	if _, err := io.ReadFull(rand.Reader, macKey); err != nil {
		return nil, errs.New(errs.CryptoError, op, fmt.Errorf("generate mac key: %w", err))
	}

	aead, err := newAEAD(o.suite, aeadKey)
	if err != nil {
		return nil, errs.New(errs.CryptoError, op, err)
	}

	return &State{aead: aead, macKey: macKey, aeadKey: aeadKey}, nil
}

func newAEAD(suite Suite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// Encrypt seals plaintext under a fresh random nonce and returns
// nonce || ciphertext_with_tag.
func (s *State) Encrypt(plaintext []byte) []byte {
	nonce := make([]byte, nonceSize)
	_, _ = io.ReadFull(rand.Reader, nonce) // crypto/rand.Reader never errors in practice
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, nil)
}

// Decrypt splits the nonce from buf and authenticates+decrypts the rest.
func (s *State) Decrypt(buf []byte) ([]byte, error) {
	const op = "crypto.Decrypt"
	if len(buf) < nonceSize {
		return nil, errs.New(errs.CryptoError, op, fmt.Errorf("ciphertext too short: %d bytes", len(buf)))
	}
	nonce, ciphertext := buf[:nonceSize], buf[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.CryptoError, op, fmt.Errorf("authentication failed: %w", err))
	}
	return plaintext, nil
}

// Sign returns the base64-encoded HMAC-SHA256 of data under the MAC key.
func (s *State) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC over data and compares it in constant time
// against the base64-decoded signature.
func (s *State) Verify(data []byte, signature string) (bool, error) {
	const op = "crypto.Verify"
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, errs.New(errs.CryptoError, op, fmt.Errorf("decode signature: %w", err))
	}
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(data)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DeriveSessionKey runs HKDF-SHA256 over the 32-byte server-supplied value
// (as IKM), salted with the local AEAD key, with a fixed info string. The
// session key may be derived at most once per State; a second call is an
// error rather than silently re-deriving.
func (s *State) DeriveSessionKey(serverPub []byte) ([]byte, error) {
	const op = "crypto.DeriveSessionKey"
	if len(serverPub) != 32 {
		return nil, errs.New(errs.InvalidProtocol, op, fmt.Errorf("server key must be 32 bytes, got %d", len(serverPub)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionKey != nil {
		return nil, errs.New(errs.InvalidState, op, fmt.Errorf("session key already derived"))
	}

	r := hkdf.New(sha256.New, serverPub, s.aeadKey, []byte(sessionKeyInfo))
	key := make([]byte, aeadKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errs.New(errs.CryptoError, op, fmt.Errorf("hkdf expand: %w", err))
	}
	s.sessionKey = key
	return key, nil
}

// SessionKey returns the derived session key, or nil if DeriveSessionKey has
// not yet succeeded.
func (s *State) SessionKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionKey
}
