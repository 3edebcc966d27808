package crypto

import (
	"bytes"
	"testing"

	"derpnetws/internal/errs"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	st, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msgs := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("Hello, World!"),
		bytes.Repeat([]byte{0x42}, 4096),
	}
	for _, m := range msgs {
		ct := st.Encrypt(m)
		pt, err := st.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(pt, m) {
			t.Fatalf("round-trip mismatch: got %q want %q", pt, m)
		}
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	st, _ := New()
	a := st.Encrypt([]byte("same"))
	b := st.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptAuthenticityFailsOnBitFlip(t *testing.T) {
	st, _ := New()
	ct := st.Encrypt([]byte("Hello, World!"))
	ct[len(ct)-1] ^= 0x01

	_, err := st.Decrypt(ct)
	if err == nil {
		t.Fatal("expected authentication failure after bit flip")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.CryptoError {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}

func TestDecryptTooShort(t *testing.T) {
	st, _ := New()
	_, err := st.Decrypt([]byte("short"))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestSignVerify(t *testing.T) {
	st, _ := New()
	m1 := []byte("message one")
	m2 := []byte("message two")

	sig := st.Sign(m1)
	ok, err := st.Verify(m1, sig)
	if err != nil || !ok {
		t.Fatalf("Verify(m1, sign(m1)) = %v, %v; want true, nil", ok, err)
	}

	ok, err = st.Verify(m2, sig)
	if err != nil || ok {
		t.Fatalf("Verify(m2, sign(m1)) = %v, %v; want false, nil", ok, err)
	}
}

func TestVerifyMalformedBase64(t *testing.T) {
	st, _ := New()
	_, err := st.Verify([]byte("x"), "not-valid-base64!!")
	if err == nil {
		t.Fatal("expected CryptoError for malformed base64")
	}
}

func TestDeriveSessionKeyStableAndSingleUse(t *testing.T) {
	st, _ := New()
	serverKey := bytes.Repeat([]byte{0x07}, 32)

	k1, err := st.DeriveSessionKey(serverKey)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	if len(k1) != 32 {
		t.Fatalf("session key length = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, st.SessionKey()) {
		t.Fatal("SessionKey() does not match derived key")
	}

	if _, err := st.DeriveSessionKey(serverKey); err == nil {
		t.Fatal("expected error re-deriving session key")
	}
}

func TestDeriveSessionKeyRejectsWrongLength(t *testing.T) {
	st, _ := New()
	_, err := st.DeriveSessionKey([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected InvalidProtocol for short server key")
	}
}

func TestChaCha20Poly1305Suite(t *testing.T) {
	st, err := New(WithCipherSuite(SuiteChaCha20Poly1305))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ct := st.Encrypt([]byte("payload"))
	pt, err := st.Decrypt(ct)
	if err != nil || string(pt) != "payload" {
		t.Fatalf("round-trip failed: %v %q", err, pt)
	}
}
