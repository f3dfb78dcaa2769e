// Package cryptoengine wraps the primitive operations the Peer Engine
// needs: X25519 key agreement, ChaCha20-Poly1305 AEAD, Ed25519 signing,
// and SHA-256 hashing. It never touches the Key Vault or the wire
// format; callers supply raw key material.
package cryptoengine

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/wisp-chat/wisp/internal/errs"
)

const (
	agreementKeySize = 32
	signingKeySize   = ed25519.PublicKeySize // 32
	signatureSize    = ed25519.SignatureSize // 64
	nonceSize        = chacha20poly1305.NonceSize
	macSize          = 16
	hashSize         = sha256.Size

	hkdfInfo = "wisp-session-key-v1"
)

// Envelope is the ciphertext object described in spec §3: a signed,
// authenticated encryption of one plaintext message. Base64 encoding
// only applies at the wire boundary; this type carries raw bytes.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	MAC        []byte
	Signature  []byte
}

// Engine binds one identity's private key material to the primitive
// operations. It holds no peer state — Peer Directory owns that.
type Engine struct {
	agreementPriv [agreementKeySize]byte
	agreementPub  [agreementKeySize]byte
	signingPriv   ed25519.PrivateKey
	signingPub    ed25519.PublicKey
}

// New binds an Engine to the given identity key material. All slices
// must already be the correct length; callers load them from the Key
// Vault via the Identity Manager.
func New(agreementPriv, agreementPub []byte, signingPriv, signingPub []byte) (*Engine, error) {
	if len(agreementPriv) != agreementKeySize || len(agreementPub) != agreementKeySize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("agreement key must be %d bytes", agreementKeySize))
	}
	if len(signingPub) != signingKeySize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("signing public key must be %d bytes", signingKeySize))
	}

	e := &Engine{
		signingPriv: ed25519.PrivateKey(signingPriv),
		signingPub:  ed25519.PublicKey(signingPub),
	}
	copy(e.agreementPriv[:], agreementPriv)
	copy(e.agreementPub[:], agreementPub)
	return e, nil
}

// GenerateAgreementKeyPair creates a fresh X25519 key pair, clamped per
// the X25519 spec.
func GenerateAgreementKeyPair() (priv, pub []byte, err error) {
	p := make([]byte, agreementKeySize)
	if _, err := rand.Read(p); err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}
	p[0] &= 248
	p[31] &= 127
	p[31] |= 64

	pb, err := curve25519.X25519(p, curve25519.Basepoint)
	if err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}
	return p, pb, nil
}

// GenerateSigningKeyPair creates a fresh Ed25519 key pair.
//
// The signature scheme is grounded on the stdlib crypto/ed25519
// package rather than an ecosystem library: golang.org/x/crypto (the
// teacher's crypto dependency) does not ship an alternative Ed25519
// implementation, and Ed25519's 32-byte public key / 64-byte signature
// sizes match spec §6 exactly.
func GenerateSigningKeyPair() (priv, pub []byte, err error) {
	pb, pv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}
	return pv, pb, nil
}

// Encrypt implements spec §4.2 encrypt(): derive a shared secret via
// X25519, AEAD-seal the plaintext, then sign the ciphertext (not the
// plaintext) with the own signing key.
func (e *Engine) Encrypt(plaintext []byte, peerAgreementPub []byte) (*Envelope, error) {
	if len(plaintext) == 0 {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("plaintext must be non-empty"))
	}
	if len(peerAgreementPub) != agreementKeySize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("peer agreement key must be %d bytes", agreementKeySize))
	}
	if e.signingPriv == nil {
		return nil, errs.NewCryptoError(errs.CryptoMissingIdentity, fmt.Errorf("no signing identity bound"))
	}

	shared, err := e.deriveSharedKey(peerAgreementPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-macSize]
	mac := sealed[len(sealed)-macSize:]

	sig := ed25519.Sign(e.signingPriv, ct)
	if len(sig) != signatureSize {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, fmt.Errorf("unexpected signature length %d", len(sig)))
	}

	return &Envelope{Ciphertext: ct, Nonce: nonce, MAC: mac, Signature: sig}, nil
}

// Decrypt implements spec §4.2 decrypt(): verify the signature over the
// ciphertext before spending any decryption work, then AEAD-open using
// a freshly re-derived shared secret.
func (e *Engine) Decrypt(env *Envelope, senderAgreementPub, senderSigningPub []byte) ([]byte, error) {
	if len(senderSigningPub) != signingKeySize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("sender signing key must be %d bytes", signingKeySize))
	}
	if len(senderAgreementPub) != agreementKeySize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("sender agreement key must be %d bytes", agreementKeySize))
	}
	if len(env.Signature) != signatureSize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("signature must be %d bytes", signatureSize))
	}
	if len(env.Nonce) != nonceSize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("nonce must be %d bytes", nonceSize))
	}
	if len(env.MAC) != macSize {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("mac must be %d bytes", macSize))
	}

	if !ed25519.Verify(ed25519.PublicKey(senderSigningPub), env.Ciphertext, env.Signature) {
		return nil, &errs.IntegrityError{Reason: "signature verification failed"}
	}

	shared, err := e.deriveSharedKey(senderAgreementPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}

	sealed := append(append([]byte{}, env.Ciphertext...), env.MAC...)
	plaintext, err := aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, &errs.IntegrityError{Reason: "mac verification failed"}
	}

	return plaintext, nil
}

// Sign produces a detached 64-byte signature over arbitrary bytes, used
// for auth challenges and the plaintext-fallback send path.
func (e *Engine) Sign(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("data must be non-empty"))
	}
	if e.signingPriv == nil {
		return nil, errs.NewCryptoError(errs.CryptoMissingIdentity, fmt.Errorf("no signing identity bound"))
	}
	return ed25519.Sign(e.signingPriv, data), nil
}

// Verify checks a detached signature against arbitrary bytes and a
// signing public key.
func Verify(data, sig, pub []byte) (bool, error) {
	if len(data) == 0 {
		return false, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("data must be non-empty"))
	}
	if len(pub) != signingKeySize || len(sig) != signatureSize {
		return false, errs.NewCryptoError(errs.CryptoInvalidInput, fmt.Errorf("invalid key or signature length"))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

// Hash returns the 32-byte SHA-256 digest of data.
func Hash(data []byte) [hashSize]byte {
	return sha256.Sum256(data)
}

// IntegrityOk is a pure equality check between data's hash and an
// expected hash.
func IntegrityOk(data []byte, expectedHash [hashSize]byte) bool {
	got := Hash(data)
	return bytes.Equal(got[:], expectedHash[:])
}

// AgreementPublicKey returns the engine's own X25519 public key.
func (e *Engine) AgreementPublicKey() []byte {
	out := make([]byte, agreementKeySize)
	copy(out, e.agreementPub[:])
	return out
}

// SigningPublicKey returns the engine's own Ed25519 public key.
func (e *Engine) SigningPublicKey() []byte {
	out := make([]byte, signingKeySize)
	copy(out, e.signingPub)
	return out
}

func (e *Engine) deriveSharedKey(peerAgreementPub []byte) ([]byte, error) {
	raw, err := curve25519.X25519(e.agreementPriv[:], peerAgreementPub)
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}
	if len(raw) != agreementKeySize {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, fmt.Errorf("unexpected shared secret length %d", len(raw)))
	}

	kdf := hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errs.NewCryptoError(errs.CryptoPrimitiveFailure, err)
	}
	return key, nil
}
