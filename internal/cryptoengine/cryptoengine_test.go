package cryptoengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisp-chat/wisp/internal/errs"
)

type party struct {
	agreementPriv, agreementPub []byte
	signingPriv, signingPub     []byte
	engine                      *Engine
}

func newParty(t *testing.T) *party {
	t.Helper()
	aPriv, aPub, err := GenerateAgreementKeyPair()
	require.NoError(t, err)
	sPriv, sPub, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	eng, err := New(aPriv, aPub, sPriv, sPub)
	require.NoError(t, err)

	return &party{
		agreementPriv: aPriv, agreementPub: aPub,
		signingPriv: sPriv, signingPub: sPub,
		engine: eng,
	}
}

func TestGenerateAgreementKeyPair(t *testing.T) {
	priv1, pub1, err := GenerateAgreementKeyPair()
	require.NoError(t, err)
	assert.Len(t, priv1, 32)
	assert.Len(t, pub1, 32)

	_, pub2, err := GenerateAgreementKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, pub1, pub2, "two key pairs should differ")
}

func TestGenerateSigningKeyPair(t *testing.T) {
	priv, pub, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	assert.Len(t, priv, 64)
	assert.Len(t, pub, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)

	plaintext := []byte("hello bob, this is a secret message")
	env, err := alice.engine.Encrypt(plaintext, bob.agreementPub)
	require.NoError(t, err)
	assert.Len(t, env.Nonce, 12)
	assert.Len(t, env.MAC, 16)
	assert.Len(t, env.Signature, 64)

	decrypted, err := bob.engine.Decrypt(env, alice.agreementPub, alice.signingPub)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)

	env, err := alice.engine.Encrypt([]byte("tamper me"), bob.agreementPub)
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xFF
	_, err = bob.engine.Decrypt(env, alice.agreementPub, alice.signingPub)
	require.Error(t, err)
	var integrityErr *errs.IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

func TestDecryptTamperedMACFails(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)

	env, err := alice.engine.Encrypt([]byte("tamper mac"), bob.agreementPub)
	require.NoError(t, err)

	env.MAC[0] ^= 0xFF
	_, err = bob.engine.Decrypt(env, alice.agreementPub, alice.signingPub)
	require.Error(t, err)
	var integrityErr *errs.IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

func TestDecryptTamperedSignatureFails(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)

	env, err := alice.engine.Encrypt([]byte("tamper sig"), bob.agreementPub)
	require.NoError(t, err)

	env.Signature[0] ^= 0xFF
	_, err = bob.engine.Decrypt(env, alice.agreementPub, alice.signingPub)
	require.Error(t, err)
	var integrityErr *errs.IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)

	_, err := alice.engine.Encrypt(nil, bob.agreementPub)
	require.Error(t, err)
	var cryptoErr *errs.CryptoError
	require.ErrorAs(t, err, &cryptoErr)
	assert.Equal(t, errs.CryptoInvalidInput, cryptoErr.Kind)
}

func TestSignVerify(t *testing.T) {
	alice := newParty(t)

	data := []byte("2026-07-29T00:00:00Z")
	sig, err := alice.engine.Sign(data)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	ok, err := Verify(data, sig, alice.signingPub)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify([]byte("tampered"), sig, alice.signingPub)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashDeterminism(t *testing.T) {
	x := []byte("some bytes")
	y := []byte("other bytes")

	assert.Equal(t, Hash(x), Hash(x))
	assert.True(t, IntegrityOk(x, Hash(x)))
	assert.False(t, IntegrityOk(x, Hash(y)))
}
