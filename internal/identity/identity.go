// Package identity owns the user's signing and key-agreement key
// pairs: it is the only caller permitted to read or write the raw key
// bytes in the Key Vault, and the only place ephemeral reset and vault
// corruption recovery are implemented (spec §4.1).
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/cryptoengine"
	"github.com/wisp-chat/wisp/internal/errs"
	"github.com/wisp-chat/wisp/internal/vault"
)

const (
	agreementKeySize = 32
	signingPrivSize  = 64 // ed25519.PrivateKeySize
	signingPubSize   = 32
	userIDHexLen     = 16
)

// Identity is the user's full key material plus its derived ID.
type Identity struct {
	UserID        string
	AgreementPriv []byte
	AgreementPub  []byte
	SigningPriv   []byte
	SigningPub    []byte
}

// Engine builds a cryptoengine.Engine bound to this identity's keys.
func (id *Identity) Engine() (*cryptoengine.Engine, error) {
	return cryptoengine.New(id.AgreementPriv, id.AgreementPub, id.SigningPriv, id.SigningPub)
}

// Manager owns identity lifecycle against a Key Vault backend.
type Manager struct {
	vault  vault.Vault
	logger zerolog.Logger
}

// NewManager binds a Manager to the given vault backend.
func NewManager(v vault.Vault, logger zerolog.Logger) *Manager {
	return &Manager{vault: v, logger: logger.With().Str("component", "identity").Logger()}
}

// HasIdentity reports whether both private keys exist in the vault and
// decode to the correct byte lengths.
func (m *Manager) HasIdentity(ctx context.Context) (bool, error) {
	agreementPriv, ok1, err := m.vault.Get(ctx, vault.KeyAgreementPriv)
	if err != nil {
		return false, &errs.VaultError{Op: "has_identity", Err: err}
	}
	signingPriv, ok2, err := m.vault.Get(ctx, vault.KeySigningPriv)
	if err != nil {
		return false, &errs.VaultError{Op: "has_identity", Err: err}
	}
	if !ok1 || !ok2 {
		return false, nil
	}
	return len(agreementPriv) == agreementKeySize && len(signingPriv) == signingPrivSize, nil
}

// EnsureIdentity loads the identity from the vault, generating and
// persisting a fresh one if absent. On any decode/length failure the
// vault is wiped and regeneration runs — the only recovery path
// permitted for a corrupted vault.
func (m *Manager) EnsureIdentity(ctx context.Context) (*Identity, error) {
	id, err := m.load(ctx)
	if err == nil {
		return id, nil
	}

	m.logger.Warn().Err(err).Msg("vault unreadable or corrupted, wiping and regenerating identity")
	if clearErr := m.vault.Clear(ctx); clearErr != nil {
		return nil, &errs.VaultError{Op: "ensure_identity_wipe", Err: clearErr}
	}

	return m.generate(ctx)
}

// DeleteIdentity best-effort deletes all four blobs and the derived
// ID. Subsequent calls to HasIdentity see no identity.
func (m *Manager) DeleteIdentity(ctx context.Context) error {
	names := []string{
		vault.KeyUserID,
		vault.KeySigningPriv,
		vault.KeySigningPub,
		vault.KeyAgreementPriv,
		vault.KeyAgreementPub,
	}
	var firstErr error
	for _, name := range names {
		if err := m.vault.Delete(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return &errs.VaultError{Op: "delete_identity", Err: firstErr}
	}
	return nil
}

// DeriveUserID is spec §4.1's pure user-ID derivation: SHA-256 over
// the signing public key, first 16 hex characters, uppercased.
func DeriveUserID(signingPub []byte) string {
	sum := sha256.Sum256(signingPub)
	return strings.ToUpper(hex.EncodeToString(sum[:])[:userIDHexLen])
}

func (m *Manager) load(ctx context.Context) (*Identity, error) {
	userID, ok, err := m.vault.Get(ctx, vault.KeyUserID)
	if err != nil || !ok {
		return nil, &errs.VaultError{Op: "load_user_id", Err: errNotFound(err)}
	}

	agreementPriv, ok, err := m.vault.Get(ctx, vault.KeyAgreementPriv)
	if err != nil || !ok || len(agreementPriv) != agreementKeySize {
		return nil, &errs.VaultError{Op: "load_agreement_priv", Err: errNotFound(err)}
	}
	agreementPub, ok, err := m.vault.Get(ctx, vault.KeyAgreementPub)
	if err != nil || !ok || len(agreementPub) != agreementKeySize {
		return nil, &errs.VaultError{Op: "load_agreement_pub", Err: errNotFound(err)}
	}
	signingPriv, ok, err := m.vault.Get(ctx, vault.KeySigningPriv)
	if err != nil || !ok || len(signingPriv) != signingPrivSize {
		return nil, &errs.VaultError{Op: "load_signing_priv", Err: errNotFound(err)}
	}
	signingPub, ok, err := m.vault.Get(ctx, vault.KeySigningPub)
	if err != nil || !ok || len(signingPub) != signingPubSize {
		return nil, &errs.VaultError{Op: "load_signing_pub", Err: errNotFound(err)}
	}

	return &Identity{
		UserID:        string(userID),
		AgreementPriv: agreementPriv,
		AgreementPub:  agreementPub,
		SigningPriv:   signingPriv,
		SigningPub:    signingPub,
	}, nil
}

func (m *Manager) generate(ctx context.Context) (*Identity, error) {
	agreementPriv, agreementPub, err := cryptoengine.GenerateAgreementKeyPair()
	if err != nil {
		return nil, &errs.VaultError{Op: "generate_agreement_keys", Err: err}
	}
	signingPriv, signingPub, err := cryptoengine.GenerateSigningKeyPair()
	if err != nil {
		return nil, &errs.VaultError{Op: "generate_signing_keys", Err: err}
	}

	userID := DeriveUserID(signingPub)

	id := &Identity{
		UserID:        userID,
		AgreementPriv: agreementPriv,
		AgreementPub:  agreementPub,
		SigningPriv:   signingPriv,
		SigningPub:    signingPub,
	}

	if err := m.persist(ctx, id); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", userID).Msg("generated fresh identity")
	return id, nil
}

func (m *Manager) persist(ctx context.Context, id *Identity) error {
	writes := map[string][]byte{
		vault.KeyUserID:        []byte(id.UserID),
		vault.KeyAgreementPriv: id.AgreementPriv,
		vault.KeyAgreementPub:  id.AgreementPub,
		vault.KeySigningPriv:   id.SigningPriv,
		vault.KeySigningPub:    id.SigningPub,
	}
	for name, value := range writes {
		if err := m.vault.Set(ctx, name, value); err != nil {
			return &errs.VaultError{Op: "persist_" + name, Err: err}
		}
	}
	return nil
}

func errNotFound(err error) error {
	if err != nil {
		return err
	}
	return errMissingBlob
}

var errMissingBlob = errors.New("vault: blob missing")
