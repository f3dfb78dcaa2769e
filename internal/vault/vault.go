// Package vault defines the abstract Key Vault the Identity Manager
// reads and writes: an opaque durable byte-string store keyed by
// well-known names. Per spec §1, persistent secure key storage is an
// external collaborator — this package owns only the storage
// interface and two concrete backends (in-memory, sqlite-backed); it
// has no opinion on what the bytes mean.
package vault

import (
	"context"

	"github.com/wisp-chat/wisp/internal/errs"
)

// Well-known blob names the Identity Manager persists under, per
// spec §6 "Persisted state".
const (
	KeyUserID        = "userId"
	KeySigningPriv   = "signingPriv"
	KeySigningPub    = "signingPub"
	KeyAgreementPriv = "agreementPriv"
	KeyAgreementPub  = "agreementPub"
)

// Vault is the storage contract the Identity Manager depends on.
// Implementations surface every failure as an *errs.VaultError.
type Vault interface {
	// Get returns the blob for name. ok is false if the name is unset.
	Get(ctx context.Context, name string) (value []byte, ok bool, err error)
	// Set stores value under name, overwriting any previous value.
	Set(ctx context.Context, name string, value []byte) error
	// Delete removes name. Deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
	// Clear wipes every stored blob, used on ephemeral reset or vault
	// corruption recovery.
	Clear(ctx context.Context) error
	// Ping verifies the backend is reachable, for health checks.
	Ping(ctx context.Context) error
	// Close releases any held resources.
	Close() error
}

func wipeErr(op string, err error) error {
	return &errs.VaultError{Op: op, Err: err}
}
