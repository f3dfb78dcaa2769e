// Package errs defines the typed error kinds shared across wisp's
// components, so callers can branch on error identity with errors.Is/As
// instead of parsing messages.
package errs

import "fmt"

// TransportError wraps a connect/send/receive failure at the framed
// transport boundary. Recovered via reconnect; never fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError covers a missing identity, bad signature, or stale
// timestamp during registration/authentication. The identity is
// preserved; the caller may retry.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth: " + e.Reason }

// ProtocolError covers a malformed frame, unknown type, or missing
// required field. The frame is dropped and logged; the connection is
// retained.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Reason }

// CryptoErrorKind enumerates the ways the Crypto Engine can fail a
// local operation without crashing the caller.
type CryptoErrorKind string

const (
	CryptoInvalidInput     CryptoErrorKind = "invalid_input"
	CryptoMissingIdentity  CryptoErrorKind = "missing_identity"
	CryptoPrimitiveFailure CryptoErrorKind = "primitive"
)

// CryptoError fails an encrypt/decrypt/sign/verify call. It is never a
// panic: callers surface a local failure state.
type CryptoError struct {
	Kind CryptoErrorKind
	Err  error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("crypto: %s", e.Kind)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// NewCryptoError constructs a CryptoError of the given kind.
func NewCryptoError(kind CryptoErrorKind, err error) *CryptoError {
	return &CryptoError{Kind: kind, Err: err}
}

// IntegrityError marks a signature or MAC failure on ingress. The
// offending message is discarded and logged; it must never reach
// history.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Reason }

// VaultError covers corrupted or inaccessible Key Vault storage. Only
// Identity Manager's ensureIdentity is permitted to recover from one by
// wiping the vault.
type VaultError struct {
	Op  string
	Err error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error { return e.Err }

// CallError covers an unknown call id, wrong role, or offline peer
// during call signaling. The hub replies with an error frame; the
// client moves its call state to ended.
type CallError struct {
	Reason string
}

func (e *CallError) Error() string { return "call: " + e.Reason }
