package hub

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BootstrapClaims is the payload of a bootstrap token: enough for a fresh
// client to locate the hub and pin its TLS certificate before it ever opens
// the WebSocket handshake. It carries no user identity — pairing happens
// before a peer has registered.
type BootstrapClaims struct {
	HubURL         string `json:"hub_url"`
	TLSFingerprint string `json:"tls_fp"`
	jwt.RegisteredClaims
}

// BootstrapManager issues and validates short-lived pairing tokens for the
// optional HTTP device-pairing endpoint. A nil *BootstrapManager means the
// feature is disabled; callers must check before use.
type BootstrapManager struct {
	secret         []byte
	ttl            time.Duration
	hubURL         string
	tlsFingerprint string
}

// NewBootstrapManager builds a manager that signs tokens advertising hubURL
// and tlsFingerprint, valid for ttl from the moment of issuance.
func NewBootstrapManager(secret, hubURL, tlsFingerprint string, ttl time.Duration) (*BootstrapManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("hub: bootstrap secret must be at least 32 characters, got %d", len(secret))
	}
	return &BootstrapManager{
		secret:         []byte(secret),
		ttl:            ttl,
		hubURL:         hubURL,
		tlsFingerprint: tlsFingerprint,
	}, nil
}

// IssueToken mints a fresh bootstrap token.
// Complexity: O(1)
func (b *BootstrapManager) IssueToken() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(b.ttl)

	claims := BootstrapClaims{
		HubURL:         b.hubURL,
		TLSFingerprint: b.tlsFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "wisp-hub-bootstrap",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hub: sign bootstrap token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a previously issued bootstrap token.
// Complexity: O(1)
func (b *BootstrapManager) ValidateToken(tokenStr string) (*BootstrapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &BootstrapClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("hub: invalid bootstrap token: %w", err)
	}

	claims, ok := token.Claims.(*BootstrapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("hub: invalid bootstrap token claims")
	}
	return claims, nil
}
