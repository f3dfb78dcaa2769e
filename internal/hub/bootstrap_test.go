package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBootstrapSecret = "test-bootstrap-secret-at-least-32-chars-long"

func TestNewBootstrapManager_RejectsShortSecret(t *testing.T) {
	_, err := NewBootstrapManager("short", "wss://hub.example.com/ws", "fp", time.Minute)
	assert.Error(t, err)
}

func TestBootstrapManager_IssueThenValidate(t *testing.T) {
	mgr, err := NewBootstrapManager(testBootstrapSecret, "wss://hub.example.com/ws", "AA:BB:CC", time.Minute)
	require.NoError(t, err)

	tok, expiresAt, err := mgr.IssueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.example.com/ws", claims.HubURL)
	assert.Equal(t, "AA:BB:CC", claims.TLSFingerprint)
}

func TestBootstrapManager_RejectsExpiredToken(t *testing.T) {
	mgr, err := NewBootstrapManager(testBootstrapSecret, "wss://hub.example.com/ws", "fp", -time.Second)
	require.NoError(t, err)

	tok, _, err := mgr.IssueToken()
	require.NoError(t, err)

	_, err = mgr.ValidateToken(tok)
	assert.Error(t, err)
}

func TestBootstrapManager_RejectsTokenFromDifferentSecret(t *testing.T) {
	mgr, err := NewBootstrapManager(testBootstrapSecret, "wss://hub.example.com/ws", "fp", time.Minute)
	require.NoError(t, err)
	tok, _, err := mgr.IssueToken()
	require.NoError(t, err)

	other, err := NewBootstrapManager("another-test-secret-at-least-32-characters", "wss://hub.example.com/ws", "fp", time.Minute)
	require.NoError(t, err)

	_, err = other.ValidateToken(tok)
	assert.Error(t, err)
}
