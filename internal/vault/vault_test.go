package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vaultFactories lets the shared test suite below run against every
// backend without duplicating assertions per implementation.
func vaultFactories(t *testing.T) map[string]Vault {
	t.Helper()

	sqliteVault, err := NewSQLiteVault(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "vault.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqliteVault.Close() })

	return map[string]Vault{
		"memory": NewMemoryVault(),
		"sqlite": sqliteVault,
	}
}

func TestVault_GetSetDelete(t *testing.T) {
	for name, v := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := v.Get(ctx, KeyUserID)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, v.Set(ctx, KeyUserID, []byte("ABCD1234EF567890")))

			val, ok, err := v.Get(ctx, KeyUserID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("ABCD1234EF567890"), val)

			require.NoError(t, v.Delete(ctx, KeyUserID))
			_, ok, err = v.Get(ctx, KeyUserID)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVault_Clear(t *testing.T) {
	for name, v := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, v.Set(ctx, KeySigningPriv, []byte("priv")))
			require.NoError(t, v.Set(ctx, KeySigningPub, []byte("pub")))

			require.NoError(t, v.Clear(ctx))

			_, ok, err := v.Get(ctx, KeySigningPriv)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = v.Get(ctx, KeySigningPub)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVault_Ping(t *testing.T) {
	for name, v := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Ping(context.Background()))
		})
	}
}

func TestVault_OverwriteExisting(t *testing.T) {
	for name, v := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, v.Set(ctx, KeyAgreementPub, []byte("first")))
			require.NoError(t, v.Set(ctx, KeyAgreementPub, []byte("second")))

			val, ok, err := v.Get(ctx, KeyAgreementPub)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("second"), val)
		})
	}
}
