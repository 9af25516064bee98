// Package identity tests validate key generation, loading, and signing
// behavior for the Identity abstraction. These tests ensure persistent key
// files can be created, re-loaded, signed with, and that file permissions
// match security expectations.
package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityLifecycle(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "operator.pem")

	identity1, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	identity2, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)
	assert.Equal(t, identity1.Address(), identity2.Address())

	identity3, err := LoadIdentity(keyPath)
	require.NoError(t, err)
	assert.Equal(t, identity1.Address(), identity3.Address())
	assert.Equal(t, identity1.Address(), AddressOf(identity3.PrivateKey()))
}

func TestEmptyKeyFileIsRegenerated(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(keyPath, nil, 0o600))

	id, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)
	assert.False(t, id.Address().IsZero())

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestLoadIdentityMissingFile(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "absent.pem"))
	assert.Error(t, err)
}

func TestLoadIdentityRejectsGarbage(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a pem block"), 0o600))

	_, err := LoadOrCreateIdentity(keyPath)
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	identity, err := Generate()
	require.NoError(t, err)

	message := []byte("send_to_liquidity 500000000")
	signature := identity.Sign(message)
	assert.True(t, identity.Verify(message, signature), "own signature should verify")

	other, err := Generate()
	require.NoError(t, err)
	assert.False(t, other.Verify(message, signature), "signature verified under the wrong key")
	assert.NotEqual(t, identity.Address(), other.Address())
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secure_test_key.pem")

	_, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
