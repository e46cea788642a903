package signing

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

func newKeyManager(t *testing.T) (*KeyManager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewKeyManager(store, zerolog.Nop()), store
}

func activeKeyCount(t *testing.T, store storage.Store, tenantID string) int {
	t.Helper()
	count := 0
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		keys, err := tx.ListKeysByTenant(tenantID)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k.Status == types.KeyStatusActive {
				count++
			}
		}
		return nil
	}))
	return count
}

func TestRegisterActiveExpiresPredecessors(t *testing.T) {
	km, store := newKeyManager(t)

	pub1, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	pub2, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	first, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub1, true)
	require.NoError(t, err)
	assert.Equal(t, types.KeyStatusActive, first.Status)
	assert.Equal(t, 1, activeKeyCount(t, store, "acme"))

	second, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub2, true)
	require.NoError(t, err)
	assert.Equal(t, types.KeyStatusActive, second.Status)

	// single-active invariant holds and the old key is expired with a stamp
	assert.Equal(t, 1, activeKeyCount(t, store, "acme"))
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		old, err := tx.GetKey(first.KeyID)
		require.NoError(t, err)
		assert.Equal(t, types.KeyStatusExpired, old.Status)
		require.NotNil(t, old.ExpiresAt)
		assert.WithinDuration(t, time.Now(), *old.ExpiresAt, time.Minute)
		return nil
	}))
}

func TestSetKeyStatusActivation(t *testing.T) {
	km, store := newKeyManager(t)

	pub1, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	pub2, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	active, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub1, true)
	require.NoError(t, err)
	parked, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub2, false)
	require.NoError(t, err)
	assert.Equal(t, types.KeyStatusExpired, parked.Status)
	assert.Equal(t, 1, activeKeyCount(t, store, "acme"))

	promoted, err := km.SetKeyStatus(parked.KeyID, types.KeyStatusActive)
	require.NoError(t, err)
	assert.Equal(t, types.KeyStatusActive, promoted.Status)
	assert.Equal(t, 1, activeKeyCount(t, store, "acme"))

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		demoted, err := tx.GetKey(active.KeyID)
		require.NoError(t, err)
		assert.Equal(t, types.KeyStatusExpired, demoted.Status)
		return nil
	}))
}

func TestRevokeStampsTimestamp(t *testing.T) {
	km, _ := newKeyManager(t)

	pub, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	key, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub, true)
	require.NoError(t, err)

	revoked, err := km.SetKeyStatus(key.KeyID, types.KeyStatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, types.KeyStatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
}

func TestListTenantKeysNewestFirst(t *testing.T) {
	km, _ := newKeyManager(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	km.WithClock(func() time.Time { return clock })

	var want []string
	for i := 0; i < 4; i++ {
		pub, _, err := GenerateEd25519KeyPair()
		require.NoError(t, err)
		key, err := km.RegisterPublicKey("acme", types.AlgEd25519, pub, i%2 == 0)
		require.NoError(t, err)
		want = append([]string{key.KeyID}, want...)
		clock = clock.Add(time.Minute)
	}

	// creation order, not store iteration order
	keys, err := km.ListTenantKeys("acme")
	require.NoError(t, err)
	require.Len(t, keys, 4)
	for i, key := range keys {
		assert.Equal(t, want[i], key.KeyID)
	}
	assert.Equal(t, base.Add(3*time.Minute), keys[0].CreatedAt)
}

func TestRegisterRejectsBadMaterial(t *testing.T) {
	km, _ := newKeyManager(t)

	_, err := km.RegisterPublicKey("acme", types.AlgEd25519, "garbage", true)
	assert.Error(t, err)

	_, err = km.RegisterPublicKey("acme", types.AlgHMACSHA256, "", true)
	assert.Error(t, err)

	_, err = km.RegisterPublicKey("acme", "dsa", "", true)
	assert.Error(t, err)
}

func TestRotate(t *testing.T) {
	km, store := newKeyManager(t)

	pub1, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	pub2, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	_, err = km.Rotate("acme", types.AlgEd25519, pub1)
	require.NoError(t, err)
	rotated, err := km.Rotate("acme", types.AlgEd25519, pub2)
	require.NoError(t, err)

	assert.Equal(t, 1, activeKeyCount(t, store, "acme"))

	keys, err := km.ListTenantKeys("acme")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, rotated.KeyID, keys[0].KeyID) // newest first
}
