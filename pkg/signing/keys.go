package signing

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// KeyManager handles the lifecycle of tenant signing keys. Activation is
// atomic: at any instant a tenant has at most one active key.
type KeyManager struct {
	store  storage.Store
	now    func() time.Time
	logger zerolog.Logger
}

// NewKeyManager creates a key manager over the store.
func NewKeyManager(store storage.Store, logger zerolog.Logger) *KeyManager {
	return &KeyManager{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source. Tests only.
func (m *KeyManager) WithClock(now func() time.Time) *KeyManager {
	m.now = now
	return m
}

// RegisterPublicKey stores a tenant public key. With setActive, every
// currently active key of the tenant is expired and the new key becomes
// active in the same transaction. Without it the key is stored expired,
// ready for a later SetKeyStatus activation.
func (m *KeyManager) RegisterPublicKey(tenantID, algorithm, publicPEM string, setActive bool) (*types.SigningKey, error) {
	if err := validateKeyMaterial(algorithm, publicPEM); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	key := &types.SigningKey{
		KeyID:     uuid.New().String(),
		TenantID:  tenantID,
		Algorithm: algorithm,
		PublicKey: publicPEM,
		Status:    types.KeyStatusExpired,
		CreatedAt: now,
	}
	if setActive {
		key.Status = types.KeyStatusActive
	}

	err := m.store.Update(func(tx storage.WriteTx) error {
		if setActive {
			if err := expireActiveKeys(tx, tenantID, now); err != nil {
				return err
			}
		}
		return tx.PutKey(key)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("tenant_id", tenantID).
		Str("key_id", key.KeyID).
		Str("algorithm", algorithm).
		Bool("active", setActive).
		Msg("registered signing key")
	return key, nil
}

// Rotate registers a new active key for the tenant, expiring the previous
// active key atomically.
func (m *KeyManager) Rotate(tenantID, algorithm, publicPEM string) (*types.SigningKey, error) {
	return m.RegisterPublicKey(tenantID, algorithm, publicPEM, true)
}

// SetKeyStatus transitions a key. Activating a key expires all other
// active keys of the tenant in the same transaction; revoking stamps
// revoked_at.
func (m *KeyManager) SetKeyStatus(keyID string, status types.KeyStatus) (*types.SigningKey, error) {
	switch status {
	case types.KeyStatusActive, types.KeyStatusExpired, types.KeyStatusRevoked:
	default:
		return nil, fmt.Errorf("invalid key status %q", status)
	}

	now := m.now().UTC()
	var updated *types.SigningKey
	err := m.store.Update(func(tx storage.WriteTx) error {
		key, err := tx.GetKey(keyID)
		if err != nil {
			return err
		}

		if status == types.KeyStatusActive {
			if err := expireActiveKeys(tx, key.TenantID, now); err != nil {
				return err
			}
			key.ExpiresAt = nil
		}
		if status == types.KeyStatusExpired && key.ExpiresAt == nil {
			key.ExpiresAt = &now
		}
		if status == types.KeyStatusRevoked {
			key.RevokedAt = &now
		}

		key.Status = status
		updated = key
		return tx.PutKey(key)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("key_id", keyID).
		Str("status", string(status)).
		Msg("signing key status changed")
	return updated, nil
}

// ListTenantKeys returns all keys of a tenant, newest first.
func (m *KeyManager) ListTenantKeys(tenantID string) ([]*types.SigningKey, error) {
	var keys []*types.SigningKey
	err := m.store.View(func(tx storage.ReadTx) error {
		var err error
		keys, err = tx.ListKeysByTenant(tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// the store iterates in key-id order; creation time is the contract
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].KeyID < keys[j].KeyID
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func expireActiveKeys(tx storage.WriteTx, tenantID string, now time.Time) error {
	keys, err := tx.ListKeysByTenant(tenantID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Status != types.KeyStatusActive {
			continue
		}
		k.Status = types.KeyStatusExpired
		ts := now
		k.ExpiresAt = &ts
		if err := tx.PutKey(k); err != nil {
			return err
		}
	}
	return nil
}

func validateKeyMaterial(algorithm, publicPEM string) error {
	switch algorithm {
	case types.AlgEd25519:
		_, err := ParseEd25519PublicKey([]byte(publicPEM))
		return err
	case types.AlgRSAPSSSHA256:
		_, err := ParseRSAPublicKey([]byte(publicPEM))
		return err
	case types.AlgHMACSHA256:
		return fmt.Errorf("hmac keys are process-wide and not registered per tenant")
	}
	return fmt.Errorf("unsupported algorithm %q", algorithm)
}
