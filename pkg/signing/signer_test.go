package signing

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/types"
)

func hmacConfig() *config.Config {
	cfg := config.Default()
	cfg.SignatureMode = config.SignatureModeHMAC
	cfg.SigningSecret = []byte("unit-test-secret")
	return cfg
}

func TestHMACSignVerify(t *testing.T) {
	signer := NewSigner(hmacConfig(), nil)
	payload := []byte(`{"action_type":"plan_run","tenant_id":"t1"}`)

	sig, err := signer.Sign(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AlgHMACSHA256, sig.Algorithm)
	assert.Empty(t, sig.KeyID)

	require.NoError(t, signer.Verify(payload, sig.Encoded(), sig.Algorithm, nil))

	// tampered payload fails
	err = signer.Verify([]byte(`{"action_type":"plan_run","tenant_id":"t2"}`), sig.Encoded(), sig.Algorithm, nil)
	assert.Error(t, err)
}

func TestSignWithoutAnyMaterial(t *testing.T) {
	cfg := config.Default()
	cfg.SigningSecret = nil
	signer := NewSigner(cfg, nil)

	sig, err := signer.Sign([]byte("payload"), nil)
	require.NoError(t, err)
	assert.Empty(t, sig.Encoded())
	assert.Empty(t, sig.Algorithm)
}

func TestEd25519SignVerify(t *testing.T) {
	pubPEM, privPEM, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	priv, err := ParseEd25519PrivateKey([]byte(privPEM))
	require.NoError(t, err)

	key := &types.SigningKey{
		KeyID:     "key-1",
		TenantID:  "t1",
		Algorithm: types.AlgEd25519,
		PublicKey: pubPEM,
		Status:    types.KeyStatusActive,
	}

	cfg := hmacConfig()
	cfg.SignatureMode = config.SignatureModeAuto
	signer := NewSigner(cfg, StaticKeyProvider{"key-1": priv})

	payload := []byte(`{"tenant_id":"t1"}`)
	sig, err := signer.Sign(payload, key)
	require.NoError(t, err)
	assert.Equal(t, types.AlgEd25519, sig.Algorithm)
	assert.Equal(t, "key-1", sig.KeyID)

	require.NoError(t, signer.Verify(payload, sig.Encoded(), sig.Algorithm, key))
	assert.Error(t, signer.Verify([]byte("other"), sig.Encoded(), sig.Algorithm, key))
}

func TestAutoModeFallsBackToHMAC(t *testing.T) {
	cfg := hmacConfig()
	cfg.SignatureMode = config.SignatureModeAuto

	// no active key: hmac
	signer := NewSigner(cfg, nil)
	sig, err := signer.Sign([]byte("p"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.AlgHMACSHA256, sig.Algorithm)

	// active key but kill switch thrown: hmac
	cfg.EnableAsymmetric = false
	pubPEM, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	key := &types.SigningKey{KeyID: "k", Algorithm: types.AlgEd25519, PublicKey: pubPEM}
	signer = NewSigner(cfg, nil)
	sig, err = signer.Sign([]byte("p"), key)
	require.NoError(t, err)
	assert.Equal(t, types.AlgHMACSHA256, sig.Algorithm)
}

func TestAsymmetricWithoutPrivateMaterialFallsBack(t *testing.T) {
	cfg := hmacConfig()
	cfg.SignatureMode = config.SignatureModeAsymmetric

	pubPEM, _, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	key := &types.SigningKey{KeyID: "k", Algorithm: types.AlgEd25519, PublicKey: pubPEM}

	signer := NewSigner(cfg, StaticKeyProvider{}) // provider has nothing
	sig, err := signer.Sign([]byte("p"), key)
	require.NoError(t, err)
	assert.Equal(t, types.AlgHMACSHA256, sig.Algorithm)
}

func TestParseRejectsWrongKeyTypes(t *testing.T) {
	pubPEM, privPEM, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	_, err = ParseRSAPublicKey([]byte(pubPEM))
	assert.Error(t, err)

	_, err = ParseEd25519PublicKey([]byte("not pem"))
	assert.Error(t, err)

	parsed, err := ParseEd25519PrivateKey([]byte(privPEM))
	require.NoError(t, err)
	assert.Len(t, parsed, ed25519.PrivateKeySize)
}
