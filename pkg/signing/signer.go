package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/types"
)

// SignatureVersion is stamped on every signed ledger entry.
const SignatureVersion = "1"

// Signature is the outcome of signing a payload. An empty Value with empty
// Algorithm means no key material was available; the entry is stored
// unsigned and verification reports it unverifiable.
type Signature struct {
	Value     []byte
	Algorithm string
	KeyID     string
}

// Encoded returns the base64 form persisted on the entry.
func (s Signature) Encoded() string {
	if len(s.Value) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.Value)
}

// PrivateKeyProvider resolves the private counterpart of a tenant signing
// key. The core never persists private material; providers hold references
// only (environment PEM in development, a vault in production).
type PrivateKeyProvider interface {
	PrivateKey(key *types.SigningKey) (ed25519.PrivateKey, error)
}

// EnvKeyProvider reads PKCS#8 Ed25519 private keys in PEM form from
// environment variables named <Prefix><KEY_ID> with hyphens mapped to
// underscores. Development only.
type EnvKeyProvider struct {
	Prefix string
}

func (p EnvKeyProvider) PrivateKey(key *types.SigningKey) (ed25519.PrivateKey, error) {
	name := p.Prefix + strings.ToUpper(strings.ReplaceAll(key.KeyID, "-", "_"))
	pemData := os.Getenv(name)
	if pemData == "" {
		return nil, fmt.Errorf("no private key material for %s", key.KeyID)
	}
	return ParseEd25519PrivateKey([]byte(pemData))
}

// StaticKeyProvider serves private keys from memory. Used by tests and by
// the CLI immediately after generating a pair.
type StaticKeyProvider map[string]ed25519.PrivateKey

func (p StaticKeyProvider) PrivateKey(key *types.SigningKey) (ed25519.PrivateKey, error) {
	k, ok := p[key.KeyID]
	if !ok {
		return nil, fmt.Errorf("no private key material for %s", key.KeyID)
	}
	return k, nil
}

// Signer resolves the signature mode per entry and signs signable payloads.
type Signer struct {
	mode             config.SignatureMode
	enableAsymmetric bool
	secret           []byte
	provider         PrivateKeyProvider
}

// NewSigner builds a signer from configuration. provider may be nil, in
// which case asymmetric signing always falls back to HMAC.
func NewSigner(cfg *config.Config, provider PrivateKeyProvider) *Signer {
	return &Signer{
		mode:             cfg.SignatureMode,
		enableAsymmetric: cfg.EnableAsymmetric,
		secret:           cfg.SigningSecret,
		provider:         provider,
	}
}

// Sign signs payload. activeKey is the tenant's active signing key, or nil
// when the tenant has none. Mode resolution:
//
//	hmac        always HMAC-SHA-256 with the process secret
//	asymmetric  tenant key when resolvable, else HMAC fallback
//	auto        asymmetric iff an active key exists and the kill switch
//	            is not thrown, else HMAC
func (s *Signer) Sign(payload []byte, activeKey *types.SigningKey) (Signature, error) {
	useAsymmetric := false
	switch s.mode {
	case config.SignatureModeAsymmetric:
		useAsymmetric = activeKey != nil
	case config.SignatureModeAuto:
		useAsymmetric = activeKey != nil && s.enableAsymmetric
	}

	if useAsymmetric && s.enableAsymmetric {
		sig, err := s.signAsymmetric(payload, activeKey)
		if err == nil {
			return sig, nil
		}
		// Missing private material is not fatal; fall back to HMAC so the
		// entry is still signed under some algorithm.
	}

	return s.signHMAC(payload), nil
}

func (s *Signer) signHMAC(payload []byte) Signature {
	if len(s.secret) == 0 {
		return Signature{}
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return Signature{Value: mac.Sum(nil), Algorithm: types.AlgHMACSHA256}
}

func (s *Signer) signAsymmetric(payload []byte, key *types.SigningKey) (Signature, error) {
	if key.Algorithm != types.AlgEd25519 {
		return Signature{}, fmt.Errorf("cannot sign with algorithm %s", key.Algorithm)
	}
	if s.provider == nil {
		return Signature{}, fmt.Errorf("no private key provider configured")
	}
	priv, err := s.provider.PrivateKey(key)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Value:     ed25519.Sign(priv, payload),
		Algorithm: types.AlgEd25519,
		KeyID:     key.KeyID,
	}, nil
}

// Verify checks a recorded signature against the recomputed payload. The
// path is chosen from the entry's recorded algorithm, never from the
// current mode, so historical entries stay verifiable across rotations.
// key carries the public material for asymmetric algorithms and may be nil
// for HMAC.
func (s *Signer) Verify(payload []byte, sigB64, algorithm string, key *types.SigningKey) error {
	if sigB64 == "" {
		return fmt.Errorf("missing signature")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}

	switch algorithm {
	case types.AlgHMACSHA256:
		if len(s.secret) == 0 {
			return fmt.Errorf("no hmac secret available")
		}
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(payload)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return fmt.Errorf("hmac mismatch")
		}
		return nil

	case types.AlgEd25519:
		if key == nil {
			return fmt.Errorf("signing key not available")
		}
		pub, err := ParseEd25519PublicKey([]byte(key.PublicKey))
		if err != nil {
			return err
		}
		if !ed25519.Verify(pub, payload, sig) {
			return fmt.Errorf("ed25519 signature mismatch")
		}
		return nil

	case types.AlgRSAPSSSHA256:
		if key == nil {
			return fmt.Errorf("signing key not available")
		}
		pub, err := ParseRSAPublicKey([]byte(key.PublicKey))
		if err != nil {
			return err
		}
		digest := sha256.Sum256(payload)
		if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil); err != nil {
			return fmt.Errorf("rsa-pss signature mismatch")
		}
		return nil
	}

	return fmt.Errorf("unknown signature algorithm %q", algorithm)
}

// GenerateEd25519KeyPair returns a fresh key pair as PEM blocks. The
// private half is handed straight back to the caller and never stored.
func GenerateEd25519KeyPair() (publicPEM, privatePEM string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", err
	}

	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	return publicPEM, privatePEM, nil
}

// ParseEd25519PublicKey parses a PEM-encoded PKIX Ed25519 public key.
func ParseEd25519PublicKey(pemData []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 public key")
	}
	return key, nil
}

// ParseRSAPublicKey parses a PEM-encoded PKIX RSA public key.
func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an rsa public key")
	}
	return key, nil
}

// ParseEd25519PrivateKey parses a PEM-encoded PKCS#8 Ed25519 private key.
func ParseEd25519PrivateKey(pemData []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 private key")
	}
	return key, nil
}
