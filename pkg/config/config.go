package config

import (
	"fmt"
	"os"
	"time"

	"github.com/windrose-io/windrose/pkg/types"
	"gopkg.in/yaml.v3"
)

// SignatureMode selects how ledger entries are signed.
type SignatureMode string

const (
	SignatureModeAuto       SignatureMode = "auto"
	SignatureModeHMAC       SignatureMode = "hmac"
	SignatureModeAsymmetric SignatureMode = "asymmetric"
)

// Environment controls recognized by FromEnv.
const (
	EnvSignatureMode     = "DEFAULT_SIGNATURE_MODE"
	EnvAsymmetricSigning = "ENABLE_ASYMMETRIC_SIGNING"
	EnvAdaptiveHealth    = "ENABLE_ADAPTIVE_HEALTH"
	EnvMicroSeasonality  = "ENABLE_MICRO_SEASONALITY"
	EnvSigningSecret     = "WINDROSE_SIGNING_SECRET"
	EnvDataDir           = "WINDROSE_DATA_DIR"
)

// TierDefaults is one row of the tier table. Budget dimensions and caps use
// 0 to mean "no cap" in YAML; Budget() maps that to unlimited.
type TierDefaults struct {
	Weight             float64 `yaml:"weight"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	ScenarioCap        int     `yaml:"scenario_cap"`
	BudgetCap          float64 `yaml:"budget_cap"`
	ServiceMin         float64 `yaml:"service_min"`
	SolverSecBudget    float64 `yaml:"solver_sec_budget"`
	GPUSecBudget       float64 `yaml:"gpu_sec_budget"`
	LLMTokenBudget     float64 `yaml:"llm_token_budget"`
}

// Budget returns the default remaining budget vector for the tier.
func (d TierDefaults) Budget() types.ResourceVector {
	dim := func(v float64) float64 {
		if v == 0 {
			return types.Unlimited
		}
		return v
	}
	return types.ResourceVector{
		SolverSec: dim(d.SolverSecBudget),
		GPUSec:    dim(d.GPUSecBudget),
		LLMTokens: dim(d.LLMTokenBudget),
	}
}

// Config holds all runtime configuration. It is built once at startup and
// injected into constructors; there is no ambient settings state.
type Config struct {
	DataDir string

	SignatureMode    SignatureMode
	EnableAsymmetric bool
	SigningSecret    []byte

	EnableAdaptiveHealth   bool
	EnableMicroSeasonality bool

	DefaultLeaseTTL  time.Duration
	SweepInterval    time.Duration
	MaxLeaseAttempts int
	SolverTimeout    time.Duration

	EvidenceRetain int

	Tiers map[types.Tier]TierDefaults
}

// Default returns the built-in configuration, including the default tier
// table. Development deployments sign with HMAC unless told otherwise.
func Default() *Config {
	return &Config{
		DataDir:          "/var/lib/windrose",
		SignatureMode:    SignatureModeHMAC,
		EnableAsymmetric: true,

		DefaultLeaseTTL:  2 * time.Minute,
		SweepInterval:    10 * time.Second,
		MaxLeaseAttempts: 3,
		SolverTimeout:    5 * time.Minute,

		EvidenceRetain: 200,

		Tiers: map[types.Tier]TierDefaults{
			types.TierFree: {
				Weight:             1,
				RateLimitPerMinute: 60,
				ScenarioCap:        40,
				BudgetCap:          5000,
				SolverSecBudget:    3600,
				GPUSecBudget:       600,
				LLMTokenBudget:     200000,
			},
			types.TierStandard: {
				Weight:             1,
				RateLimitPerMinute: 120,
				ScenarioCap:        200,
				BudgetCap:          50000,
				SolverSecBudget:    14400,
				GPUSecBudget:       3600,
				LLMTokenBudget:     1000000,
			},
			types.TierPro: {
				Weight:             2,
				RateLimitPerMinute: 300,
				ScenarioCap:        500,
				BudgetCap:          250000,
				SolverSecBudget:    43200,
				GPUSecBudget:       14400,
				LLMTokenBudget:     5000000,
			},
			types.TierEnterprise: {
				Weight:             4,
				RateLimitPerMinute: 0, // unlimited
				ScenarioCap:        2000,
				BudgetCap:          0, // no cap
			},
		},
	}
}

// FromEnv returns the default configuration with the enumerated environment
// controls applied on top.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	switch SignatureMode(os.Getenv(EnvSignatureMode)) {
	case SignatureModeAuto:
		cfg.SignatureMode = SignatureModeAuto
	case SignatureModeHMAC:
		cfg.SignatureMode = SignatureModeHMAC
	case SignatureModeAsymmetric:
		cfg.SignatureMode = SignatureModeAsymmetric
	}
	if v := os.Getenv(EnvAsymmetricSigning); v != "" {
		cfg.EnableAsymmetric = v == "1"
	}
	cfg.EnableAdaptiveHealth = os.Getenv(EnvAdaptiveHealth) == "1"
	cfg.EnableMicroSeasonality = os.Getenv(EnvMicroSeasonality) == "1"
	if v := os.Getenv(EnvSigningSecret); v != "" {
		cfg.SigningSecret = []byte(v)
	}

	return cfg
}

// tierFile is the YAML layout accepted by LoadTierFile.
type tierFile struct {
	Tiers map[string]TierDefaults `yaml:"tiers"`
}

// LoadTierFile merges tier overrides from a YAML file into the tier table.
// Rows replace the built-in row for the same tier; new tiers are added.
func (c *Config) LoadTierFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tier file: %w", err)
	}

	var tf tierFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse tier file: %w", err)
	}

	for name, row := range tf.Tiers {
		c.Tiers[types.Tier(name)] = row
	}
	return nil
}

// TierDefaults resolves a tier table row.
func (c *Config) TierDefaults(tier types.Tier) (TierDefaults, error) {
	row, ok := c.Tiers[tier]
	if !ok {
		return TierDefaults{}, fmt.Errorf("%w: %s", types.ErrUnknownTier, tier)
	}
	return row, nil
}

// SetTier replaces or adds a tier table row at runtime.
func (c *Config) SetTier(tier types.Tier, row TierDefaults) {
	c.Tiers[tier] = row
}
