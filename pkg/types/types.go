package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Tier identifies a tenant's service tier. Defaults for weight, rate limit
// and policy caps are table-driven (see pkg/config) and may be overridden
// per tenant at runtime.
type Tier string

const (
	TierFree       Tier = "free"
	TierStandard   Tier = "standard"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited marks a resource dimension with no cap.
var Unlimited = math.Inf(1)

// ResourceVector carries the three budget dimensions tracked per tenant
// and per job. A value of +Inf means unlimited.
type ResourceVector struct {
	SolverSec float64
	GPUSec    float64
	LLMTokens float64
}

// Sum returns the scalar total used for virtual-finish stamping.
func (r ResourceVector) Sum() float64 {
	return r.SolverSec + r.GPUSec + r.LLMTokens
}

// Work returns the completion work scalar: solver seconds plus half-weighted
// GPU seconds plus LLM tokens in thousands.
func (r ResourceVector) Work() float64 {
	return r.SolverSec + 0.5*r.GPUSec + r.LLMTokens/1000
}

// Sub returns r minus o per dimension. Unlimited dimensions stay unlimited.
func (r ResourceVector) Sub(o ResourceVector) ResourceVector {
	return ResourceVector{
		SolverSec: subDim(r.SolverSec, o.SolverSec),
		GPUSec:    subDim(r.GPUSec, o.GPUSec),
		LLMTokens: subDim(r.LLMTokens, o.LLMTokens),
	}
}

func subDim(a, b float64) float64 {
	if math.IsInf(a, 1) {
		return a
	}
	return a - b
}

// Exhausted reports whether any dimension has been driven to zero or below.
func (r ResourceVector) Exhausted() bool {
	return r.SolverSec <= 0 || r.GPUSec <= 0 || r.LLMTokens <= 0
}

// resourceVectorJSON is the wire form. Unlimited dimensions are encoded as
// the string "unlimited" because encoding/json rejects IEEE infinities.
type resourceVectorJSON struct {
	SolverSec json.RawMessage `json:"solver_sec"`
	GPUSec    json.RawMessage `json:"gpu_sec"`
	LLMTokens json.RawMessage `json:"llm_tokens"`
}

func encodeDim(v float64) json.RawMessage {
	if math.IsInf(v, 1) {
		return json.RawMessage(`"unlimited"`)
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeDim(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "unlimited" {
			return Unlimited, nil
		}
		return 0, fmt.Errorf("invalid resource dimension %q", s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func (r ResourceVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceVectorJSON{
		SolverSec: encodeDim(r.SolverSec),
		GPUSec:    encodeDim(r.GPUSec),
		LLMTokens: encodeDim(r.LLMTokens),
	})
}

func (r *ResourceVector) UnmarshalJSON(data []byte) error {
	var w resourceVectorJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var err error
	if r.SolverSec, err = decodeDim(w.SolverSec); err != nil {
		return err
	}
	if r.GPUSec, err = decodeDim(w.GPUSec); err != nil {
		return err
	}
	if r.LLMTokens, err = decodeDim(w.LLMTokens); err != nil {
		return err
	}
	return nil
}

// Tenant is the per-tenant scheduling record. The store is authoritative;
// any in-memory copy is a projection.
type Tenant struct {
	ID                 string          `json:"id"`
	Tier               Tier            `json:"tier"`
	Weight             float64         `json:"weight"`
	RateLimitPerMinute int             `json:"rate_limit_per_minute"`
	Remaining          ResourceVector  `json:"remaining"`
	Limits             *ResourceVector `json:"limits,omitempty"`
	LastRequestTS      time.Time       `json:"last_request_ts"`
	VirtualFinish      float64         `json:"virtual_finish"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// JobStatus is the lifecycle state of a job.
//
// NOTE: these values are persisted and are part of the stable on-disk
// contract. completed, failed and cancelled are terminal.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a sink state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a unit of tenant-submitted work dispatched under lease.
type Job struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Tier          Tier            `json:"tier"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CostEstimate  ResourceVector  `json:"cost_estimate"`
	Priority      int             `json:"priority"`
	VirtualFinish float64         `json:"virtual_finish"`
	Status        JobStatus       `json:"status"`
	WorkerID      string          `json:"worker_id,omitempty"`
	LeaseExpires  *time.Time      `json:"lease_expires_at,omitempty"`
	Attempts      int             `json:"attempts"`
	FailReason    string          `json:"fail_reason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LeasedJob is what a worker receives from Lease: the payload it needs plus
// the lease bounds it must respect.
type LeasedJob struct {
	JobID        string          `json:"job_id"`
	TenantID     string          `json:"tenant_id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CostEstimate ResourceVector  `json:"cost_estimate"`
	LeaseExpires time.Time       `json:"lease_expires_at"`
	Attempt      int             `json:"attempt"`
}

// TenantBudget is the externally visible budget view of a tenant.
type TenantBudget struct {
	TenantID      string          `json:"tenant_id"`
	Tier          Tier            `json:"tier"`
	Weight        float64         `json:"weight"`
	Remaining     ResourceVector  `json:"remaining"`
	Limits        *ResourceVector `json:"limits,omitempty"`
	VirtualFinish float64         `json:"virtual_finish"`
}

// LedgerEntry is one link of a tenant's hash-chained decision log.
// Entries are append-only and never mutated.
type LedgerEntry struct {
	EntryID            string         `json:"entry_id"`
	Seq                uint64         `json:"seq"`
	TenantID           string         `json:"tenant_id"`
	TS                 time.Time      `json:"ts"`
	ActionType         string         `json:"action_type"`
	Source             string         `json:"source"`
	ParentHash         string         `json:"parent_hash,omitempty"`
	PreStateHash       string         `json:"pre_state_hash,omitempty"`
	PostStateHash      string         `json:"post_state_hash,omitempty"`
	DeltaVector        map[string]any `json:"delta_vector,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Signature          string         `json:"signature,omitempty"`
	SigningKeyID       string         `json:"signing_key_id,omitempty"`
	SignatureAlgorithm string         `json:"signature_algorithm,omitempty"`
	SignatureVersion   string         `json:"signature_version,omitempty"`
}

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusExpired KeyStatus = "expired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// Signing algorithms recorded on entries and keys.
const (
	AlgHMACSHA256   = "hmac-sha256"
	AlgEd25519      = "ed25519"
	AlgRSAPSSSHA256 = "rsa-pss-sha256"
)

// SigningKey holds tenant public key material. Private counterparts never
// cross the core boundary; only references do.
type SigningKey struct {
	KeyID       string     `json:"key_id"`
	TenantID    string     `json:"tenant_id"`
	Algorithm   string     `json:"algorithm"`
	PublicKey   string     `json:"public_key,omitempty"` // PEM, empty for HMAC
	KeyVaultRef string     `json:"key_vault_ref,omitempty"`
	Status      KeyStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// EntryCheck is the verification outcome for a single ledger entry.
type EntryCheck struct {
	EntryID string `json:"entry_id"`
	SigOK   bool   `json:"sig_ok"`
	ChainOK bool   `json:"chain_ok"`
	Reason  string `json:"reason,omitempty"`
}

// VerificationReport summarizes a chain walk over a tenant's ledger.
type VerificationReport struct {
	TenantID string       `json:"tenant_id"`
	Checked  int          `json:"checked"`
	OK       bool         `json:"ok"`
	Entries  []EntryCheck `json:"entries"`
}

// IntegritySummary is a compact operator view of a tenant's chain.
type IntegritySummary struct {
	TenantID     string         `json:"tenant_id"`
	Entries      int            `json:"entries"`
	OK           bool           `json:"ok"`
	Unverifiable int            `json:"unverifiable"`
	ByAlgorithm  map[string]int `json:"by_algorithm"`
	FirstTS      *time.Time     `json:"first_ts,omitempty"`
	LastTS       *time.Time     `json:"last_ts,omitempty"`
}
