package storage

import (
	"time"

	"github.com/windrose-io/windrose/pkg/types"
)

// ReadTx is a consistent read-only view of the store.
type ReadTx interface {
	// Tenants
	GetTenant(id string) (*types.Tenant, error)
	ListTenants() ([]*types.Tenant, error)

	// Jobs
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByTenant(tenantID string) ([]*types.Job, error)
	// EligibleJobs returns jobs that are queued, or leased with an expired
	// lease, as of now. Ordering is up to the caller.
	EligibleJobs(now time.Time) ([]*types.Job, error)

	// Ledger. Entries come back in chain order (oldest first). A limit > 0
	// returns the last limit entries of the chain.
	LedgerEntries(tenantID string, limit int) ([]*types.LedgerEntry, error)
	// LedgerTail returns the newest entry of a tenant's chain, or nil when
	// the chain is empty.
	LedgerTail(tenantID string) (*types.LedgerEntry, error)
	LedgerLen(tenantID string) (int, error)

	// Signing keys
	GetKey(keyID string) (*types.SigningKey, error)
	ListKeysByTenant(tenantID string) ([]*types.SigningKey, error)
	// ActiveKey returns the tenant's single active key, or
	// types.ErrNoActiveKey.
	ActiveKey(tenantID string) (*types.SigningKey, error)
}

// WriteTx is a serializable read-write transaction. All conditional updates
// in the system (rate-limit stamps, lease transitions, key activation) are
// check-then-write sequences inside a single WriteTx.
type WriteTx interface {
	ReadTx

	PutTenant(t *types.Tenant) error
	PutJob(j *types.Job) error

	// AppendLedgerEntry assigns the next per-tenant sequence number to the
	// entry and persists it. Entries are never rewritten by the core.
	AppendLedgerEntry(e *types.LedgerEntry) error
	// PutLedgerEntry writes an entry at its existing sequence. Migration
	// tooling only; Append goes through AppendLedgerEntry.
	PutLedgerEntry(e *types.LedgerEntry) error

	PutKey(k *types.SigningKey) error
}

// Store is the durable state authority. Implemented by BoltStore.
type Store interface {
	View(fn func(ReadTx) error) error
	Update(fn func(WriteTx) error) error
	Close() error
}
