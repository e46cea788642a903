package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/windrose-io/windrose/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTenants = []byte("tenants")
	bucketJobs    = []byte("jobs")
	bucketLedger  = []byte("ledger") // nested per-tenant sequence buckets
	bucketKeys    = []byte("signing_keys")
)

// BoltStore implements Store using BoltDB. Update transactions are
// serializable and single-writer, which is what gives every conditional
// update in the scheduler and key manager its atomicity.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "windrose.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrStoreUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTenants,
			bucketJobs,
			bucketLedger,
			bucketKeys,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) View(fn func(ReadTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) Update(fn func(WriteTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// boltTx adapts a bolt transaction to ReadTx/WriteTx.
type boltTx struct {
	tx *bolt.Tx
}

// Tenant operations

func (t *boltTx) GetTenant(id string) (*types.Tenant, error) {
	data := t.tx.Bucket(bucketTenants).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrTenantNotFound, id)
	}
	var tenant types.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (t *boltTx) ListTenants() ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := t.tx.Bucket(bucketTenants).ForEach(func(k, v []byte) error {
		var tenant types.Tenant
		if err := json.Unmarshal(v, &tenant); err != nil {
			return err
		}
		tenants = append(tenants, &tenant)
		return nil
	})
	return tenants, err
}

func (t *boltTx) PutTenant(tenant *types.Tenant) error {
	data, err := json.Marshal(tenant)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketTenants).Put([]byte(tenant.ID), data)
}

// Job operations

func (t *boltTx) GetJob(id string) (*types.Job, error) {
	data := t.tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *boltTx) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := t.tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
		var job types.Job
		if err := json.Unmarshal(v, &job); err != nil {
			return err
		}
		jobs = append(jobs, &job)
		return nil
	})
	return jobs, err
}

func (t *boltTx) ListJobsByTenant(tenantID string) ([]*types.Job, error) {
	jobs, err := t.ListJobs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Job
	for _, job := range jobs {
		if job.TenantID == tenantID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (t *boltTx) EligibleJobs(now time.Time) ([]*types.Job, error) {
	jobs, err := t.ListJobs()
	if err != nil {
		return nil, err
	}

	var eligible []*types.Job
	for _, job := range jobs {
		switch {
		case job.Status == types.JobStatusQueued:
			eligible = append(eligible, job)
		case job.Status == types.JobStatusLeased &&
			job.LeaseExpires != nil && !job.LeaseExpires.After(now):
			eligible = append(eligible, job)
		}
	}
	return eligible, nil
}

func (t *boltTx) PutJob(job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
}

// Ledger operations. Each tenant gets a nested bucket keyed by big-endian
// sequence number, so cursor order is chain order.

func (t *boltTx) tenantLedger(tenantID string, create bool) (*bolt.Bucket, error) {
	root := t.tx.Bucket(bucketLedger)
	b := root.Bucket([]byte(tenantID))
	if b == nil && create {
		return root.CreateBucket([]byte(tenantID))
	}
	return b, nil
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func (t *boltTx) LedgerEntries(tenantID string, limit int) ([]*types.LedgerEntry, error) {
	b, err := t.tenantLedger(tenantID, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}

	var entries []*types.LedgerEntry
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e types.LedgerEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (t *boltTx) LedgerTail(tenantID string) (*types.LedgerEntry, error) {
	b, err := t.tenantLedger(tenantID, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}

	_, v := b.Cursor().Last()
	if v == nil {
		return nil, nil
	}
	var e types.LedgerEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *boltTx) LedgerLen(tenantID string) (int, error) {
	b, err := t.tenantLedger(tenantID, false)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	return b.Stats().KeyN, nil
}

func (t *boltTx) AppendLedgerEntry(e *types.LedgerEntry) error {
	b, err := t.tenantLedger(e.TenantID, true)
	if err != nil {
		return err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	e.Seq = seq

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put(seqKey(seq), data)
}

func (t *boltTx) PutLedgerEntry(e *types.LedgerEntry) error {
	b, err := t.tenantLedger(e.TenantID, true)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put(seqKey(e.Seq), data)
}

// Signing key operations

func (t *boltTx) GetKey(keyID string) (*types.SigningKey, error) {
	data := t.tx.Bucket(bucketKeys).Get([]byte(keyID))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, keyID)
	}
	var key types.SigningKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (t *boltTx) ListKeysByTenant(tenantID string) ([]*types.SigningKey, error) {
	var keys []*types.SigningKey
	err := t.tx.Bucket(bucketKeys).ForEach(func(k, v []byte) error {
		var key types.SigningKey
		if err := json.Unmarshal(v, &key); err != nil {
			return err
		}
		if key.TenantID == tenantID {
			keys = append(keys, &key)
		}
		return nil
	})
	return keys, err
}

func (t *boltTx) ActiveKey(tenantID string) (*types.SigningKey, error) {
	keys, err := t.ListKeysByTenant(tenantID)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.Status == types.KeyStatusActive {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %s", types.ErrNoActiveKey, tenantID)
}

func (t *boltTx) PutKey(key *types.SigningKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketKeys).Put([]byte(key.KeyID), data)
}
