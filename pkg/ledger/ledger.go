package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/canonical"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/signing"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// AppendRequest describes one action to record. PreState and PostState are
// arbitrary JSON-marshalable state snapshots; only their hashes are stored.
// An empty ParentHash links the entry to the current chain tail.
type AppendRequest struct {
	TenantID   string
	ActionType string
	Source     string
	PreState   any
	PostState  any
	Delta      map[string]any
	ParentHash string
	Metadata   map[string]any
}

// Ledger appends to and verifies per-tenant hash-chained decision logs.
type Ledger struct {
	store  storage.Store
	signer *signing.Signer
	broker *events.Broker
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a ledger backed by the given store and signer. broker may be
// nil.
func New(store storage.Store, signer *signing.Signer, broker *events.Broker) *Ledger {
	return &Ledger{
		store:  store,
		signer: signer,
		broker: broker,
		logger: log.WithComponent("ledger"),
		now:    time.Now,
	}
}

// WithClock overrides the ledger clock. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append records one action on the tenant's chain. Hashing, parent linking,
// signing and the insert all happen inside one store transaction, so two
// racing appends serialize and each links to a distinct parent.
//
// A signing failure from missing key material is not fatal: the entry is
// stored unsigned and Verify later reports it unverifiable.
func (l *Ledger) Append(req AppendRequest) (*types.LedgerEntry, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("append: tenant id required")
	}
	if req.ActionType == "" {
		return nil, fmt.Errorf("append: action type required")
	}

	preHash, err := hashState(req.PreState)
	if err != nil {
		return nil, fmt.Errorf("hashing pre state: %w", err)
	}
	postHash, err := hashState(req.PostState)
	if err != nil {
		return nil, fmt.Errorf("hashing post state: %w", err)
	}

	var entry *types.LedgerEntry
	err = l.store.Update(func(tx storage.WriteTx) error {
		parentHash := req.ParentHash
		if parentHash == "" {
			tail, err := tx.LedgerTail(req.TenantID)
			if err != nil {
				return err
			}
			if tail != nil {
				parentHash = tail.PostStateHash
			}
		}

		payload, err := SignablePayload(req.TenantID, req.ActionType, req.Source,
			parentHash, preHash, postHash, req.Delta, req.Metadata)
		if err != nil {
			return err
		}

		activeKey, err := tx.ActiveKey(req.TenantID)
		if err != nil && !errors.Is(err, types.ErrNoActiveKey) {
			return err
		}

		sig, err := l.signer.Sign(payload, activeKey)
		if err != nil {
			return err
		}

		entry = &types.LedgerEntry{
			EntryID:       uuid.New().String(),
			TenantID:      req.TenantID,
			TS:            l.now().UTC(),
			ActionType:    req.ActionType,
			Source:        req.Source,
			ParentHash:    parentHash,
			PreStateHash:  preHash,
			PostStateHash: postHash,
			DeltaVector:   req.Delta,
			Metadata:      req.Metadata,
		}
		if sig.Algorithm != "" {
			entry.Signature = sig.Encoded()
			entry.SigningKeyID = sig.KeyID
			entry.SignatureAlgorithm = sig.Algorithm
			entry.SignatureVersion = signing.SignatureVersion
		}

		return tx.AppendLedgerEntry(entry)
	})
	if err != nil {
		return nil, err
	}

	alg := entry.SignatureAlgorithm
	if alg == "" {
		alg = "none"
	}
	metrics.LedgerAppendsTotal.WithLabelValues(alg).Inc()

	l.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventLedgerAppend,
		TenantID: req.TenantID,
		Message:  fmt.Sprintf("ledger entry %s appended (%s)", entry.EntryID, req.ActionType),
		Metadata: map[string]string{
			"entry_id":    entry.EntryID,
			"action_type": req.ActionType,
			"algorithm":   alg,
		},
	})

	l.logger.Debug().
		Str("tenant_id", req.TenantID).
		Str("entry_id", entry.EntryID).
		Str("action_type", req.ActionType).
		Str("algorithm", alg).
		Uint64("seq", entry.Seq).
		Msg("Appended ledger entry")

	return entry, nil
}

// GetChain returns the tenant's chain newest-first. A limit > 0 returns the
// newest limit entries.
func (l *Ledger) GetChain(tenantID string, limit int) ([]*types.LedgerEntry, error) {
	var entries []*types.LedgerEntry
	err := l.store.View(func(tx storage.ReadTx) error {
		var err error
		entries, err = tx.LedgerEntries(tenantID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Store order is oldest-first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SignablePayload builds the canonical byte form covered by an entry's
// signature. The eight keys are fixed; absent values encode as null so the
// writer and verifier always agree byte for byte.
func SignablePayload(tenantID, actionType, source, parentHash, preHash, postHash string, delta, metadata map[string]any) ([]byte, error) {
	return canonical.Marshal(map[string]any{
		"tenant_id":       tenantID,
		"action_type":     actionType,
		"source":          source,
		"parent_hash":     nullable(parentHash),
		"pre_state_hash":  nullable(preHash),
		"post_state_hash": nullable(postHash),
		"delta_vector":    delta,
		"metadata":        metadata,
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func hashState(state any) (string, error) {
	if state == nil {
		return "", nil
	}
	return canonical.Hash(state)
}
