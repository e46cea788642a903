package scheduler

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// FailOrCancel reasons with special handling.
const (
	ReasonAdmissionCancel = "admission_cancel"
	ReasonUserCancel      = "user_cancel"
	ReasonStoreError      = "store_error"
	ReasonLeaseExpired    = "lease_expired_repeatedly"
	ReasonSolverTimeout   = "solver_timeout"
)

// Complete transitions a leased job to completed and settles the tenant's
// account in the same transaction: the budget is debited by the actual cost
// (worker-supplied, defaulting to the enqueued estimate) and the tenant's
// virtual finish advances by
//
//	work / max(weight, 1),  work = solver_sec + 0.5*gpu_sec + llm_tokens/1000
//
// A repeat Complete for the same (job, worker) on an already completed job
// is a no-op. Driving a budget dimension to or below zero is permitted; the
// tenant's next admission is denied instead.
func (s *Scheduler) Complete(jobID, workerID string, result json.RawMessage, actualCost *types.ResourceVector) error {
	now := s.now().UTC()

	var tenantID string
	err := s.store.Update(func(tx storage.WriteTx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.Status == types.JobStatusCompleted && job.WorkerID == workerID {
			return nil // idempotent repeat
		}
		if job.Status != types.JobStatusLeased || job.WorkerID != workerID {
			return fmt.Errorf("%w: job %s", types.ErrNotLeasedToWorker, jobID)
		}

		cost := job.CostEstimate
		if actualCost != nil {
			cost = *actualCost
		}

		job.Status = types.JobStatusCompleted
		job.Result = result
		job.LeaseExpires = nil
		job.UpdatedAt = now
		if err := tx.PutJob(job); err != nil {
			return err
		}

		tenant, err := tx.GetTenant(job.TenantID)
		if err != nil {
			return err
		}
		tenant.Remaining = tenant.Remaining.Sub(cost)
		tenant.VirtualFinish += cost.Work() / math.Max(tenant.Weight, 1)
		tenant.UpdatedAt = now
		tenantID = job.TenantID
		return tx.PutTenant(tenant)
	})
	if err != nil {
		return err
	}

	if tenantID != "" {
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventJobCompleted,
			TenantID: tenantID,
			JobID:    jobID,
		})
	}
	return nil
}

// FailOrCancel transitions a leased job to failed, or to cancelled for the
// cancel reasons. The tenant is still debited by the enqueued estimate so
// repeated failures cannot be used to dodge accounting, except for reasons
// admission_cancel and store_error where no work was consumed. A queued job
// may be cancelled directly with an empty workerID.
func (s *Scheduler) FailOrCancel(jobID, workerID, reason string) error {
	now := s.now().UTC()

	target := types.JobStatusFailed
	if reason == ReasonAdmissionCancel || reason == ReasonUserCancel {
		target = types.JobStatusCancelled
	}
	debit := reason != ReasonAdmissionCancel && reason != ReasonStoreError

	var tenantID string
	err := s.store.Update(func(tx storage.WriteTx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.Status == target && job.WorkerID == workerID {
			return nil // idempotent repeat
		}

		switch {
		case job.Status == types.JobStatusLeased && job.WorkerID == workerID:
		case job.Status == types.JobStatusQueued && workerID == "":
		default:
			return fmt.Errorf("%w: job %s", types.ErrNotLeasedToWorker, jobID)
		}

		job.Status = target
		job.FailReason = reason
		job.LeaseExpires = nil
		job.UpdatedAt = now
		if err := tx.PutJob(job); err != nil {
			return err
		}

		if debit {
			tenant, err := tx.GetTenant(job.TenantID)
			if err != nil {
				return err
			}
			tenant.Remaining = tenant.Remaining.Sub(job.CostEstimate)
			tenant.UpdatedAt = now
			if err := tx.PutTenant(tenant); err != nil {
				return err
			}
		}
		tenantID = job.TenantID
		return nil
	})
	if err != nil {
		return err
	}

	if tenantID != "" {
		eventType := events.EventJobFailed
		if target == types.JobStatusCancelled {
			eventType = events.EventJobCancelled
		}
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     eventType,
			TenantID: tenantID,
			JobID:    jobID,
			Message:  reason,
		})
	}
	return nil
}

// GetTenantBudget returns the tenant's budget view.
func (s *Scheduler) GetTenantBudget(tenantID string) (*types.TenantBudget, error) {
	var budget *types.TenantBudget
	err := s.store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant(tenantID)
		if err != nil {
			return err
		}
		budget = &types.TenantBudget{
			TenantID:      tenant.ID,
			Tier:          tenant.Tier,
			Weight:        tenant.Weight,
			Remaining:     tenant.Remaining,
			Limits:        tenant.Limits,
			VirtualFinish: tenant.VirtualFinish,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return budget, nil
}

// SetTenantLimits moves a tenant to a tier and applies explicit limits. A
// missing tenant row is created. Passing limits resets the remaining budget
// to the new allocation; a nil limits keeps the current remaining balance.
func (s *Scheduler) SetTenantLimits(tenantID string, tier types.Tier, limits *types.ResourceVector) (*types.TenantBudget, error) {
	now := s.now().UTC()

	defaults, err := s.cfg.TierDefaults(tier)
	if err != nil {
		return nil, err
	}

	var budget *types.TenantBudget
	err = s.store.Update(func(tx storage.WriteTx) error {
		tenant, err := s.ensureTenant(tx, tenantID, tier, now)
		if err != nil {
			return err
		}

		tenant.Tier = tier
		tenant.Weight = defaults.Weight
		tenant.RateLimitPerMinute = defaults.RateLimitPerMinute
		if limits != nil {
			tenant.Limits = limits
			tenant.Remaining = *limits
		}
		tenant.UpdatedAt = now
		if err := tx.PutTenant(tenant); err != nil {
			return err
		}

		budget = &types.TenantBudget{
			TenantID:      tenant.ID,
			Tier:          tenant.Tier,
			Weight:        tenant.Weight,
			Remaining:     tenant.Remaining,
			Limits:        tenant.Limits,
			VirtualFinish: tenant.VirtualFinish,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("tier", string(tier)).
		Msg("Updated tenant limits")
	return budget, nil
}
