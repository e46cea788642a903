package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// weightEpsilon guards the virtual-finish division against zero weights.
const weightEpsilon = 1e-9

// Scheduler admits, orders and dispatches jobs across tenants with weighted
// fairness, per-tenant rate limits and multi-dimensional budgets. All state
// lives in the store; every mutation is a conditional update inside one
// store transaction.
type Scheduler struct {
	store  storage.Store
	cfg    *config.Config
	broker *events.Broker
	logger zerolog.Logger
	now    func() time.Time
	stopCh chan struct{}
}

// NewScheduler creates a scheduler. broker may be nil.
func NewScheduler(store storage.Store, cfg *config.Config, broker *events.Broker) *Scheduler {
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		broker: broker,
		logger: log.WithComponent("scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// WithClock overrides the scheduler clock. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Enqueue admits one job for a tenant. Admission order: ensure the tenant
// row exists (upsert with tier defaults), rate limit, budget exhaustion.
// A denial mutates nothing, in particular not last_request_ts.
//
// The job is stamped with a virtual finish time
//
//	vf = max(tenant.virtual_finish, now_scalar) + sum(cost) / max(weight, eps)
//
// where now_scalar is wall-clock seconds. The tenant's own virtual_finish
// only advances on completion, which makes the queue debt-based: submitting
// cheap jobs does not cost priority, consuming real work does.
func (s *Scheduler) Enqueue(tenantID string, tier types.Tier, jobType string, payload json.RawMessage, cost types.ResourceVector, priority *int) (*types.Job, error) {
	now := s.now().UTC()

	var job *types.Job
	err := s.store.Update(func(tx storage.WriteTx) error {
		tenant, err := s.ensureTenant(tx, tenantID, tier, now)
		if err != nil {
			return err
		}

		if err := checkRateLimit(tenant, now); err != nil {
			return err
		}
		if tenant.Remaining.Exhausted() {
			return fmt.Errorf("%w: tenant %s", types.ErrBudgetExceeded, tenantID)
		}

		tenant.LastRequestTS = now
		tenant.UpdatedAt = now
		if err := tx.PutTenant(tenant); err != nil {
			return err
		}

		nowScalar := float64(now.UnixNano()) / float64(time.Second)
		vf := math.Max(tenant.VirtualFinish, nowScalar) + cost.Sum()/math.Max(tenant.Weight, weightEpsilon)

		prio := int(math.Floor(tenant.Weight))
		if priority != nil {
			prio = *priority
		}

		job = &types.Job{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			Tier:          tenant.Tier,
			JobType:       jobType,
			Payload:       payload,
			CostEstimate:  cost,
			Priority:      prio,
			VirtualFinish: vf,
			Status:        types.JobStatusQueued,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.PutJob(job)
	})
	if err != nil {
		s.countAdmission(tenantID, err)
		return nil, err
	}

	metrics.EnqueuesTotal.WithLabelValues("accepted").Inc()
	s.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventJobEnqueued,
		TenantID: tenantID,
		JobID:    job.ID,
		Message:  fmt.Sprintf("job %s enqueued (%s)", job.ID, jobType),
	})

	s.logger.Debug().
		Str("tenant_id", tenantID).
		Str("job_id", job.ID).
		Str("job_type", jobType).
		Int("priority", job.Priority).
		Float64("virtual_finish", job.VirtualFinish).
		Msg("Enqueued job")

	return job, nil
}

// checkRateLimit applies the tenant's per-minute rate limit. The boundary is
// inclusive: a request arriving exactly 60/rate seconds after the previous
// one is admitted.
func checkRateLimit(tenant *types.Tenant, now time.Time) error {
	rate := tenant.RateLimitPerMinute
	if rate <= 0 || tenant.LastRequestTS.IsZero() {
		return nil
	}
	minInterval := time.Duration(float64(time.Minute) / float64(rate))
	if now.Sub(tenant.LastRequestTS) < minInterval {
		return fmt.Errorf("%w: tenant %s", types.ErrRateLimited, tenant.ID)
	}
	return nil
}

// ensureTenant loads the tenant row, creating it from tier defaults on first
// observation. An existing row keeps its tier; tier changes go through
// SetTenantLimits.
func (s *Scheduler) ensureTenant(tx storage.WriteTx, tenantID string, tier types.Tier, now time.Time) (*types.Tenant, error) {
	tenant, err := tx.GetTenant(tenantID)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, types.ErrTenantNotFound) {
		return nil, err
	}

	defaults, err := s.cfg.TierDefaults(tier)
	if err != nil {
		return nil, err
	}

	tenant = &types.Tenant{
		ID:                 tenantID,
		Tier:               tier,
		Weight:             defaults.Weight,
		RateLimitPerMinute: defaults.RateLimitPerMinute,
		Remaining:          defaults.Budget(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.PutTenant(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (s *Scheduler) countAdmission(tenantID string, err error) {
	switch {
	case errors.Is(err, types.ErrRateLimited):
		metrics.EnqueuesTotal.WithLabelValues("rate_limited").Inc()
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventRateLimited,
			TenantID: tenantID,
		})
	case errors.Is(err, types.ErrBudgetExceeded):
		metrics.EnqueuesTotal.WithLabelValues("budget_denied").Inc()
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventBudgetDenied,
			TenantID: tenantID,
		})
	case errors.Is(err, types.ErrUnknownTier):
		metrics.EnqueuesTotal.WithLabelValues("unknown_tier").Inc()
	default:
		metrics.EnqueuesTotal.WithLabelValues("error").Inc()
	}
}
