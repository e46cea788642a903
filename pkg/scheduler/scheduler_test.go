package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SetTier("heavy", config.TierDefaults{Weight: 3})
	cfg.SetTier("light", config.TierDefaults{Weight: 1})
	return cfg
}

func newScheduler(t *testing.T, cfg *config.Config) (*Scheduler, storage.Store, *time.Time) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched := NewScheduler(store, cfg, nil).WithClock(func() time.Time { return now })
	return sched, store, &now
}

func TestEnqueueStampsVirtualFinish(t *testing.T) {
	sched, store, now := newScheduler(t, testConfig())

	cost := types.ResourceVector{SolverSec: 10, GPUSec: 2, LLMTokens: 1000}
	job, err := sched.Enqueue("acme", "light", "plan_run", nil, cost, nil)
	require.NoError(t, err)

	nowScalar := float64(now.UnixNano()) / float64(time.Second)
	assert.InDelta(t, nowScalar+cost.Sum()/1.0, job.VirtualFinish, 1e-6)
	assert.Equal(t, types.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.Priority) // floor(weight)

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Zero(t, tenant.VirtualFinish) // advances on completion only
		assert.Equal(t, *now, tenant.LastRequestTS)
		return nil
	}))
}

func TestEnqueueUnknownTier(t *testing.T) {
	sched, _, _ := newScheduler(t, testConfig())

	_, err := sched.Enqueue("acme", "platinum", "plan_run", nil, types.ResourceVector{SolverSec: 1}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownTier)
}

func TestRateLimitInclusiveBoundary(t *testing.T) {
	sched, store, now := newScheduler(t, config.Default())

	// free tier: 60/min, one second minimum spacing
	cost := types.ResourceVector{SolverSec: 1, GPUSec: 1, LLMTokens: 1}
	_, err := sched.Enqueue("acme", types.TierFree, "plan_run", nil, cost, nil)
	require.NoError(t, err)
	firstTS := *now

	*now = now.Add(999 * time.Millisecond)
	_, err = sched.Enqueue("acme", types.TierFree, "plan_run", nil, cost, nil)
	assert.ErrorIs(t, err, types.ErrRateLimited)

	// denial must not touch last_request_ts
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Equal(t, firstTS, tenant.LastRequestTS)
		return nil
	}))

	// exactly on the boundary is admitted
	*now = firstTS.Add(time.Second)
	_, err = sched.Enqueue("acme", types.TierFree, "plan_run", nil, cost, nil)
	assert.NoError(t, err)
}

func TestBudgetExhaustionDeniesNextAdmission(t *testing.T) {
	sched, _, _ := newScheduler(t, testConfig())

	limits := types.ResourceVector{SolverSec: 10, GPUSec: 10, LLMTokens: 10}
	_, err := sched.SetTenantLimits("acme", "light", &limits)
	require.NoError(t, err)

	cost := types.ResourceVector{SolverSec: 10, GPUSec: 1, LLMTokens: 1}
	job, err := sched.Enqueue("acme", "light", "plan_run", nil, cost, nil)
	require.NoError(t, err)

	leases, err := sched.Lease("w1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	// completion drives solver_sec to exactly zero, which is permitted
	require.NoError(t, sched.Complete(job.ID, "w1", nil, nil))

	// the next admission is denied
	_, err = sched.Enqueue("acme", "light", "plan_run", nil, cost, nil)
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
}

func TestFairShareVirtualFinish(t *testing.T) {
	sched, store, _ := newScheduler(t, testConfig())

	cost := types.ResourceVector{SolverSec: 30, GPUSec: 10, LLMTokens: 5000}
	const rounds = 5
	for i := 0; i < rounds; i++ {
		heavyJob, err := sched.Enqueue("heavy-t", "heavy", "plan_run", nil, cost, nil)
		require.NoError(t, err)
		lightJob, err := sched.Enqueue("light-t", "light", "plan_run", nil, cost, nil)
		require.NoError(t, err)

		leases, err := sched.Lease("w1", 2, time.Minute)
		require.NoError(t, err)
		require.Len(t, leases, 2)

		require.NoError(t, sched.Complete(heavyJob.ID, "w1", nil, nil))
		require.NoError(t, sched.Complete(lightJob.ID, "w1", nil, nil))
	}

	// Equal work consumed: virtual finish advances inversely to weight, so
	// the weight-3 tenant accrues a third of the weight-1 tenant's time.
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		heavy, err := tx.GetTenant("heavy-t")
		require.NoError(t, err)
		light, err := tx.GetTenant("light-t")
		require.NoError(t, err)

		ratio := heavy.VirtualFinish / light.VirtualFinish
		assert.InDelta(t, 1.0/3.0, ratio, 1.0/3.0*0.05)
		return nil
	}))
}

func TestLeaseExpiryRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLeaseAttempts = 2
	sched, store, now := newScheduler(t, cfg)

	job, err := sched.Enqueue("acme", "light", "plan_run", nil, types.ResourceVector{SolverSec: 1, GPUSec: 1, LLMTokens: 1}, nil)
	require.NoError(t, err)
	originalVF := job.VirtualFinish

	leases, err := sched.Lease("w1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, 1, leases[0].Attempt)

	// lease runs out; sweeper requeues with the original virtual finish
	*now = now.Add(2 * time.Minute)
	require.NoError(t, sched.SweepExpiredLeases(*now))

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		swept, err := tx.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusQueued, swept.Status)
		assert.Empty(t, swept.WorkerID)
		assert.Equal(t, originalVF, swept.VirtualFinish)
		return nil
	}))

	// heartbeat from the old holder must fail
	_, err = sched.Heartbeat(job.ID, "w1", time.Minute)
	assert.ErrorIs(t, err, types.ErrNotLeasedToWorker)

	// another worker picks it up with the attempt counter advanced
	leases, err = sched.Lease("w2", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, 2, leases[0].Attempt)
	assert.Equal(t, job.ID, leases[0].JobID)

	// second expiry hits the attempt ceiling
	*now = now.Add(2 * time.Minute)
	require.NoError(t, sched.SweepExpiredLeases(*now))

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		failed, err := tx.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusFailed, failed.Status)
		assert.Equal(t, ReasonLeaseExpired, failed.FailReason)
		return nil
	}))
}

func TestHeartbeatExtendsMonotonically(t *testing.T) {
	sched, _, now := newScheduler(t, testConfig())

	job, err := sched.Enqueue("acme", "light", "plan_run", nil, types.ResourceVector{SolverSec: 1, GPUSec: 1, LLMTokens: 1}, nil)
	require.NoError(t, err)

	leases, err := sched.Lease("w1", 1, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	// a shorter extension does not pull the expiry back
	expires, err := sched.Heartbeat(job.ID, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, leases[0].LeaseExpires, expires)

	// a longer one pushes it out
	*now = now.Add(5 * time.Minute)
	expires, err = sched.Heartbeat(job.ID, "w1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), expires)

	_, err = sched.Heartbeat(job.ID, "w2", time.Minute)
	assert.ErrorIs(t, err, types.ErrNotLeasedToWorker)
}

func TestCompleteIdempotent(t *testing.T) {
	sched, store, _ := newScheduler(t, testConfig())

	job, err := sched.Enqueue("acme", "light", "plan_run", nil, types.ResourceVector{SolverSec: 10, GPUSec: 1, LLMTokens: 1}, nil)
	require.NoError(t, err)
	_, err = sched.Lease("w1", 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, sched.Complete(job.ID, "w1", nil, nil))

	var remainingAfterFirst float64
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		remainingAfterFirst = tenant.Remaining.SolverSec
		return nil
	}))

	// repeat is a no-op, no double debit
	require.NoError(t, sched.Complete(job.ID, "w1", nil, nil))
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Equal(t, remainingAfterFirst, tenant.Remaining.SolverSec)
		return nil
	}))

	// a different worker cannot complete it
	err = sched.Complete(job.ID, "w2", nil, nil)
	assert.ErrorIs(t, err, types.ErrNotLeasedToWorker)
}

func TestCompleteUsesActualCost(t *testing.T) {
	sched, store, _ := newScheduler(t, testConfig())

	limits := types.ResourceVector{SolverSec: 100, GPUSec: 100, LLMTokens: 100000}
	_, err := sched.SetTenantLimits("acme", "light", &limits)
	require.NoError(t, err)

	job, err := sched.Enqueue("acme", "light", "plan_run", nil, types.ResourceVector{SolverSec: 50, GPUSec: 10, LLMTokens: 1000}, nil)
	require.NoError(t, err)
	_, err = sched.Lease("w1", 1, time.Minute)
	require.NoError(t, err)

	actual := types.ResourceVector{SolverSec: 20, GPUSec: 4, LLMTokens: 500}
	require.NoError(t, sched.Complete(job.ID, "w1", nil, &actual))

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Equal(t, 80.0, tenant.Remaining.SolverSec)
		assert.Equal(t, 96.0, tenant.Remaining.GPUSec)
		assert.Equal(t, 99500.0, tenant.Remaining.LLMTokens)
		// vf advance: (20 + 0.5*4 + 500/1000) / 1 = 22.5
		assert.InDelta(t, 22.5, tenant.VirtualFinish, 1e-9)
		return nil
	}))
}

func TestFailDebitsEstimateExceptExemptReasons(t *testing.T) {
	sched, store, _ := newScheduler(t, testConfig())

	limits := types.ResourceVector{SolverSec: 100, GPUSec: 100, LLMTokens: 100}
	_, err := sched.SetTenantLimits("acme", "light", &limits)
	require.NoError(t, err)

	cost := types.ResourceVector{SolverSec: 10, GPUSec: 5, LLMTokens: 20}
	failing, err := sched.Enqueue("acme", "light", "plan_run", nil, cost, nil)
	require.NoError(t, err)
	_, err = sched.Lease("w1", 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, sched.FailOrCancel(failing.ID, "w1", "solver_error"))
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Equal(t, 90.0, tenant.Remaining.SolverSec)
		assert.Zero(t, tenant.VirtualFinish) // failures do not advance vf
		return nil
	}))

	// admission_cancel on a queued job: cancelled, no debit
	queued, err := sched.Enqueue("acme", "light", "plan_run", nil, cost, nil)
	require.NoError(t, err)
	require.NoError(t, sched.FailOrCancel(queued.ID, "", ReasonAdmissionCancel))

	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		job, err := tx.GetJob(queued.ID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusCancelled, job.Status)
		tenant, err := tx.GetTenant("acme")
		require.NoError(t, err)
		assert.Equal(t, 90.0, tenant.Remaining.SolverSec)
		return nil
	}))
}

func TestFailOrCancelUnknownJob(t *testing.T) {
	sched, _, _ := newScheduler(t, testConfig())
	err := sched.FailOrCancel("missing", "w1", "solver_error")
	assert.True(t, errors.Is(err, types.ErrJobNotFound))
}
