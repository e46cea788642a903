package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/evidence"
	"github.com/windrose-io/windrose/pkg/ledger"
	"github.com/windrose-io/windrose/pkg/policy"
	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/signing"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

type solveFunc func(ctx context.Context, req *PlanRequest) (*SolverResult, error)

func (f solveFunc) Solve(ctx context.Context, req *PlanRequest) (*SolverResult, error) {
	return f(ctx, req)
}

func okSolver(kpis map[string]float64, cost types.ResourceVector) solveFunc {
	return func(ctx context.Context, req *PlanRequest) (*SolverResult, error) {
		return &SolverResult{
			Solution:   &policy.Solution{KPIs: kpis},
			ActualCost: &cost,
			Scenarios:  map[string]any{"count": req.Scenarios.NumScenarios},
		}, nil
	}
}

func newPipeline(t *testing.T, cfg *config.Config, solver SolverPort) (*Coordinator, *scheduler.Scheduler, storage.Store, *ledger.Ledger, *evidence.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg.SigningSecret = []byte("test-secret")
	signer := signing.NewSigner(cfg, nil)
	ldg := ledger.New(store, signer, nil)

	ev, err := evidence.NewStore(t.TempDir(), cfg.EvidenceRetain)
	require.NoError(t, err)

	sched := scheduler.NewScheduler(store, cfg, nil)
	guard := policy.NewGuard(cfg)
	coord := NewCoordinator(store, sched, guard, ldg, ev, solver, cfg, nil)
	return coord, sched, store, ldg, ev
}

func jobStatus(t *testing.T, store storage.Store, jobID string) (types.JobStatus, string) {
	t.Helper()
	var status types.JobStatus
	var reason string
	require.NoError(t, store.View(func(tx storage.ReadTx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		status = job.Status
		reason = job.FailReason
		return nil
	}))
	return status, reason
}

func TestPipelineHappyPath(t *testing.T) {
	solver := okSolver(map[string]float64{"total_cost": 1200, "service": 0.97},
		types.ResourceVector{SolverSec: 5})
	coord, sched, store, ldg, ev := newPipeline(t, config.Default(), solver)

	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:     "acme",
		Tier:         types.TierFree,
		Scenarios:    policy.ScenarioSpec{NumScenarios: 10},
		Optimodel:    map[string]any{"objective": "min_cost"},
		CostEstimate: types.ResourceVector{SolverSec: 10},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Job)
	assert.True(t, sub.Snapshot.Allow)

	leased, err := sched.Lease("w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, sub.Job.ID, leased[0].JobID)

	require.NoError(t, coord.RunPlanJob(context.Background(), "w1", leased[0]))

	status, _ := jobStatus(t, store, sub.Job.ID)
	assert.Equal(t, types.JobStatusCompleted, status)

	// the run landed on the ledger with its audit metadata
	chain, err := ldg.GetChain("acme", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	entry := chain[0]
	assert.Equal(t, JobTypePlanRun, entry.ActionType)
	assert.Equal(t, sub.RunID, entry.Metadata["run_id"])
	assert.NotEmpty(t, entry.Metadata["optimodel_hash"])
	assert.NotEmpty(t, entry.Signature)

	// the evidence snapshot is readable by the recorded address
	addr, ok := entry.Metadata["evidence_address"].(string)
	require.True(t, ok)
	snap, err := ev.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, sub.RunID, snap.PlanID)

	events, err := ev.GraphEvents("acme")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, addr, events[0].Address)
	assert.NotEmpty(t, events[0].Nodes)

	// settlement used the actual cost, not the estimate
	budget, err := sched.GetTenantBudget("acme")
	require.NoError(t, err)
	assert.InDelta(t, 3600-5, budget.Remaining.SolverSec, 1e-9)
}

func TestEmptySolverResultCompletes(t *testing.T) {
	// a backend may legitimately return no solution body at all
	solver := solveFunc(func(ctx context.Context, req *PlanRequest) (*SolverResult, error) {
		return &SolverResult{}, nil
	})
	coord, sched, store, ldg, _ := newPipeline(t, config.Default(), solver)

	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:     "acme",
		Tier:         types.TierStandard,
		Scenarios:    policy.ScenarioSpec{NumScenarios: 5},
		CostEstimate: types.ResourceVector{SolverSec: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Job)

	leased, err := sched.Lease("w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, coord.RunPlanJob(context.Background(), "w1", leased[0]))

	status, _ := jobStatus(t, store, sub.Job.ID)
	assert.Equal(t, types.JobStatusCompleted, status)

	chain, err := ldg.GetChain("acme", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, sub.RunID, chain[0].Metadata["run_id"])
}

func TestSubmitDeniedByPolicy(t *testing.T) {
	coord, sched, _, _, _ := newPipeline(t, config.Default(),
		okSolver(nil, types.ResourceVector{}))

	// free tier caps scenarios at 40
	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:  "acme",
		Tier:      types.TierFree,
		Scenarios: policy.ScenarioSpec{NumScenarios: 41},
	})
	require.NoError(t, err)
	assert.Nil(t, sub.Job)
	assert.False(t, sub.Snapshot.Allow)
	assert.Contains(t, sub.Snapshot.Reasons, "scenario count 41 exceeds cap 40 for tier free")

	// nothing was enqueued
	leased, err := sched.Lease("w1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestSolverTimeoutFailsJob(t *testing.T) {
	cfg := config.Default()
	cfg.SolverTimeout = 20 * time.Millisecond

	solver := solveFunc(func(ctx context.Context, req *PlanRequest) (*SolverResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	coord, sched, store, _, _ := newPipeline(t, cfg, solver)

	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:  "acme",
		Tier:      types.TierFree,
		Scenarios: policy.ScenarioSpec{NumScenarios: 5},
	})
	require.NoError(t, err)

	leased, err := sched.Lease("w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	err = coord.RunPlanJob(context.Background(), "w1", leased[0])
	require.Error(t, err)

	status, reason := jobStatus(t, store, sub.Job.ID)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Equal(t, scheduler.ReasonSolverTimeout, reason)
}

func TestSolutionRejectedByPhaseB(t *testing.T) {
	solver := okSolver(map[string]float64{"service": 0.80}, types.ResourceVector{SolverSec: 1})
	coord, sched, store, ldg, _ := newPipeline(t, config.Default(), solver)

	goal := &policy.GoalDSL{
		Policies: map[string]policy.Value{
			"caps": policy.Map(map[string]policy.Value{
				"service_min": policy.Number(0.95),
			}),
		},
	}
	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:  "acme",
		Tier:      types.TierFree,
		Goal:      goal,
		Scenarios: policy.ScenarioSpec{NumScenarios: 5},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Job)

	leased, err := sched.Lease("w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, coord.RunPlanJob(context.Background(), "w1", leased[0]))

	status, reason := jobStatus(t, store, sub.Job.ID)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Equal(t, ReasonPolicyDenied, reason)

	// the rejection is still on the record
	chain, err := ldg.GetChain("acme", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	snapshot, ok := chain[0].Metadata["policy_snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, snapshot["allow"])
}

func TestWorkerExecutesLeasedJobs(t *testing.T) {
	solver := okSolver(map[string]float64{"total_cost": 100}, types.ResourceVector{SolverSec: 1})
	coord, sched, store, _, _ := newPipeline(t, config.Default(), solver)

	worker := NewWorker(WorkerConfig{
		ID:           "w1",
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
	}, coord, sched)
	worker.Start()
	defer worker.Stop()

	sub, err := coord.SubmitPlan(&PlanRequest{
		TenantID:  "acme",
		Tier:      types.TierStandard,
		Scenarios: policy.ScenarioSpec{NumScenarios: 5},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Job)

	require.Eventually(t, func() bool {
		var status types.JobStatus
		err := store.View(func(tx storage.ReadTx) error {
			job, err := tx.GetJob(sub.Job.ID)
			if err != nil {
				return err
			}
			status = job.Status
			return nil
		})
		return err == nil && status == types.JobStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)
}
