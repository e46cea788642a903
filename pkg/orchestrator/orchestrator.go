package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/canonical"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/evidence"
	"github.com/windrose-io/windrose/pkg/ledger"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/policy"
	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// JobTypePlanRun is the job type the coordinator enqueues and executes.
const JobTypePlanRun = "plan_run"

// ReasonPolicyDenied marks jobs failed by a runtime policy denial.
const ReasonPolicyDenied = "policy_denied"

// PlanRequest is one planning submission.
type PlanRequest struct {
	TenantID     string                  `json:"tenant_id"`
	Tier         types.Tier              `json:"tier"`
	Goal         *policy.GoalDSL         `json:"goal,omitempty"`
	Context      map[string]policy.Value `json:"context,omitempty"`
	Scenarios    policy.ScenarioSpec     `json:"scenarios"`
	Optimodel    map[string]any          `json:"optimodel,omitempty"`
	Hints        map[string]any          `json:"hints,omitempty"`
	CostEstimate types.ResourceVector    `json:"cost_estimate"`
	Priority     *int                    `json:"priority,omitempty"`
}

// PlanSubmission is the admission outcome. Job is nil when the policy guard
// denied the request; the snapshot explains why.
type PlanSubmission struct {
	RunID    string           `json:"run_id"`
	Job      *types.Job       `json:"job,omitempty"`
	Snapshot *policy.Snapshot `json:"snapshot"`
}

// SolverResult is what the optimization backend returns for one run.
type SolverResult struct {
	Solution    *policy.Solution
	Diagnostics *policy.Diagnostics
	Scenarios   map[string]any
	ActualCost  *types.ResourceVector
}

// SolverPort is the boundary to the optimization backend. Solve must honor
// the context deadline.
type SolverPort interface {
	Solve(ctx context.Context, req *PlanRequest) (*SolverResult, error)
}

// planPayload is the job payload carried from admission to execution. The
// phase-A snapshot rides along so the run links back to the admission
// decision even after the tier table changes.
type planPayload struct {
	RunID    string           `json:"run_id"`
	Request  *PlanRequest     `json:"request"`
	Snapshot *policy.Snapshot `json:"snapshot"`
}

// Coordinator drives the planning pipeline: policy-gated admission into the
// scheduler, then per-leased-job execution through the solver, the evidence
// store and the ledger.
type Coordinator struct {
	store    storage.Store
	sched    *scheduler.Scheduler
	guard    *policy.Guard
	ledger   *ledger.Ledger
	evidence *evidence.Store
	solver   SolverPort
	cfg      *config.Config
	broker   *events.Broker
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCoordinator wires the pipeline. broker may be nil.
func NewCoordinator(store storage.Store, sched *scheduler.Scheduler, guard *policy.Guard,
	ldg *ledger.Ledger, ev *evidence.Store, solver SolverPort, cfg *config.Config,
	broker *events.Broker) *Coordinator {
	return &Coordinator{
		store:    store,
		sched:    sched,
		guard:    guard,
		ledger:   ldg,
		evidence: ev,
		solver:   solver,
		cfg:      cfg,
		broker:   broker,
		logger:   log.WithComponent("orchestrator"),
		now:      time.Now,
	}
}

// WithClock overrides the coordinator clock. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// SubmitPlan runs phase-A policy evaluation and, if allowed, enqueues a
// plan_run job. A denial enqueues nothing and returns the snapshot so the
// caller can show the reasons.
func (c *Coordinator) SubmitPlan(req *PlanRequest) (*PlanSubmission, error) {
	if req == nil || req.TenantID == "" {
		return nil, fmt.Errorf("submit plan: tenant id required")
	}

	tenant, err := c.getTenant(req.TenantID)
	if err != nil {
		return nil, err
	}

	snapshot := c.guard.EvaluateRequest(req.Goal, req.Context, req.Scenarios, tenant)
	runID := uuid.New().String()

	if !snapshot.Allow {
		c.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventPolicyDenied,
			TenantID: req.TenantID,
			Message:  fmt.Sprintf("plan submission denied: %v", snapshot.Reasons),
		})
		return &PlanSubmission{RunID: runID, Snapshot: snapshot}, nil
	}

	payload, err := json.Marshal(&planPayload{RunID: runID, Request: req, Snapshot: snapshot})
	if err != nil {
		return nil, err
	}

	tier := req.Tier
	if tier == "" {
		tier = snapshot.Controls.Tier
	}

	job, err := c.sched.Enqueue(req.TenantID, tier, JobTypePlanRun, payload, req.CostEstimate, req.Priority)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("tenant_id", req.TenantID).
		Str("run_id", runID).
		Str("job_id", job.ID).
		Msg("Plan submitted")
	return &PlanSubmission{RunID: runID, Job: job, Snapshot: snapshot}, nil
}

// RunPlanJob executes one leased plan_run job end to end: solver under the
// configured deadline, phase-B policy on the solution, evidence snapshot and
// graph event, ledger append, then settlement with the scheduler.
//
// The ledger append is not idempotent on its own; the run_id in the entry
// metadata is the caller-side dedup key across lease retries.
func (c *Coordinator) RunPlanJob(ctx context.Context, workerID string, leased *types.LeasedJob) error {
	var payload planPayload
	if err := json.Unmarshal(leased.Payload, &payload); err != nil {
		c.failJob(leased.JobID, workerID, scheduler.ReasonStoreError)
		return fmt.Errorf("decoding plan payload: %w", err)
	}
	req := payload.Request

	solveCtx, cancel := context.WithTimeout(ctx, c.cfg.SolverTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	result, err := c.solver.Solve(solveCtx, req)
	timer.ObserveDuration(metrics.SolverDuration)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(solveCtx.Err(), context.DeadlineExceeded) {
			metrics.SolverTimeouts.Inc()
			c.failJob(leased.JobID, workerID, scheduler.ReasonSolverTimeout)
			return fmt.Errorf("solver timed out after %s: %w", c.cfg.SolverTimeout, err)
		}
		c.failJob(leased.JobID, workerID, "solver_error")
		return fmt.Errorf("solver: %w", err)
	}

	final := c.guard.EvaluateSolution(payload.Snapshot, result.Solution, result.Diagnostics)

	addr, err := c.persistEvidence(payload.RunID, req, result, final)
	if err != nil {
		c.failJob(leased.JobID, workerID, scheduler.ReasonStoreError)
		return err
	}

	if err := c.recordRun(&payload, result, final, addr); err != nil {
		c.failJob(leased.JobID, workerID, scheduler.ReasonStoreError)
		return err
	}

	if !final.Allow {
		c.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventPolicyDenied,
			TenantID: req.TenantID,
			JobID:    leased.JobID,
			Message:  fmt.Sprintf("solution rejected: %v", final.Reasons),
		})
		return c.sched.FailOrCancel(leased.JobID, workerID, ReasonPolicyDenied)
	}

	kpis := map[string]float64{}
	if result.Solution != nil {
		kpis = result.Solution.KPIs
	}
	resultDoc, err := json.Marshal(map[string]any{
		"run_id":           payload.RunID,
		"evidence_address": addr,
		"snapshot":         final,
		"kpis":             kpis,
	})
	if err != nil {
		return err
	}
	if err := c.sched.Complete(leased.JobID, workerID, resultDoc, result.ActualCost); err != nil {
		return err
	}

	c.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventPlanCompleted,
		TenantID: req.TenantID,
		JobID:    leased.JobID,
		Message:  fmt.Sprintf("plan run %s completed", payload.RunID),
	})
	c.logger.Info().
		Str("tenant_id", req.TenantID).
		Str("run_id", payload.RunID).
		Str("evidence_address", addr).
		Msg("Plan run completed")
	return nil
}

// persistEvidence writes the run's snapshot blob and appends the derived
// graph event to the tenant's log.
func (c *Coordinator) persistEvidence(runID string, req *PlanRequest, result *SolverResult, snapshot *policy.Snapshot) (string, error) {
	solution := map[string]any{}
	if result.Solution != nil {
		solution["kpis"] = result.Solution.KPIs
		if len(result.Solution.Plan) > 0 {
			solution["plan"] = json.RawMessage(result.Solution.Plan)
		}
	}

	addr, err := c.evidence.Persist(&evidence.Snapshot{
		PlanID:    runID,
		Optimodel: req.Optimodel,
		Solution:  solution,
		Scenarios: result.Scenarios,
		Hints:     req.Hints,
		Metadata: map[string]any{
			"tenant_id": req.TenantID,
			"policy_id": snapshot.PolicyID,
			"allow":     snapshot.Allow,
		},
		Timestamp: c.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("persisting evidence: %w", err)
	}

	nodes, edges := solutionGraph(runID, result.Solution)
	err = c.evidence.AppendGraphEvent(&evidence.GraphEvent{
		TenantID:  req.TenantID,
		PlanID:    runID,
		Address:   addr,
		Nodes:     nodes,
		Edges:     edges,
		Timestamp: c.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("appending graph event: %w", err)
	}
	return addr, nil
}

// recordRun appends the run to the tenant's decision ledger. Metadata keys
// are the audit trail: policy snapshot, input fingerprints and the run id.
func (c *Coordinator) recordRun(payload *planPayload, result *SolverResult, snapshot *policy.Snapshot, evidenceAddr string) error {
	req := payload.Request

	optimodelHash, err := canonical.Hash(req.Optimodel)
	if err != nil {
		return err
	}
	inputHash, err := canonical.Hash(map[string]any{
		"goal":      req.Goal,
		"context":   req.Context,
		"scenarios": req.Scenarios,
	})
	if err != nil {
		return err
	}

	snapshotDoc, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	var snapshotMap map[string]any
	if err := json.Unmarshal(snapshotDoc, &snapshotMap); err != nil {
		return err
	}

	delta := map[string]any{}
	if result.ActualCost != nil {
		delta["solver_sec"] = result.ActualCost.SolverSec
		delta["gpu_sec"] = result.ActualCost.GPUSec
		delta["llm_tokens"] = result.ActualCost.LLMTokens
	}

	_, err = c.ledger.Append(ledger.AppendRequest{
		TenantID:   req.TenantID,
		ActionType: JobTypePlanRun,
		Source:     "orchestrator",
		PreState:   map[string]any{"input_hash": inputHash},
		PostState:  map[string]any{"evidence_address": evidenceAddr},
		Delta:      delta,
		Metadata: map[string]any{
			"run_id":           payload.RunID,
			"policy_snapshot":  snapshotMap,
			"optimodel_hash":   optimodelHash,
			"input_hash":       inputHash,
			"evidence_address": evidenceAddr,
		},
	})
	return err
}

// solutionGraph derives graph nodes and edges from a solution: one node per
// KPI hanging off the plan node.
func solutionGraph(runID string, solution *policy.Solution) ([]map[string]any, []map[string]any) {
	planNode := "plan:" + runID
	nodes := []map[string]any{{"id": planNode, "kind": "plan"}}
	var edges []map[string]any

	if solution == nil {
		return nodes, edges
	}
	for _, name := range sortedKPIs(solution.KPIs) {
		id := "kpi:" + name
		nodes = append(nodes, map[string]any{"id": id, "kind": "kpi", "value": solution.KPIs[name]})
		edges = append(edges, map[string]any{"from": planNode, "to": id, "kind": "reports"})
	}
	return nodes, edges
}

func sortedKPIs(kpis map[string]float64) []string {
	names := make([]string, 0, len(kpis))
	for name := range kpis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetJob fetches one of the tenant's jobs. A job owned by another tenant
// reads as not found.
func (c *Coordinator) GetJob(tenantID, jobID string) (*types.Job, error) {
	var job *types.Job
	err := c.store.View(func(tx storage.ReadTx) error {
		j, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if j.TenantID != tenantID {
			return fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Coordinator) getTenant(tenantID string) (*types.Tenant, error) {
	var tenant *types.Tenant
	err := c.store.View(func(tx storage.ReadTx) error {
		t, err := tx.GetTenant(tenantID)
		if errors.Is(err, types.ErrTenantNotFound) {
			return nil // first submission, tier resolves from the goal or default
		}
		if err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

func (c *Coordinator) failJob(jobID, workerID, reason string) {
	if err := c.sched.FailOrCancel(jobID, workerID, reason); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Str("reason", reason).Msg("Failed to fail job")
	}
}
