package main

import (
	"context"
	"time"

	"github.com/windrose-io/windrose/pkg/orchestrator"
	"github.com/windrose-io/windrose/pkg/policy"
	"github.com/windrose-io/windrose/pkg/types"
)

// stubSolver is the built-in development backend. It echoes the objective
// weights back as KPIs so the pipeline can be exercised end to end without
// an external solver. TODO: replace with the remote solver binding once its
// transport is settled.
type stubSolver struct{}

func (stubSolver) Solve(ctx context.Context, req *orchestrator.PlanRequest) (*orchestrator.SolverResult, error) {
	start := time.Now()

	kpis := map[string]float64{}
	if req.Goal != nil {
		for name, weight := range req.Goal.Objective {
			kpis[name] = weight
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &orchestrator.SolverResult{
		Solution:   &policy.Solution{KPIs: kpis},
		ActualCost: &types.ResourceVector{SolverSec: time.Since(start).Seconds()},
		Scenarios:  map[string]any{"count": req.Scenarios.NumScenarios},
	}, nil
}
