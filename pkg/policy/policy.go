package policy

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/types"
)

// GoalDSL is the user-supplied declarative description of a planning
// request: objective weights, constraints, scope and policy hints. Unknown
// keys are carried through untouched.
type GoalDSL struct {
	Objective   map[string]float64 `json:"objective,omitempty"`
	Constraints map[string]Value   `json:"constraints,omitempty"`
	Scope       map[string]Value   `json:"scope,omitempty"`
	Policies    map[string]Value   `json:"policies,omitempty"`
}

// ScenarioSpec describes the scenario load of a request.
type ScenarioSpec struct {
	NumScenarios int `json:"num_scenarios"`
}

// Controls are the caps resolved for a request: the tier row merged with any
// numeric-castable overrides from goal.policies.caps.
type Controls struct {
	Tier        types.Tier `json:"tier"`
	ScenarioCap int        `json:"scenario_cap"`
	BudgetCap   float64    `json:"budget_cap"`
	ServiceMin  float64    `json:"service_min"`
	PolicyFlags []string   `json:"policy_flags,omitempty"`
}

// Snapshot is the decision record produced by phase A and finalized by phase
// B. The phase-B result is what lands in the ledger and evidence store.
type Snapshot struct {
	Allow    bool     `json:"allow"`
	PolicyID string   `json:"policy_id"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Controls Controls `json:"controls"`
}

// Solution is the solver output as seen by phase B: the KPI map plus the
// opaque plan body.
type Solution struct {
	KPIs map[string]float64 `json:"kpis,omitempty"`
	Plan json.RawMessage    `json:"plan,omitempty"`
}

// Diagnostics carries solver-side quality indicators.
type Diagnostics struct {
	RobustEval map[string]float64 `json:"robust_eval,omitempty"`
}

// Guard evaluates planning requests in two phases against the tier rules
// table.
type Guard struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewGuard creates a policy guard over the given configuration.
func NewGuard(cfg *config.Config) *Guard {
	return &Guard{cfg: cfg, logger: log.WithComponent("policy")}
}

// EvaluateRequest is phase A: resolve the tier, merge cap overrides and
// check the request against them. It is a pure function of its inputs aside
// from the generated policy id.
func (g *Guard) EvaluateRequest(goal *GoalDSL, ctx map[string]Value, scenarios ScenarioSpec, tenant *types.Tenant) *Snapshot {
	if goal == nil {
		goal = &GoalDSL{}
	}

	tier := g.resolveTier(goal, tenant)
	controls := g.resolveControls(goal, tier)

	snapshot := &Snapshot{
		Allow:    true,
		PolicyID: uuid.New().String(),
		Controls: controls,
	}

	if denied, reasons := denyFlag(goal); denied {
		snapshot.Allow = false
		snapshot.Reasons = append(snapshot.Reasons, reasons...)
	}

	if cap := controls.ScenarioCap; cap > 0 {
		switch {
		case scenarios.NumScenarios > cap:
			snapshot.Allow = false
			snapshot.Reasons = append(snapshot.Reasons,
				fmt.Sprintf("scenario count %d exceeds cap %d for tier %s", scenarios.NumScenarios, cap, tier))
		case float64(scenarios.NumScenarios) > 0.9*float64(cap):
			snapshot.Warnings = append(snapshot.Warnings,
				fmt.Sprintf("scenario count %d is above 90%% of cap %d", scenarios.NumScenarios, cap))
		}
	}

	if cap := controls.BudgetCap; cap > 0 {
		if budget, ok := goal.Constraints["budget_month"].Float(); ok {
			switch {
			case budget > cap:
				snapshot.Allow = false
				snapshot.Reasons = append(snapshot.Reasons,
					fmt.Sprintf("monthly budget %.2f exceeds cap %.2f for tier %s", budget, cap, tier))
			case budget > 0.85*cap:
				snapshot.Warnings = append(snapshot.Warnings,
					fmt.Sprintf("monthly budget %.2f is above 85%% of cap %.2f", budget, cap))
			}
		}
	}

	blocklist := goal.Policies["vendor_blocklist"].Strings()
	if len(blocklist) > 0 {
		blocked := make(map[string]bool, len(blocklist))
		for _, v := range blocklist {
			blocked[v] = true
		}
		for _, supplier := range ctx["suppliers"].Strings() {
			if blocked[supplier] {
				snapshot.Warnings = append(snapshot.Warnings,
					fmt.Sprintf("supplier %s is on the vendor blocklist", supplier))
			}
		}
	}

	g.observe("request", snapshot)
	return snapshot
}

// EvaluateSolution is phase B: check the produced solution's KPIs against
// the controls resolved in phase A. Only allow, reasons and warnings change;
// the controls are carried through untouched.
func (g *Guard) EvaluateSolution(snapshot *Snapshot, solution *Solution, diags *Diagnostics) *Snapshot {
	out := *snapshot
	out.Reasons = append([]string(nil), snapshot.Reasons...)
	out.Warnings = append([]string(nil), snapshot.Warnings...)

	if solution == nil {
		solution = &Solution{}
	}

	if min := out.Controls.ServiceMin; min > 0 {
		if service, ok := kpi(solution, "service", "service_level"); ok && service < min {
			out.Allow = false
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("service level %.3f below minimum %.3f", service, min))
		}
		if diags != nil {
			if worst, ok := diags.RobustEval["worst_case_service"]; ok && worst < min {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("worst case service %.3f below minimum %.3f", worst, min))
			}
		}
	}

	if cap := out.Controls.BudgetCap; cap > 0 {
		if cost, ok := kpi(solution, "total_cost", "cost"); ok && cost > cap {
			out.Allow = false
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("total cost %.2f exceeds budget cap %.2f", cost, cap))
		}
	}

	g.observe("solution", &out)
	return &out
}

func (g *Guard) resolveTier(goal *GoalDSL, tenant *types.Tenant) types.Tier {
	if s, ok := goal.Policies["tier"].Str(); ok {
		if _, err := g.cfg.TierDefaults(types.Tier(s)); err == nil {
			return types.Tier(s)
		}
	}
	if tenant != nil && tenant.Tier != "" {
		if _, err := g.cfg.TierDefaults(tenant.Tier); err == nil {
			return tenant.Tier
		}
	}
	return types.TierStandard
}

// resolveControls merges the tier row with goal.policies.caps. An override
// wins whenever it casts to a number.
func (g *Guard) resolveControls(goal *GoalDSL, tier types.Tier) Controls {
	row, err := g.cfg.TierDefaults(tier)
	if err != nil {
		row, _ = g.cfg.TierDefaults(types.TierStandard)
	}

	controls := Controls{
		Tier:        tier,
		ScenarioCap: row.ScenarioCap,
		BudgetCap:   row.BudgetCap,
		ServiceMin:  row.ServiceMin,
	}

	if caps, ok := goal.Policies["caps"].Fields(); ok {
		if v, ok := caps["scenario_cap"].Float(); ok {
			controls.ScenarioCap = int(v)
		}
		if v, ok := caps["budget_cap"].Float(); ok {
			controls.BudgetCap = v
		}
		if v, ok := caps["service_min"].Float(); ok {
			controls.ServiceMin = v
		}
	}

	// Boolean policy hints are carried as flags for audit
	for _, key := range sortedKeys(goal.Policies) {
		if key == "deny" {
			continue
		}
		if on, ok := goal.Policies[key].Truthy(); ok && on {
			controls.PolicyFlags = append(controls.PolicyFlags, key)
		}
	}
	return controls
}

func denyFlag(goal *GoalDSL) (bool, []string) {
	denied, ok := goal.Policies["deny"].Truthy()
	if !ok || !denied {
		return false, nil
	}
	reasons := goal.Policies["deny_reasons"].Strings()
	if len(reasons) == 0 {
		reasons = []string{"denied by goal policy"}
	}
	return true, reasons
}

func kpi(solution *Solution, names ...string) (float64, bool) {
	for _, name := range names {
		if v, ok := solution.KPIs[name]; ok {
			return v, true
		}
	}
	return 0, false
}

func (g *Guard) observe(phase string, snapshot *Snapshot) {
	outcome := "allow"
	if !snapshot.Allow {
		outcome = "deny"
	}
	metrics.PolicyDecisions.WithLabelValues(phase, outcome).Inc()

	if !snapshot.Allow {
		g.logger.Info().
			Str("phase", phase).
			Str("policy_id", snapshot.PolicyID).
			Strs("reasons", snapshot.Reasons).
			Msg("Policy denial")
	}
}
