package metabolism

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/health"
	"github.com/windrose-io/windrose/pkg/log"
)

// State estimates a tenant's capacity to execute for the coming week.
type State struct {
	EnergyCapacity    float64        `json:"energy_capacity"`    // [0, 100]
	Fatigue           float64        `json:"fatigue"`            // [0, 1]
	RecoveryRate      float64        `json:"recovery_rate"`      // [0.1, 1]
	WorkloadIndex     float64        `json:"workload_index"`     // [0, 1]
	ProjectedCapacity int            `json:"projected_weekly_capacity"`
	Risks             []string       `json:"risks,omitempty"`
	Basis             map[string]any `json:"basis"`
}

// Risk identifiers emitted on threshold breaches.
const (
	RiskOverload        = "workload_overload"
	RiskLowEnergy       = "low_energy"
	RiskSlowRecovery    = "slow_recovery"
	RiskHighFatigue     = "high_fatigue"
	RiskModerateFatigue = "moderate_fatigue"
)

// Engine derives metabolism states from health states and open work counts.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a metabolism engine.
func NewEngine() *Engine {
	return &Engine{logger: log.WithComponent("metabolism")}
}

// Evaluate computes the weekly capacity estimate. Missing health components
// contribute nothing; the energy blend renormalizes over the terms present.
func (e *Engine) Evaluate(tenantID string, hs *health.State, activeGoals, todoTasks int) *State {
	if hs == nil {
		hs = &health.State{}
	}

	operations := componentOr(hs.Operations, 0)
	customer := componentOr(hs.Customer, 0)

	baseEnergy := blendEnergy(hs.Overall, hs.Operations, hs.Customer)

	workload := math.Min(1,
		0.5*math.Min(1, float64(activeGoals)/5)+
			0.5*math.Min(1, float64(todoTasks)/20))

	fatigue := clamp(0, 1, 0.3+0.7*workload-0.002*customer)
	recovery := clamp(0.1, 1, 0.2+0.003*customer+0.002*operations)

	effective := math.Round(baseEnergy * (1 - 0.5*fatigue))
	projected := int(math.Max(3,
		math.Round((5+0.15*effective)*math.Max(0.5, 1.2-workload)*(0.8+0.4*recovery))))

	state := &State{
		EnergyCapacity:    effective,
		Fatigue:           fatigue,
		RecoveryRate:      recovery,
		WorkloadIndex:     workload,
		ProjectedCapacity: projected,
		Basis: map[string]any{
			"overall":      hs.Overall,
			"operations":   hs.Operations,
			"customer":     hs.Customer,
			"active_goals": activeGoals,
			"todo_tasks":   todoTasks,
			"base_energy":  baseEnergy,
		},
	}
	state.Risks = risks(workload, effective, recovery, fatigue)

	e.logger.Debug().
		Str("tenant_id", tenantID).
		Float64("energy", effective).
		Float64("workload", workload).
		Int("projected_capacity", projected).
		Msg("Evaluated metabolism")
	return state
}

// blendEnergy is 0.6*overall + 0.2*operations + 0.2*customer, renormalized
// over the terms that exist.
func blendEnergy(overall float64, operations, customer *float64) float64 {
	sum := 0.6 * overall
	weight := 0.6
	if operations != nil {
		sum += 0.2 * *operations
		weight += 0.2
	}
	if customer != nil {
		sum += 0.2 * *customer
		weight += 0.2
	}
	return sum / weight
}

func risks(workload, effective, recovery, fatigue float64) []string {
	var out []string
	if workload > 0.85 {
		out = append(out, RiskOverload)
	}
	if effective < 40 {
		out = append(out, RiskLowEnergy)
	}
	if recovery < 0.25 {
		out = append(out, RiskSlowRecovery)
	}
	switch {
	case fatigue > 0.7:
		out = append(out, RiskHighFatigue)
	case fatigue > 0.5:
		out = append(out, RiskModerateFatigue)
	}
	return out
}

func componentOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
