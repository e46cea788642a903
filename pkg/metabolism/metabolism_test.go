package metabolism

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windrose-io/windrose/pkg/health"
)

func ptr(v float64) *float64 { return &v }

func TestEvaluateFormulas(t *testing.T) {
	e := NewEngine()
	hs := &health.State{
		Overall:    80,
		Operations: ptr(70),
		Customer:   ptr(60),
	}

	state := e.Evaluate("acme", hs, 2, 10)

	// workload = min(1, 0.5*2/5 + 0.5*10/20) = 0.45
	assert.InDelta(t, 0.45, state.WorkloadIndex, 1e-9)

	// fatigue = 0.3 + 0.7*0.45 - 0.002*60 = 0.495
	assert.InDelta(t, 0.495, state.Fatigue, 1e-9)

	// recovery = 0.2 + 0.003*60 + 0.002*70 = 0.52
	assert.InDelta(t, 0.52, state.RecoveryRate, 1e-9)

	// base = 0.6*80 + 0.2*70 + 0.2*60 = 74; effective = round(74*0.7525)
	wantEffective := math.Round(74 * (1 - 0.5*0.495))
	assert.Equal(t, wantEffective, state.EnergyCapacity)

	wantProjected := int(math.Max(3, math.Round((5+0.15*wantEffective)*
		math.Max(0.5, 1.2-0.45)*(0.8+0.4*0.52))))
	assert.Equal(t, wantProjected, state.ProjectedCapacity)

	assert.Empty(t, state.Risks)
	assert.Equal(t, 2, state.Basis["active_goals"])
}

func TestEnergyBlendRenormalizes(t *testing.T) {
	e := NewEngine()

	// only the overall is present: base energy equals it
	state := e.Evaluate("acme", &health.State{Overall: 50}, 0, 0)
	assert.InDelta(t, 50.0, state.Basis["base_energy"].(float64), 1e-9)

	// overall + operations: (0.6*50 + 0.2*90) / 0.8 = 60
	state = e.Evaluate("acme", &health.State{Overall: 50, Operations: ptr(90)}, 0, 0)
	assert.InDelta(t, 60.0, state.Basis["base_energy"].(float64), 1e-9)
}

func TestWorkloadSaturates(t *testing.T) {
	e := NewEngine()
	state := e.Evaluate("acme", &health.State{Overall: 50}, 50, 500)
	assert.Equal(t, 1.0, state.WorkloadIndex)
}

func TestRiskThresholds(t *testing.T) {
	e := NewEngine()

	// saturated workload with no customer relief: everything fires
	state := e.Evaluate("acme", &health.State{Overall: 20}, 10, 100)
	assert.Contains(t, state.Risks, RiskOverload)     // workload 1 > 0.85
	assert.Contains(t, state.Risks, RiskLowEnergy)    // effective well below 40
	assert.Contains(t, state.Risks, RiskSlowRecovery) // recovery 0.2 < 0.25
	assert.Contains(t, state.Risks, RiskHighFatigue)  // fatigue 1 > 0.7
	assert.NotContains(t, state.Risks, RiskModerateFatigue)
}

func TestModerateFatigueBand(t *testing.T) {
	e := NewEngine()

	// workload 0.45, customer 20: fatigue = 0.3 + 0.315 - 0.04 = 0.575
	state := e.Evaluate("acme", &health.State{Overall: 90, Customer: ptr(20)}, 2, 10)
	assert.Contains(t, state.Risks, RiskModerateFatigue)
	assert.NotContains(t, state.Risks, RiskHighFatigue)
}

func TestProjectedCapacityFloor(t *testing.T) {
	e := NewEngine()

	// zero energy, max workload: projection bottoms out at 3
	state := e.Evaluate("acme", &health.State{Overall: 0}, 100, 1000)
	assert.Equal(t, 3, state.ProjectedCapacity)
}

func TestNilHealthState(t *testing.T) {
	e := NewEngine()
	state := e.Evaluate("acme", nil, 0, 0)
	require.NotNil(t, state)
	assert.Zero(t, state.EnergyCapacity)
	// (5 + 0) * 1.2 * (0.8 + 0.4*0.2) rounds to 5
	assert.Equal(t, 5, state.ProjectedCapacity)
}
