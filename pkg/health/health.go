package health

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/log"
)

// Component weights for the overall score. Renormalized over the components
// actually present.
var defaultWeights = map[string]float64{
	"revenue":    0.4,
	"operations": 0.3,
	"customer":   0.3,
}

// Order is one sales record from a connector.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Total      float64   `json:"total"`
	TS         time.Time `json:"ts"`
}

// InventoryItem is one stock record from a connector.
type InventoryItem struct {
	SKU      string    `json:"sku"`
	Quantity float64   `json:"quantity"`
	UnitCost float64   `json:"unit_cost"`
	TS       time.Time `json:"ts"`
}

// Customer is one customer record from a connector.
type Customer struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectorData is the raw input to an evaluation.
type ConnectorData struct {
	Orders    []Order         `json:"orders,omitempty"`
	Inventory []InventoryItem `json:"inventory,omitempty"`
	Customers []Customer      `json:"customers,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Interval is a confidence interval around the overall score.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// State is a reproducible health evaluation. Component scores are nil when
// their source slice is empty; the engine never infers from zero data.
type State struct {
	Overall      float64         `json:"overall"`
	Revenue      *float64        `json:"revenue,omitempty"`
	Operations   *float64        `json:"operations,omitempty"`
	Customer     *float64        `json:"customer,omitempty"`
	TrendPct     float64         `json:"trend_pct"`
	Quality      float64         `json:"quality"`
	IsSampleData bool            `json:"is_sample_data,omitempty"`
	CI           *Interval       `json:"ci,omitempty"`
	Drift        map[string]bool `json:"drift,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Engine computes health states. The deterministic baseline depends only on
// the input data and the clock; the adaptive additions (CI, drift flags) are
// gated by configuration and never alter the baseline numbers.
type Engine struct {
	cfg       *config.Config
	logger    zerolog.Logger
	now       func() time.Time
	detectors map[string]*driftDetector
}

// NewEngine creates a health engine.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    log.WithComponent("health"),
		now:       time.Now,
		detectors: make(map[string]*driftDetector),
	}
}

// WithClock overrides the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate computes the health state for one tenant's connector data.
func (e *Engine) Evaluate(tenantID string, data ConnectorData) *State {
	now := e.now().UTC()

	state := &State{
		Revenue:     revenueScore(data.Orders, now),
		Operations:  operationsScore(data.Orders, data.Inventory, now),
		Customer:    customerScore(data.Orders, now),
		TrendPct:    orderCountTrend(data.Orders, now),
		Quality:     qualityIndex(data, now),
		GeneratedAt: now,
	}
	if v, ok := data.Metadata["is_sample_data"].(bool); ok {
		state.IsSampleData = v
	}

	state.Overall = weightedOverall(map[string]*float64{
		"revenue":    state.Revenue,
		"operations": state.Operations,
		"customer":   state.Customer,
	})

	if e.cfg.EnableAdaptiveHealth {
		e.annotate(tenantID, state)
	}

	e.logger.Debug().
		Str("tenant_id", tenantID).
		Float64("overall", state.Overall).
		Float64("quality", state.Quality).
		Msg("Evaluated health")
	return state
}

// revenueScore compares the last 30 days of order totals with the 30 days
// before. Score = clamp(0, 100, 50 + 2.5*growth_pct).
func revenueScore(orders []Order, now time.Time) *float64 {
	if len(orders) == 0 {
		return nil
	}
	current := sumTotals(orders, now.AddDate(0, 0, -30), now)
	prior := sumTotals(orders, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))

	var growthPct float64
	switch {
	case prior > 0:
		growthPct = (current - prior) / prior * 100
	case current > 0:
		growthPct = 100
	}

	score := clamp(0, 100, 50+2.5*growthPct)
	return &score
}

// operationsScore is an inventory-turnover proxy: last-30-day sales
// annualized over total inventory value, scored against a turnover of 8,
// with a stockout penalty of 5 points per zero-quantity item capped at 30.
func operationsScore(orders []Order, inventory []InventoryItem, now time.Time) *float64 {
	if len(inventory) == 0 {
		return nil
	}

	totalValue := 0.0
	stockouts := 0
	for _, item := range inventory {
		totalValue += item.Quantity * item.UnitCost
		if item.Quantity == 0 {
			stockouts++
		}
	}

	score := 0.0
	if totalValue > 0 {
		sales := sumTotals(orders, now.AddDate(0, 0, -30), now)
		turnover := sales * 365 / 30 / totalValue
		score = math.Min(100, turnover/8*100)
	}

	penalty := math.Min(30, float64(stockouts)*5)
	score = clamp(0, 100, score-penalty)
	return &score
}

// customerScore is driven by the 90-day repeat rate: the percentage of
// ordering customers with at least two orders. Score = 30 + min(70,
// repeat_pct*1.4).
func customerScore(orders []Order, now time.Time) *float64 {
	if len(orders) == 0 {
		return nil
	}

	cutoff := now.AddDate(0, 0, -90)
	counts := make(map[string]int)
	for _, o := range orders {
		if o.CustomerID == "" || o.TS.Before(cutoff) || o.TS.After(now) {
			continue
		}
		counts[o.CustomerID]++
	}
	if len(counts) == 0 {
		return nil
	}

	repeat := 0
	for _, n := range counts {
		if n >= 2 {
			repeat++
		}
	}
	repeatPct := float64(repeat) / float64(len(counts)) * 100

	score := 30 + math.Min(70, repeatPct*1.4)
	return &score
}

// orderCountTrend is the percent change in order count between the last two
// 30-day windows.
func orderCountTrend(orders []Order, now time.Time) float64 {
	current := countOrders(orders, now.AddDate(0, 0, -30), now)
	prior := countOrders(orders, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))

	switch {
	case prior > 0:
		return float64(current-prior) / float64(prior) * 100
	case current > 0:
		return 100
	}
	return 0
}

// weightedOverall averages the present components under the default weights,
// renormalized to the present subset. All components absent yields zero.
func weightedOverall(components map[string]*float64) float64 {
	sum := 0.0
	weightSum := 0.0
	for name, score := range components {
		if score == nil {
			continue
		}
		w := defaultWeights[name]
		sum += *score * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// qualityIndex is the Data Quality Index in [0, 1]:
// 0.45*freshness + 0.35*completeness + 0.20*consistency.
func qualityIndex(data ConnectorData, now time.Time) float64 {
	freshness := 0.0
	if latest, ok := latestRecord(data); ok {
		days := now.Sub(latest).Hours() / 24
		freshness = 1 - math.Min(days, 30)/30
	}

	sources := 0.0
	if len(data.Orders) > 0 {
		sources++
	}
	if len(data.Inventory) > 0 {
		sources++
	}
	if len(data.Customers) > 0 {
		sources++
	}
	volume := (math.Min(1, float64(len(data.Orders))/50) +
		math.Min(1, float64(len(data.Inventory))/50) +
		math.Min(1, float64(len(data.Customers))/50)) / 3
	completeness := 0.7*(sources/3) + 0.3*volume

	negative := 0
	zero := 0
	for _, o := range data.Orders {
		switch {
		case o.Total < 0:
			negative++
		case o.Total == 0:
			zero++
		}
	}
	outOfStock := 0
	for _, item := range data.Inventory {
		if item.Quantity == 0 {
			outOfStock++
		}
	}
	denom := math.Max(1, float64(len(data.Orders)+len(data.Inventory)))
	consistency := 1 - math.Min(1, (float64(negative)+0.5*float64(zero)+0.1*float64(outOfStock))/denom)

	return 0.45*freshness + 0.35*completeness + 0.20*consistency
}

func latestRecord(data ConnectorData) (time.Time, bool) {
	var latest time.Time
	found := false
	consider := func(ts time.Time) {
		if ts.IsZero() {
			return
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	for _, o := range data.Orders {
		consider(o.TS)
	}
	for _, item := range data.Inventory {
		consider(item.TS)
	}
	for _, c := range data.Customers {
		consider(c.CreatedAt)
	}
	return latest, found
}

func sumTotals(orders []Order, from, to time.Time) float64 {
	sum := 0.0
	for _, o := range orders {
		if o.TS.After(from) && !o.TS.After(to) {
			sum += o.Total
		}
	}
	return sum
}

func countOrders(orders []Order, from, to time.Time) int {
	n := 0
	for _, o := range orders {
		if o.TS.After(from) && !o.TS.After(to) {
			n++
		}
	}
	return n
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
