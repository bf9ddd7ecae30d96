package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"civicsync/internal/models"
	"civicsync/internal/queue"
)

// Module priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// UserCosts are tenant-supplied overrides for the commerce analysis.
type UserCosts struct {
	OrderingCost   *float64 `json:"ordering_cost,omitempty"`
	HoldingCostPct *float64 `json:"holding_cost_pct,omitempty"`
	FixedCosts     *float64 `json:"fixed_costs,omitempty"`
	OpeningBalance *float64 `json:"opening_balance,omitempty"`
	LeadTime       *float64 `json:"lead_time,omitempty"`
}

// ModuleResult is one module's recommendation.
type ModuleResult struct {
	Applicable bool                   `json:"applicable"`
	Priority   string                 `json:"priority"`
	Confidence float64                `json:"confidence"`
	Needs      []string               `json:"needs,omitempty"`
	Inputs     map[string]interface{} `json:"inputs"`
	Insights   []string               `json:"insights,omitempty"`
}

// MissingField names a missing input and the modules it unblocks.
type MissingField struct {
	Field    string   `json:"field"`
	Unblocks []string `json:"unblocks"`
}

// Bundle is the full analysis output.
type Bundle struct {
	Modules         map[string]ModuleResult `json:"modules"`
	GeneralInsights string                  `json:"general_insights"`
	Recommendations []string                `json:"recommendations,omitempty"`
	MissingData     []MissingField          `json:"missing_data,omitempty"`
}

// productStats joins a product with the demand observed in its order lines.
type productStats struct {
	models.Product
	UnitsSold int
	Revenue   float64
}

// joinOrderLines attributes order line items to products by external id.
// Line items are matched on product_id only; variant-level matching is
// deliberately not attempted.
func joinOrderLines(products []models.Product, orders []models.Order) []productStats {
	byExternalID := make(map[string]*productStats, len(products))
	stats := make([]productStats, len(products))
	for i, p := range products {
		stats[i] = productStats{Product: p}
		byExternalID[p.ExternalID] = &stats[i]
	}

	for _, o := range orders {
		if len(o.LineItems) == 0 {
			continue
		}
		var items []models.OrderLineItem
		if err := json.Unmarshal(o.LineItems, &items); err != nil {
			continue
		}
		for _, item := range items {
			if ps, ok := byExternalID[item.ProductID]; ok {
				ps.UnitsSold += item.Quantity
				ps.Revenue += item.Price * float64(item.Quantity)
			}
		}
	}
	return stats
}

// estimateAnnualDemand prefers twelve times the observed monthly-scale sales
// of the top-inventory product; with no sales it falls back to four times the
// inventory on hand as a lower bound.
func estimateAnnualDemand(top productStats) float64 {
	if top.UnitsSold > 0 {
		return float64(top.UnitsSold) * 12
	}
	return float64(top.InventoryQty) * 4
}

// monthKey buckets an order into its calendar month.
func monthKey(o models.Order) string {
	return o.OrderDate.Format("2006-01")
}

// BuildAnalysis is the pure analysis function: current products and orders in,
// recommendation bundle out.
func BuildAnalysis(products []models.Product, orders []models.Order, costs UserCosts) *Bundle {
	b := &Bundle{Modules: map[string]ModuleResult{}}
	stats := joinOrderLines(products, orders)

	var (
		withPrice      int
		withCost       int
		inventoryValue float64
		totalSold      int
		outOfStock     []string
	)
	for _, ps := range stats {
		if ps.Price != nil {
			withPrice++
			inventoryValue += *ps.Price * float64(ps.InventoryQty)
		}
		if ps.CostPerItem != nil {
			withCost++
		}
		totalSold += ps.UnitsSold
		if ps.InventoryQty == 0 {
			outOfStock = append(outOfStock, ps.Title)
		}
	}

	missing := map[string][]string{}
	need := func(field, module string) {
		missing[field] = append(missing[field], module)
	}

	b.Modules[models.ModuleMargin] = buildMargin(stats, withPrice, withCost, costs, need)
	b.Modules[models.ModuleStock] = buildStock(stats, costs, need)
	b.Modules[models.ModuleForecast] = buildForecast(orders)
	b.Modules[models.ModuleCashflow] = buildCashflow(stats, orders, costs, need)

	b.GeneralInsights = fmt.Sprintf(
		"Catalog has %d products (%d priced), inventory valued at %.2f, %d units sold in the analysed window.",
		len(products), withPrice, inventoryValue, totalSold)

	if len(outOfStock) > 0 {
		show := outOfStock
		if len(show) > 3 {
			show = show[:3]
		}
		b.Recommendations = append(b.Recommendations,
			fmt.Sprintf("%d products out of stock: %s", len(outOfStock), strings.Join(show, ", ")))
	}
	if withCost == 0 && len(products) > 0 {
		b.Recommendations = append(b.Recommendations,
			"Add cost_per_item to your products to unlock margin insights.")
	}

	fields := make([]string, 0, len(missing))
	for f := range missing {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		b.MissingData = append(b.MissingData, MissingField{Field: f, Unblocks: missing[f]})
	}
	return b
}

func buildMargin(stats []productStats, withPrice, withCost int, costs UserCosts, need func(field, module string)) ModuleResult {
	if withPrice == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow, Needs: []string{"price"}}
	}

	rows := make([]map[string]interface{}, 0, len(stats))
	for _, ps := range stats {
		if ps.Price == nil {
			continue
		}
		row := map[string]interface{}{
			"name":   ps.Title,
			"price":  *ps.Price,
			"volume": ps.UnitsSold,
		}
		if ps.CostPerItem != nil {
			row["cost"] = *ps.CostPerItem
		}
		rows = append(rows, row)
	}

	inputs := map[string]interface{}{"products": rows}
	if costs.FixedCosts != nil {
		inputs["fixed_costs"] = *costs.FixedCosts
	}

	result := ModuleResult{Applicable: true, Inputs: inputs, Confidence: 0.6}
	if withCost >= 1 {
		result.Priority = PriorityHigh
		result.Confidence = 0.9
	} else {
		result.Priority = PriorityMedium
		result.Needs = []string{"cost_per_item"}
		need("cost_per_item", models.ModuleMargin)
	}
	return result
}

func buildStock(stats []productStats, costs UserCosts, need func(field, module string)) ModuleResult {
	if len(stats) == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow}
	}

	var needs []string
	if costs.OrderingCost == nil {
		needs = append(needs, "ordering_cost")
		need("ordering_cost", models.ModuleStock)
	}
	if costs.HoldingCostPct == nil {
		needs = append(needs, "holding_cost_pct")
		need("holding_cost_pct", models.ModuleStock)
	}
	if len(needs) > 0 {
		return ModuleResult{Applicable: true, Priority: PriorityMedium, Needs: needs, Confidence: 0.3}
	}

	// Reorder policy is sized on the deepest-stocked product.
	top := stats[0]
	for _, ps := range stats[1:] {
		if ps.InventoryQty > top.InventoryQty {
			top = ps
		}
	}

	unitCost := 0.0
	if top.CostPerItem != nil {
		unitCost = *top.CostPerItem
	} else if top.Price != nil {
		unitCost = *top.Price
	}
	leadTime := 0.0
	if costs.LeadTime != nil {
		leadTime = *costs.LeadTime
	}

	return ModuleResult{
		Applicable: true,
		Priority:   PriorityHigh,
		Confidence: 0.85,
		Inputs: map[string]interface{}{
			"D":            estimateAnnualDemand(top),
			"K":            *costs.OrderingCost,
			"h":            *costs.HoldingCostPct * unitCost,
			"L":            leadTime,
			"product_name": top.Title,
		},
	}
}

func buildForecast(orders []models.Order) ModuleResult {
	if len(orders) == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow, Needs: []string{"order_history"}}
	}

	monthly := map[string]float64{}
	for _, o := range orders {
		monthly[monthKey(o)] += o.TotalPrice
	}
	if len(monthly) < 3 {
		return ModuleResult{Applicable: false, Priority: PriorityLow, Needs: []string{"order_history"}}
	}

	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	series := make([]map[string]interface{}, 0, len(months))
	for _, m := range months {
		series = append(series, map[string]interface{}{"month": m, "revenue": monthly[m]})
	}

	return ModuleResult{
		Applicable: true,
		Priority:   PriorityHigh,
		Confidence: 0.8,
		Inputs:     map[string]interface{}{"monthly": series, "method": "auto"},
	}
}

func buildCashflow(stats []productStats, orders []models.Order, costs UserCosts, need func(field, module string)) ModuleResult {
	if len(stats) == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow}
	}

	var totalRevenue float64
	monthly := map[string]bool{}
	for _, o := range orders {
		totalRevenue += o.TotalPrice
		monthly[monthKey(o)] = true
	}
	avgInflow := 0.0
	if len(monthly) > 0 {
		avgInflow = totalRevenue / float64(len(monthly))
	}

	inputs := map[string]interface{}{
		"periods": 6,
		"inflows": []float64{avgInflow},
	}
	priority := PriorityMedium
	if costs.OpeningBalance != nil {
		inputs["opening_balance"] = *costs.OpeningBalance
		priority = PriorityHigh
	} else {
		need("opening_balance", models.ModuleCashflow)
	}
	if costs.FixedCosts != nil {
		inputs["outflows"] = []float64{*costs.FixedCosts}
	} else {
		need("fixed_costs", models.ModuleCashflow)
	}

	return ModuleResult{Applicable: true, Priority: priority, Confidence: 0.7, Inputs: inputs}
}

// RunAnalysis executes the analysis for a tenant and persists one Analysis
// row per applicable module, tagged with the given source.
func (e *Engine) RunAnalysis(ctx context.Context, tenantID int64, costs UserCosts, modules []string, source string) (*Bundle, error) {
	products, err := e.repo.ListProducts(ctx, tenantID, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	orders, err := e.repo.ListOrdersSince(ctx, tenantID, 365)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	bundle := BuildAnalysis(products, orders, costs)

	wanted := map[string]bool{}
	for _, m := range modules {
		wanted[strings.ToUpper(m)] = true
	}

	inputsJSON, err := json.Marshal(costs)
	if err != nil {
		return nil, err
	}

	for name, result := range bundle.Modules {
		if !result.Applicable {
			continue
		}
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		outputs, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		insight := ""
		if len(result.Insights) > 0 {
			insight = result.Insights[0]
		}
		row, err := e.repo.InsertAnalysis(ctx, &models.Analysis{
			TenantID: tenantID,
			Module:   name,
			Inputs:   inputsJSON,
			Outputs:  outputs,
			Insight:  insight,
			Source:   source,
		})
		if err != nil {
			return nil, fmt.Errorf("persist %s analysis: %w", name, err)
		}

		if _, err := e.queue.Enqueue(ctx, queue.QueueFeed, "feed:event", map[string]interface{}{
			"tenant_id":   tenantID,
			"type":        models.FeedAnalysisReady,
			"entity_kind": "analysis",
			"entity_id":   row.ID,
		}, nil); err != nil {
			log.Printf("[derive] enqueue analysis feed event: %v", err)
		}
	}
	return bundle, nil
}
