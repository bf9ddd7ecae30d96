package derive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"civicsync/internal/models"
)

func fptr(f float64) *float64 { return &f }

func product(extID, title string, price, cost *float64, qty int) models.Product {
	return models.Product{ExternalID: extID, Title: title, Price: price, CostPerItem: cost, InventoryQty: qty}
}

func orderWith(date time.Time, total float64, items []models.OrderLineItem) models.Order {
	raw, _ := json.Marshal(items)
	return models.Order{TotalPrice: total, OrderDate: date, LineItems: raw}
}

func TestAnalysisMissingCostsScenario(t *testing.T) {
	// Three products, none with cost_per_item, no ordering cost supplied.
	products := []models.Product{
		product("1", "A", fptr(10), nil, 5),
		product("2", "B", fptr(20), nil, 2),
		product("3", "C", fptr(30), nil, 0),
	}

	b := BuildAnalysis(products, nil, UserCosts{})

	margin := b.Modules[models.ModuleMargin]
	if !margin.Applicable || margin.Priority != PriorityMedium {
		t.Errorf("MARGIN: %+v", margin)
	}

	stock := b.Modules[models.ModuleStock]
	if !stock.Applicable || stock.Priority != PriorityMedium {
		t.Errorf("STOCK: %+v", stock)
	}
	if stock.Inputs != nil {
		t.Errorf("STOCK inputs must be nil without costs: %v", stock.Inputs)
	}
	if len(stock.Needs) != 2 || stock.Needs[0] != "ordering_cost" || stock.Needs[1] != "holding_cost_pct" {
		t.Errorf("STOCK needs: %v", stock.Needs)
	}

	found := map[string]bool{}
	for _, m := range b.MissingData {
		found[m.Field] = true
	}
	if !found["cost_per_item"] || !found["ordering_cost"] {
		t.Errorf("missing_data incomplete: %+v", b.MissingData)
	}
}

func TestAnalysisMarginHighWithKnownCost(t *testing.T) {
	products := []models.Product{
		product("1", "A", fptr(10), fptr(4), 5),
		product("2", "B", fptr(20), nil, 2),
	}
	b := BuildAnalysis(products, nil, UserCosts{})
	margin := b.Modules[models.ModuleMargin]
	if margin.Priority != PriorityHigh {
		t.Errorf("one known cost makes MARGIN high, got %s", margin.Priority)
	}
}

func TestStockDemandPrefersObservedSales(t *testing.T) {
	products := []models.Product{product("1", "A", fptr(10), fptr(4), 50)}
	orders := []models.Order{
		orderWith(time.Now(), 100, []models.OrderLineItem{{ProductID: "1", Quantity: 7, Price: 10}}),
	}
	costs := UserCosts{OrderingCost: fptr(25), HoldingCostPct: fptr(0.2), LeadTime: fptr(14)}

	b := BuildAnalysis(products, orders, costs)
	stock := b.Modules[models.ModuleStock]
	if !stock.Applicable || stock.Priority != PriorityHigh {
		t.Fatalf("STOCK: %+v", stock)
	}
	if stock.Inputs["D"] != 84.0 {
		t.Errorf("D should be units_sold*12 = 84, got %v", stock.Inputs["D"])
	}
	if stock.Inputs["K"] != 25.0 {
		t.Errorf("K = %v", stock.Inputs["K"])
	}
	// h = holding pct times unit cost.
	if stock.Inputs["h"] != 0.2*4 {
		t.Errorf("h = %v", stock.Inputs["h"])
	}
	if stock.Inputs["product_name"] != "A" {
		t.Errorf("product_name = %v", stock.Inputs["product_name"])
	}
}

func TestStockDemandFallsBackToInventory(t *testing.T) {
	products := []models.Product{product("1", "A", fptr(10), fptr(4), 50)}
	costs := UserCosts{OrderingCost: fptr(25), HoldingCostPct: fptr(0.2)}

	b := BuildAnalysis(products, nil, costs)
	stock := b.Modules[models.ModuleStock]
	if stock.Inputs["D"] != 200.0 {
		t.Errorf("D should fall back to inventory*4 = 200, got %v", stock.Inputs["D"])
	}
}

func TestForecastNeedsThreeMonths(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	twoMonths := []models.Order{
		orderWith(base, 100, nil),
		orderWith(base.AddDate(0, 1, 0), 150, nil),
	}
	b := BuildAnalysis([]models.Product{product("1", "A", fptr(10), nil, 1)}, twoMonths, UserCosts{})
	if b.Modules[models.ModuleForecast].Applicable {
		t.Error("FORECAST needs 3 calendar months")
	}

	threeMonths := append(twoMonths, orderWith(base.AddDate(0, 2, 0), 200, nil))
	b = BuildAnalysis([]models.Product{product("1", "A", fptr(10), nil, 1)}, threeMonths, UserCosts{})
	forecast := b.Modules[models.ModuleForecast]
	if !forecast.Applicable {
		t.Fatal("FORECAST applicable with 3 months")
	}
	series, ok := forecast.Inputs["monthly"].([]map[string]interface{})
	if !ok || len(series) != 3 {
		t.Errorf("monthly series: %v", forecast.Inputs["monthly"])
	}
	if forecast.Inputs["method"] != "auto" {
		t.Errorf("method = %v", forecast.Inputs["method"])
	}
}

func TestCashflowApplicableWithAnyProduct(t *testing.T) {
	b := BuildAnalysis([]models.Product{product("1", "A", fptr(10), nil, 1)}, nil,
		UserCosts{OpeningBalance: fptr(1000), FixedCosts: fptr(300)})
	cf := b.Modules[models.ModuleCashflow]
	if !cf.Applicable || cf.Priority != PriorityHigh {
		t.Errorf("CASHFLOW: %+v", cf)
	}
	if cf.Inputs["periods"] != 6 {
		t.Errorf("periods = %v", cf.Inputs["periods"])
	}
}

func TestGeneralInsightsAndOutOfStock(t *testing.T) {
	products := []models.Product{
		product("1", "A", fptr(10), nil, 0),
		product("2", "B", fptr(10), nil, 0),
	}
	b := BuildAnalysis(products, nil, UserCosts{})
	if b.GeneralInsights == "" {
		t.Error("general_insights empty")
	}
	if len(b.Recommendations) == 0 {
		t.Fatal("expected out-of-stock recommendation")
	}
	if want := "2 products out of stock: A, B"; b.Recommendations[0] != want {
		t.Errorf("got %q", b.Recommendations[0])
	}
}

func TestRunAnalysisPersistsApplicableModules(t *testing.T) {
	store := newFakeStore()
	store.products = []models.Product{product("1", "A", fptr(10), fptr(4), 5)}
	q := &nullQueue{}
	e := NewEngine(store, q)

	bundle, err := e.RunAnalysis(context.Background(), 1, UserCosts{}, nil, models.SourceShopifyAuto)
	if err != nil {
		t.Fatal(err)
	}
	applicable := 0
	for _, m := range bundle.Modules {
		if m.Applicable {
			applicable++
		}
	}
	if len(store.analyses) != applicable {
		t.Errorf("persisted %d rows for %d applicable modules", len(store.analyses), applicable)
	}
	for _, a := range store.analyses {
		if a.Source != models.SourceShopifyAuto {
			t.Errorf("source = %q", a.Source)
		}
	}
	if q.jobs != applicable {
		t.Errorf("one feed event per persisted analysis, got %d", q.jobs)
	}
}
