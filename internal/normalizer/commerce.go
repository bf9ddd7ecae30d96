package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"civicsync/internal/fault"
	"civicsync/internal/models"
)

// Shopify payload shapes. Parsing is strict: the whole payload is decoded
// before any upsert so a structural mismatch never leaves partial state.

type shopifyVariant struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	Price        string      `json:"price"`
	CostPerItem  string      `json:"cost_per_item"`
	InventoryQty int         `json:"inventory_quantity"`
}

type shopifyProduct struct {
	ID       json.Number      `json:"id"`
	Title    string           `json:"title"`
	Vendor   string           `json:"vendor"`
	Tags     string           `json:"tags"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyLineItem struct {
	ProductID json.Number `json:"product_id"`
	VariantID json.Number `json:"variant_id"`
	Title     string      `json:"title"`
	Quantity  int         `json:"quantity"`
	Price     string      `json:"price"`
}

type shopifyOrder struct {
	ID          json.Number       `json:"id"`
	OrderNumber int               `json:"order_number"`
	TotalPrice  string            `json:"total_price"`
	Status      string            `json:"financial_status"`
	Email       string            `json:"email"`
	CreatedAt   time.Time         `json:"created_at"`
	LineItems   []shopifyLineItem `json:"line_items"`
}

type shopifyInventoryLevel struct {
	InventoryItemID json.Number `json:"inventory_item_id"`
	LocationID      json.Number `json:"location_id"`
	Available       int         `json:"available"`
}

func decodeStrict(body []byte, dataType string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.KindSchema, "malformed "+dataType+" payload", err)
	}
	return nil
}

func parsePrice(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fault.Wrap(fault.KindSchema, "unparseable price "+s, err)
	}
	return &f, nil
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (n *Normalizer) normalizeProducts(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var payload struct {
		Products []shopifyProduct `json:"products"`
	}
	if err := decodeStrict(body, "products", &payload); err != nil {
		return err
	}

	for _, sp := range payload.Products {
		if sp.ID.String() == "" || sp.Title == "" {
			return fault.New(fault.KindSchema, "product missing id or title")
		}

		var price, cost *float64
		qty := 0
		for i, v := range sp.Variants {
			qty += v.InventoryQty
			if i == 0 {
				var err error
				if price, err = parsePrice(v.Price); err != nil {
					return err
				}
				if cost, err = parsePrice(v.CostPerItem); err != nil {
					return err
				}
			}
		}

		variants, err := json.Marshal(sp.Variants)
		if err != nil {
			return err
		}

		_, _, err = n.repo.UpsertProduct(ctx, &models.Product{
			TenantID:     tenantID,
			ExternalID:   sp.ID.String(),
			Title:        sp.Title,
			Vendor:       sp.Vendor,
			Price:        price,
			CostPerItem:  cost,
			InventoryQty: qty,
			Tags:         splitTags(sp.Tags),
			Variants:     variants,
			SourceRefID:  ref.ID,
		})
		if err != nil {
			return err
		}
		b.Processed++
	}

	if b.Processed > 0 {
		b.markRecompute(fmt.Sprintf("analysis:%d", tenantID), map[string]interface{}{
			"kind":      "analysis",
			"tenant_id": tenantID,
		})
	}
	return nil
}

func (n *Normalizer) normalizeOrders(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var payload struct {
		Orders []shopifyOrder `json:"orders"`
	}
	if err := decodeStrict(body, "orders", &payload); err != nil {
		return err
	}

	newOrders := 0
	for _, so := range payload.Orders {
		if so.ID.String() == "" {
			return fault.New(fault.KindSchema, "order missing id")
		}
		total, err := parsePrice(so.TotalPrice)
		if err != nil {
			return err
		}

		items := make([]models.OrderLineItem, 0, len(so.LineItems))
		for _, li := range so.LineItems {
			p, err := parsePrice(li.Price)
			if err != nil {
				return err
			}
			item := models.OrderLineItem{
				ProductID: li.ProductID.String(),
				VariantID: li.VariantID.String(),
				Title:     li.Title,
				Quantity:  li.Quantity,
			}
			if p != nil {
				item.Price = *p
			}
			items = append(items, item)
		}
		lineItems, err := json.Marshal(items)
		if err != nil {
			return err
		}

		order := &models.Order{
			TenantID:      tenantID,
			ExternalID:    so.ID.String(),
			Ordinal:       so.OrderNumber,
			Status:        so.Status,
			CustomerEmail: so.Email,
			LineItems:     lineItems,
			OrderDate:     so.CreatedAt,
			SourceRefID:   ref.ID,
		}
		if total != nil {
			order.TotalPrice = *total
		}

		_, created, err := n.repo.UpsertOrder(ctx, order)
		if err != nil {
			return err
		}
		b.Processed++
		if created {
			newOrders++
		}
	}

	if newOrders > 0 {
		b.markRecompute(fmt.Sprintf("analysis:%d", tenantID), map[string]interface{}{
			"kind":      "analysis",
			"tenant_id": tenantID,
		})
	}
	return nil
}

func (n *Normalizer) normalizeInventory(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var payload struct {
		InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
	}
	if err := decodeStrict(body, "inventory", &payload); err != nil {
		return err
	}

	for _, lvl := range payload.InventoryLevels {
		if lvl.InventoryItemID.String() == "" || lvl.LocationID.String() == "" {
			return fault.New(fault.KindSchema, "inventory level missing ids")
		}
		err := n.repo.UpsertInventoryLevel(ctx, &models.InventoryLevel{
			TenantID:    tenantID,
			VariantID:   lvl.InventoryItemID.String(),
			LocationID:  lvl.LocationID.String(),
			Quantity:    lvl.Available,
			SourceRefID: ref.ID,
		})
		if err != nil {
			return err
		}
		b.Processed++
	}
	return nil
}
