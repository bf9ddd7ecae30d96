package repository

import (
	"context"
	"fmt"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertProduct is idempotent on (tenant_id, external_id). Returns the row id
// and whether the row was newly created.
func (r *Repository) UpsertProduct(ctx context.Context, p *models.Product) (int64, bool, error) {
	var id int64
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.products
			(tenant_id, external_id, title, vendor, price, cost_per_item,
			 inventory_quantity, tags, variants, source_ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			vendor = EXCLUDED.vendor,
			price = EXCLUDED.price,
			cost_per_item = EXCLUDED.cost_per_item,
			inventory_quantity = EXCLUDED.inventory_quantity,
			tags = EXCLUDED.tags,
			variants = EXCLUDED.variants,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, p.TenantID, p.ExternalID, p.Title, p.Vendor, p.Price, p.CostPerItem,
		p.InventoryQty, p.Tags, p.Variants, p.SourceRefID).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("upsert product %s: %w", p.ExternalID, err)
	}
	return id, created, nil
}

func (r *Repository) UpsertOrder(ctx context.Context, o *models.Order) (int64, bool, error) {
	var id int64
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.orders
			(tenant_id, external_id, ordinal, total_price, status,
			 customer_email, line_items, order_date, source_ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			ordinal = EXCLUDED.ordinal,
			total_price = EXCLUDED.total_price,
			status = EXCLUDED.status,
			customer_email = EXCLUDED.customer_email,
			line_items = EXCLUDED.line_items,
			order_date = EXCLUDED.order_date,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, o.TenantID, o.ExternalID, o.Ordinal, o.TotalPrice, o.Status,
		o.CustomerEmail, o.LineItems, o.OrderDate, o.SourceRefID).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("upsert order %s: %w", o.ExternalID, err)
	}
	return id, created, nil
}

func (r *Repository) UpsertInventoryLevel(ctx context.Context, lvl *models.InventoryLevel) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO app.inventory_levels
			(tenant_id, variant_id, location_id, quantity, source_ref_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, variant_id, location_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
	`, lvl.TenantID, lvl.VariantID, lvl.LocationID, lvl.Quantity, lvl.SourceRefID)
	return err
}

func (r *Repository) ListProducts(ctx context.Context, tenantID int64, limit, offset int) ([]models.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, external_id, title, vendor, price, cost_per_item,
		       inventory_quantity, tags, variants, source_ref_id, created_at, updated_at
		FROM app.products
		WHERE tenant_id = $1
		ORDER BY title, id
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.ExternalID, &p.Title, &p.Vendor, &p.Price, &p.CostPerItem,
			&p.InventoryQty, &p.Tags, &p.Variants, &p.SourceRefID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetProductByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Product, error) {
	var p models.Product
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, title, vendor, price, cost_per_item,
		       inventory_quantity, tags, variants, source_ref_id, created_at, updated_at
		FROM app.products WHERE tenant_id = $1 AND external_id = $2
	`, tenantID, externalID).Scan(
		&p.ID, &p.TenantID, &p.ExternalID, &p.Title, &p.Vendor, &p.Price, &p.CostPerItem,
		&p.InventoryQty, &p.Tags, &p.Variants, &p.SourceRefID, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOrdersSince returns a tenant's orders newer than the cutoff, newest
// first. Used by the derived-state engine's demand estimation.
func (r *Repository) ListOrdersSince(ctx context.Context, tenantID int64, days int) ([]models.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, external_id, ordinal, total_price, status,
		       customer_email, line_items, order_date, source_ref_id, created_at, updated_at
		FROM app.orders
		WHERE tenant_id = $1 AND order_date >= NOW() - ($2 || ' days')::INTERVAL
		ORDER BY order_date DESC
	`, tenantID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.TenantID, &o.ExternalID, &o.Ordinal, &o.TotalPrice, &o.Status,
			&o.CustomerEmail, &o.LineItems, &o.OrderDate, &o.SourceRefID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) CountProducts(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM app.products WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *Repository) CountOrders(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM app.orders WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}
