package repository

import (
	"context"
	"fmt"
	"time"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertTenant creates or refreshes a tenant keyed by email. The plan is
// never downgraded by a profile refresh.
func (r *Repository) UpsertTenant(ctx context.Context, email, name, picture string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.tenants (email, name, picture)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE app.tenants.name END,
			picture = CASE WHEN EXCLUDED.picture <> '' THEN EXCLUDED.picture ELSE app.tenants.picture END,
			updated_at = NOW()
		RETURNING id, email, name, picture, plan, solve_count, created_at, updated_at
	`, email, name, picture).Scan(&t.ID, &t.Email, &t.Name, &t.Picture, &t.Plan, &t.SolveCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert tenant: %w", err)
	}
	return &t, nil
}

func (r *Repository) GetTenantByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, picture, plan, solve_count, created_at, updated_at
		FROM app.tenants WHERE email = $1
	`, email).Scan(&t.ID, &t.Email, &t.Name, &t.Picture, &t.Plan, &t.SolveCount, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) GetTenantByID(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, picture, plan, solve_count, created_at, updated_at
		FROM app.tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Email, &t.Name, &t.Picture, &t.Plan, &t.SolveCount, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MostRecentProTenant backs the audited OAuth soft-match fallback: newest
// tenant on the highest plan.
func (r *Repository) MostRecentProTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, picture, plan, solve_count, created_at, updated_at
		FROM app.tenants WHERE plan = 'pro'
		ORDER BY created_at DESC LIMIT 1
	`).Scan(&t.ID, &t.Email, &t.Name, &t.Picture, &t.Plan, &t.SolveCount, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IncrementSolveCount bumps the usage counter and returns the new value.
func (r *Repository) IncrementSolveCount(ctx context.Context, tenantID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE app.tenants SET solve_count = solve_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING solve_count
	`, tenantID).Scan(&count)
	return count, err
}

// UpsertConnection binds a tenant to a shop domain. The domain is globally
// unique: reconnecting an existing shop refreshes its token and owner.
func (r *Repository) UpsertConnection(ctx context.Context, tenantID int64, source, shopDomain, accessToken, scopes string) (*models.Connection, error) {
	var c models.Connection
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.connections (tenant_id, source, shop_domain, access_token, scopes, sync_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (shop_domain) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			access_token = EXCLUDED.access_token,
			scopes = EXCLUDED.scopes,
			updated_at = NOW()
		RETURNING id, tenant_id, source, shop_domain, access_token, scopes,
		          sync_status, sync_error, auth_strikes, last_sync_at, created_at, updated_at
	`, tenantID, source, shopDomain, accessToken, scopes).Scan(
		&c.ID, &c.TenantID, &c.Source, &c.ShopDomain, &c.AccessToken, &c.Scopes,
		&c.SyncStatus, &c.SyncError, &c.AuthStrikes, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert connection: %w", err)
	}
	return &c, nil
}

func (r *Repository) GetConnectionByShop(ctx context.Context, shopDomain string) (*models.Connection, error) {
	var c models.Connection
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, source, shop_domain, access_token, scopes,
		       sync_status, sync_error, auth_strikes, last_sync_at, created_at, updated_at
		FROM app.connections WHERE shop_domain = $1
	`, shopDomain).Scan(
		&c.ID, &c.TenantID, &c.Source, &c.ShopDomain, &c.AccessToken, &c.Scopes,
		&c.SyncStatus, &c.SyncError, &c.AuthStrikes, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetConnectionByID(ctx context.Context, id int64) (*models.Connection, error) {
	var c models.Connection
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, source, shop_domain, access_token, scopes,
		       sync_status, sync_error, auth_strikes, last_sync_at, created_at, updated_at
		FROM app.connections WHERE id = $1
	`, id).Scan(
		&c.ID, &c.TenantID, &c.Source, &c.ShopDomain, &c.AccessToken, &c.Scopes,
		&c.SyncStatus, &c.SyncError, &c.AuthStrikes, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetConnectionForTenant(ctx context.Context, tenantID int64, source string) (*models.Connection, error) {
	var c models.Connection
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, source, shop_domain, access_token, scopes,
		       sync_status, sync_error, auth_strikes, last_sync_at, created_at, updated_at
		FROM app.connections WHERE tenant_id = $1 AND source = $2
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, source).Scan(
		&c.ID, &c.TenantID, &c.Source, &c.ShopDomain, &c.AccessToken, &c.Scopes,
		&c.SyncStatus, &c.SyncError, &c.AuthStrikes, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns every connection for a source (scheduler fan-out).
func (r *Repository) ListConnections(ctx context.Context, source string) ([]models.Connection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, source, shop_domain, access_token, scopes,
		       sync_status, sync_error, auth_strikes, last_sync_at, created_at, updated_at
		FROM app.connections WHERE source = $1
		ORDER BY id
	`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Source, &c.ShopDomain, &c.AccessToken, &c.Scopes,
			&c.SyncStatus, &c.SyncError, &c.AuthStrikes, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConnectionStatus drives the connection state machine. Entering 'synced'
// also stamps last_sync_at and clears the error detail and strike counter.
func (r *Repository) SetConnectionStatus(ctx context.Context, connectionID int64, status, syncError string) error {
	var err error
	if status == models.SyncSynced {
		_, err = r.db.Exec(ctx, `
			UPDATE app.connections
			SET sync_status = $2, sync_error = '', auth_strikes = 0, last_sync_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, connectionID, status)
	} else {
		_, err = r.db.Exec(ctx, `
			UPDATE app.connections
			SET sync_status = $2, sync_error = $3, updated_at = NOW()
			WHERE id = $1
		`, connectionID, status, syncError)
	}
	return err
}

// AddAuthStrike increments the webhook signature-failure counter and returns
// the new total. Three strikes mark the connection 'error'.
func (r *Repository) AddAuthStrike(ctx context.Context, connectionID int64) (int, error) {
	var strikes int
	err := r.db.QueryRow(ctx, `
		UPDATE app.connections
		SET auth_strikes = auth_strikes + 1,
		    sync_status = CASE WHEN auth_strikes + 1 >= 3 THEN 'error' ELSE sync_status END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING auth_strikes
	`, connectionID).Scan(&strikes)
	return strikes, err
}

func (r *Repository) LastSyncAt(ctx context.Context, connectionID int64) (*time.Time, error) {
	var ts *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT last_sync_at FROM app.connections WHERE id = $1`, connectionID).Scan(&ts)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ts, err
}
