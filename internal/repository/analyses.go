package repository

import (
	"context"
	"fmt"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Repository) InsertAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	var out models.Analysis
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.analyses (tenant_id, module, inputs, outputs, insight, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, tenant_id, module, inputs, outputs, insight, source, created_at
	`, a.TenantID, a.Module, a.Inputs, a.Outputs, a.Insight, a.Source).Scan(
		&out.ID, &out.TenantID, &out.Module, &out.Inputs, &out.Outputs,
		&out.Insight, &out.Source, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	return &out, nil
}

func (r *Repository) GetAnalysis(ctx context.Context, tenantID, id int64) (*models.Analysis, error) {
	var a models.Analysis
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, module, inputs, outputs, insight, source, created_at
		FROM app.analyses WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&a.ID, &a.TenantID, &a.Module, &a.Inputs, &a.Outputs,
		&a.Insight, &a.Source, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) ListAnalyses(ctx context.Context, tenantID int64, module string, limit, offset int) ([]models.Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, tenant_id, module, inputs, outputs, insight, source, created_at
		FROM app.analyses WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if module != "" {
		args = append(args, module)
		query += fmt.Sprintf(" AND module = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Analysis
	for rows.Next() {
		var a models.Analysis
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Module, &a.Inputs, &a.Outputs,
			&a.Insight, &a.Source, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
