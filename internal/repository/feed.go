package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"civicsync/internal/models"
)

// InsertFeedPost appends one post to the chronological feed.
func (r *Repository) InsertFeedPost(ctx context.Context, p *models.FeedPost) (*models.FeedPost, error) {
	var out models.FeedPost
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.feed_posts
			(tenant_id, type, title, body, entity_kind, entity_id, tags, payload, source_ref_id, auto)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, tenant_id, type, title, body, entity_kind, entity_id, tags,
		          payload, source_ref_id, auto, created_at
	`, p.TenantID, p.Type, p.Title, p.Body, p.EntityKind, p.EntityID, p.Tags,
		p.Payload, p.SourceRefID, p.Auto).Scan(
		&out.ID, &out.TenantID, &out.Type, &out.Title, &out.Body, &out.EntityKind,
		&out.EntityID, &out.Tags, &out.Payload, &out.SourceRefID, &out.Auto, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert feed post: %w", err)
	}
	return &out, nil
}

// GetFeedPost returns one post visible to the tenant (own or global).
func (r *Repository) GetFeedPost(ctx context.Context, tenantID, id int64) (*models.FeedPost, error) {
	var p models.FeedPost
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, type, title, body, entity_kind, entity_id, tags,
		       payload, source_ref_id, auto, created_at
		FROM app.feed_posts
		WHERE id = $1 AND (tenant_id = $2 OR tenant_id = 0)
	`, id, tenantID).Scan(
		&p.ID, &p.TenantID, &p.Type, &p.Title, &p.Body, &p.EntityKind,
		&p.EntityID, &p.Tags, &p.Payload, &p.SourceRefID, &p.Auto, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FeedFilter narrows ListFeed. Tags match any (array overlap).
type FeedFilter struct {
	Types  []string
	Tags   []string
	Before int64 // post id cursor, 0 means newest
	Limit  int
	Offset int
}

// ListFeed pages newest-first by id cursor. Posts with tenant_id 0 are global
// and visible to every tenant.
func (r *Repository) ListFeed(ctx context.Context, tenantID int64, f FeedFilter) ([]models.FeedPost, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := `
		SELECT id, tenant_id, type, title, body, entity_kind, entity_id, tags,
		       payload, source_ref_id, auto, created_at
		FROM app.feed_posts
		WHERE (tenant_id = $1 OR tenant_id = 0)`
	args := []interface{}{tenantID}
	if len(f.Types) > 0 {
		args = append(args, f.Types)
		query += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	if len(f.Tags) > 0 {
		args = append(args, f.Tags)
		query += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	if f.Before > 0 {
		args = append(args, f.Before)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeedPost
	for rows.Next() {
		var p models.FeedPost
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Type, &p.Title, &p.Body, &p.EntityKind,
			&p.EntityID, &p.Tags, &p.Payload, &p.SourceRefID, &p.Auto, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
