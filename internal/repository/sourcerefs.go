package repository

import (
	"context"
	"fmt"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

// StartIngestionRun opens an audit row for one adapter invocation. runID is
// the job id, stable across retries so reruns are traceable to one job.
func (r *Repository) StartIngestionRun(ctx context.Context, runID, source, dataType string, tenantID *int64) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO raw.ingestion_runs (run_id, source, data_type, tenant_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, runID, source, dataType, tenantID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start ingestion run: %w", err)
	}
	return id, nil
}

func (r *Repository) CompleteIngestionRun(ctx context.Context, id int64, processed, skipped, errored int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE raw.ingestion_runs
		SET status = 'completed', records_processed = $2, records_skipped = $3,
		    records_errored = $4, completed_at = NOW()
		WHERE id = $1
	`, id, processed, skipped, errored)
	return err
}

func (r *Repository) FailIngestionRun(ctx context.Context, id int64, detail string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE raw.ingestion_runs
		SET status = 'failed', error_detail = $2, completed_at = NOW()
		WHERE id = $1
	`, id, detail)
	return err
}

// RecordFetch deduplicates a fetched payload by (source_key, checksum). When
// the latest ref for the key carries the same checksum the existing ref is
// returned with isNew=false and no row is written. Runs in a transaction so
// two concurrent fetches of the same key cannot both insert.
func (r *Repository) RecordFetch(ctx context.Context, ref *models.SourceRef) (*models.SourceRef, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var existing models.SourceRef
	err = tx.QueryRow(ctx, `
		SELECT id, ingestion_run_id, source_key, source_type, data_type,
		       checksum, blob_location, status, fetched_at
		FROM raw.source_refs
		WHERE source_key = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, ref.SourceKey).Scan(
		&existing.ID, &existing.IngestionRunID, &existing.SourceKey, &existing.SourceType,
		&existing.DataType, &existing.Checksum, &existing.BlobLocation, &existing.Status, &existing.FetchedAt)
	if err != nil && err != pgx.ErrNoRows {
		return nil, false, err
	}
	if err == nil && existing.Checksum == ref.Checksum {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	var out models.SourceRef
	err = tx.QueryRow(ctx, `
		INSERT INTO raw.source_refs
			(ingestion_run_id, source_key, source_type, data_type, checksum, blob_location, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'stored')
		RETURNING id, ingestion_run_id, source_key, source_type, data_type,
		          checksum, blob_location, status, fetched_at
	`, ref.IngestionRunID, ref.SourceKey, ref.SourceType, ref.DataType, ref.Checksum, ref.BlobLocation).Scan(
		&out.ID, &out.IngestionRunID, &out.SourceKey, &out.SourceType,
		&out.DataType, &out.Checksum, &out.BlobLocation, &out.Status, &out.FetchedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert source ref: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *Repository) GetSourceRef(ctx context.Context, id int64) (*models.SourceRef, error) {
	var ref models.SourceRef
	err := r.db.QueryRow(ctx, `
		SELECT id, ingestion_run_id, source_key, source_type, data_type,
		       checksum, blob_location, status, fetched_at
		FROM raw.source_refs WHERE id = $1
	`, id).Scan(
		&ref.ID, &ref.IngestionRunID, &ref.SourceKey, &ref.SourceType,
		&ref.DataType, &ref.Checksum, &ref.BlobLocation, &ref.Status, &ref.FetchedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// MarkSourceRef advances a ref through stored -> normalized | error.
func (r *Repository) MarkSourceRef(ctx context.Context, id int64, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE raw.source_refs SET status = $2 WHERE id = $1`, id, status)
	return err
}

// LatestRuns returns the most recent ingestion runs for the status surface.
func (r *Repository) LatestRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, source, data_type, tenant_id, status,
		       records_processed, records_skipped, records_errored,
		       error_detail, started_at, completed_at
		FROM raw.ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestionRun
	for rows.Next() {
		var run models.IngestionRun
		if err := rows.Scan(
			&run.ID, &run.RunID, &run.Source, &run.DataType, &run.TenantID, &run.Status,
			&run.RecordsProcessed, &run.RecordsSkipped, &run.RecordsErrored,
			&run.ErrorDetail, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
