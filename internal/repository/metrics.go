package repository

import (
	"context"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertLegislatorMetric writes one derived row, keyed (legislator_id,
// period). Recomputing is always safe.
func (r *Repository) UpsertLegislatorMetric(ctx context.Context, m *models.LegislatorMetric) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO app.legislator_metrics
			(legislator_id, period, bills_authored, bills_cosigned, bills_with_advancement,
			 advancement_rate, attendance_rate, vote_participation_rate,
			 commissions_count, months_in_office, normalized_productivity, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (legislator_id, period) DO UPDATE SET
			bills_authored = EXCLUDED.bills_authored,
			bills_cosigned = EXCLUDED.bills_cosigned,
			bills_with_advancement = EXCLUDED.bills_with_advancement,
			advancement_rate = EXCLUDED.advancement_rate,
			attendance_rate = EXCLUDED.attendance_rate,
			vote_participation_rate = EXCLUDED.vote_participation_rate,
			commissions_count = EXCLUDED.commissions_count,
			months_in_office = EXCLUDED.months_in_office,
			normalized_productivity = EXCLUDED.normalized_productivity,
			computed_at = NOW()
	`, m.LegislatorID, m.Period, m.BillsAuthored, m.BillsCosigned, m.BillsWithAdvancement,
		m.AdvancementRate, m.AttendanceRate, m.VoteParticipationRate,
		m.CommissionsCount, m.MonthsInOffice, m.NormalizedProductivity)
	return err
}

func (r *Repository) GetLegislatorMetric(ctx context.Context, legislatorID int64, period string) (*models.LegislatorMetric, error) {
	var m models.LegislatorMetric
	err := r.db.QueryRow(ctx, `
		SELECT legislator_id, period, bills_authored, bills_cosigned, bills_with_advancement,
		       advancement_rate, attendance_rate, vote_participation_rate,
		       commissions_count, months_in_office, normalized_productivity, computed_at
		FROM app.legislator_metrics
		WHERE legislator_id = $1 AND period = $2
	`, legislatorID, period).Scan(
		&m.LegislatorID, &m.Period, &m.BillsAuthored, &m.BillsCosigned, &m.BillsWithAdvancement,
		&m.AdvancementRate, &m.AttendanceRate, &m.VoteParticipationRate,
		&m.CommissionsCount, &m.MonthsInOffice, &m.NormalizedProductivity, &m.ComputedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMetricsForPeriod returns all metric rows for a period ordered by
// normalized productivity, the ranking surface.
func (r *Repository) ListMetricsForPeriod(ctx context.Context, tenantID int64, period string, limit, offset int) ([]models.LegislatorMetric, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT m.legislator_id, m.period, m.bills_authored, m.bills_cosigned, m.bills_with_advancement,
		       m.advancement_rate, m.attendance_rate, m.vote_participation_rate,
		       m.commissions_count, m.months_in_office, m.normalized_productivity, m.computed_at
		FROM app.legislator_metrics m
		JOIN app.legislators l ON l.id = m.legislator_id
		WHERE l.tenant_id = $1 AND m.period = $2
		ORDER BY m.normalized_productivity DESC, m.legislator_id
		LIMIT $3 OFFSET $4
	`, tenantID, period, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LegislatorMetric
	for rows.Next() {
		var m models.LegislatorMetric
		if err := rows.Scan(
			&m.LegislatorID, &m.Period, &m.BillsAuthored, &m.BillsCosigned, &m.BillsWithAdvancement,
			&m.AdvancementRate, &m.AttendanceRate, &m.VoteParticipationRate,
			&m.CommissionsCount, &m.MonthsInOffice, &m.NormalizedProductivity, &m.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
