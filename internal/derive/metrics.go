// Package derive recomputes derived state: legislator metrics per
// (legislator, period) and the commerce analysis bundle. Everything here is
// a pure function of raw rows, so recomputing is always safe and the engine
// commutes with itself under concurrent runs.
package derive

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"civicsync/internal/models"
	"civicsync/internal/queue"
	"civicsync/internal/repository"
)

type store interface {
	LoadMetricInputs(ctx context.Context, tenantID, legislatorID int64, period string) (*repository.MetricInputs, error)
	UpsertLegislatorMetric(ctx context.Context, m *models.LegislatorMetric) error
	ListActiveLegislatorIDs(ctx context.Context, tenantID int64) ([]int64, error)

	ListProducts(ctx context.Context, tenantID int64, limit, offset int) ([]models.Product, error)
	ListOrdersSince(ctx context.Context, tenantID int64, days int) ([]models.Order, error)
	InsertAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error)
}

// Engine drives both recompute paths.
type Engine struct {
	repo  store
	queue enqueuer
	now   func() time.Time
}

func NewEngine(repo store, q enqueuer) *Engine {
	return &Engine{repo: repo, queue: q, now: time.Now}
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// monthsSince counts whole months between start and now, floored at 1.
func monthsSince(start time.Time, now time.Time) int {
	months := int(now.Year()-start.Year())*12 + int(now.Month()-start.Month())
	if now.Day() < start.Day() {
		months--
	}
	if months < 1 {
		return 1
	}
	return months
}

// computeMetric applies the metric formulas to one input snapshot. Ratios are
// 0 when their denominator is 0.
func computeMetric(legislatorID int64, period string, in *repository.MetricInputs, now time.Time) *models.LegislatorMetric {
	m := &models.LegislatorMetric{
		LegislatorID:         legislatorID,
		Period:               period,
		BillsAuthored:        in.BillsAuthored,
		BillsCosigned:        in.BillsCosigned,
		BillsWithAdvancement: in.BillsWithAdvancement,
		CommissionsCount:     in.CommissionsCount,
		MonthsInOffice:       1,
	}
	if in.BillsAuthored > 0 {
		m.AdvancementRate = round4(float64(in.BillsWithAdvancement) / float64(in.BillsAuthored))
	}
	if in.SessionsHeld > 0 {
		m.AttendanceRate = round4(float64(in.SessionsPresent) / float64(in.SessionsHeld))
	}
	if in.VoteEventsHeld > 0 {
		m.VoteParticipationRate = round4(float64(in.VotesCast) / float64(in.VoteEventsHeld))
	}
	if in.TermStart != nil {
		m.MonthsInOffice = monthsSince(*in.TermStart, now)
	}
	m.NormalizedProductivity = round4(float64(in.BillsAuthored) / float64(m.MonthsInOffice))
	return m
}

// RecomputeMetrics rebuilds the metric row for one legislator and period.
func (e *Engine) RecomputeMetrics(ctx context.Context, tenantID, legislatorID int64, period string) (*models.LegislatorMetric, error) {
	in, err := e.repo.LoadMetricInputs(ctx, tenantID, legislatorID, period)
	if err != nil {
		return nil, fmt.Errorf("load metric inputs for %d/%s: %w", legislatorID, period, err)
	}

	m := computeMetric(legislatorID, period, in, e.now())
	if err := e.repo.UpsertLegislatorMetric(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metric %d/%s: %w", legislatorID, period, err)
	}
	return m, nil
}

// RecomputeAll sweeps every active legislator for the current period. One
// failing legislator does not stop the sweep.
func (e *Engine) RecomputeAll(ctx context.Context, tenantID int64) (int, error) {
	period := fmt.Sprintf("%d", e.now().Year())
	ids, err := e.repo.ListActiveLegislatorIDs(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := e.RecomputeMetrics(ctx, tenantID, id, period); err != nil {
			log.Printf("[derive] recompute legislator %d: %v", id, err)
			continue
		}
		done++
	}
	return done, nil
}
