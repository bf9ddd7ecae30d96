package repository

import (
	"context"
	"fmt"
	"time"

	"civicsync/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Repository) UpsertLegislator(ctx context.Context, l *models.Legislator) (int64, bool, error) {
	var id int64
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.legislators
			(tenant_id, external_id, first_name, last_name, block, province,
			 chamber, active, term_start, term_end, source_ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			block = EXCLUDED.block,
			province = EXCLUDED.province,
			chamber = EXCLUDED.chamber,
			active = EXCLUDED.active,
			term_start = EXCLUDED.term_start,
			term_end = EXCLUDED.term_end,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, l.TenantID, l.ExternalID, l.FirstName, l.LastName, l.Block, l.Province,
		l.Chamber, l.Active, l.TermStart, l.TermEnd, l.SourceRefID).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("upsert legislator %s: %w", l.ExternalID, err)
	}
	return id, created, nil
}

// UpsertBill is idempotent on (tenant_id, external_id). The status column is
// not touched here: status only moves through SetBillStatus so the advance-only
// rule stays in one place. prevStatus is empty for a newly created bill.
func (r *Repository) UpsertBill(ctx context.Context, b *models.Bill) (id int64, created bool, prevStatus string, err error) {
	err = r.db.QueryRow(ctx, `
		INSERT INTO app.bills
			(tenant_id, external_id, title, status, type, period, presented_date, source_ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			period = EXCLUDED.period,
			presented_date = EXCLUDED.presented_date,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
		RETURNING id, (xmax = 0), status
	`, b.TenantID, b.ExternalID, b.Title, b.Status, b.Type, b.Period,
		b.PresentedDate, b.SourceRefID).Scan(&id, &created, &prevStatus)
	if err != nil {
		err = fmt.Errorf("upsert bill %s: %w", b.ExternalID, err)
		return
	}
	if created {
		prevStatus = ""
	}
	return
}

func (r *Repository) SetBillStatus(ctx context.Context, billID int64, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE app.bills SET status = $2, updated_at = NOW() WHERE id = $1
	`, billID, status)
	return err
}

// AppendBillMovement appends one history step. order_index is assigned inside
// the transaction as max+1 so it stays contiguous from 0. A movement with the
// same description and date as an existing one is treated as a replay and
// skipped.
func (r *Repository) AppendBillMovement(ctx context.Context, m *models.BillMovement) (*models.BillMovement, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var existing models.BillMovement
	err = tx.QueryRow(ctx, `
		SELECT id, bill_id, order_index, description, from_status, to_status, date, source_ref_id, created_at
		FROM app.bill_movements
		WHERE bill_id = $1 AND description = $2 AND date = $3
	`, m.BillID, m.Description, m.Date).Scan(
		&existing.ID, &existing.BillID, &existing.OrderIndex, &existing.Description,
		&existing.FromStatus, &existing.ToStatus, &existing.Date, &existing.SourceRefID, &existing.CreatedAt)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	var out models.BillMovement
	err = tx.QueryRow(ctx, `
		INSERT INTO app.bill_movements
			(bill_id, order_index, description, from_status, to_status, date, source_ref_id)
		SELECT $1, COALESCE(MAX(order_index) + 1, 0), $2, $3, $4, $5, $6
		FROM app.bill_movements WHERE bill_id = $1
		RETURNING id, bill_id, order_index, description, from_status, to_status, date, source_ref_id, created_at
	`, m.BillID, m.Description, m.FromStatus, m.ToStatus, m.Date, m.SourceRefID).Scan(
		&out.ID, &out.BillID, &out.OrderIndex, &out.Description,
		&out.FromStatus, &out.ToStatus, &out.Date, &out.SourceRefID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("append movement bill=%d: %w", m.BillID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *Repository) UpsertBillAuthor(ctx context.Context, billID, legislatorID int64, role string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO app.bill_authors (bill_id, legislator_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (bill_id, legislator_id) DO UPDATE SET role = EXCLUDED.role
	`, billID, legislatorID, role)
	return err
}

func (r *Repository) UpsertSession(ctx context.Context, s *models.Session) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.sessions (tenant_id, external_id, date, kind, source_ref_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			date = EXCLUDED.date,
			kind = EXCLUDED.kind,
			source_ref_id = EXCLUDED.source_ref_id
		RETURNING id
	`, s.TenantID, s.ExternalID, s.Date, s.Kind, s.SourceRefID).Scan(&id)
	return id, err
}

func (r *Repository) UpsertVoteEvent(ctx context.Context, v *models.VoteEvent) (int64, bool, error) {
	var id int64
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.vote_events
			(tenant_id, external_id, session_id, bill_id, title,
			 affirmative, negative, abstention, absent, result, date, source_ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			bill_id = EXCLUDED.bill_id,
			title = EXCLUDED.title,
			affirmative = EXCLUDED.affirmative,
			negative = EXCLUDED.negative,
			abstention = EXCLUDED.abstention,
			absent = EXCLUDED.absent,
			result = EXCLUDED.result,
			date = EXCLUDED.date,
			source_ref_id = EXCLUDED.source_ref_id,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, v.TenantID, v.ExternalID, v.SessionID, v.BillID, v.Title,
		v.Affirmative, v.Negative, v.Abstention, v.Absent, v.Result, v.Date, v.SourceRefID).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("upsert vote event %s: %w", v.ExternalID, err)
	}
	return id, created, nil
}

func (r *Repository) UpsertVoteResult(ctx context.Context, voteEventID, legislatorID int64, vote string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO app.vote_results (vote_event_id, legislator_id, vote)
		VALUES ($1, $2, $3)
		ON CONFLICT (vote_event_id, legislator_id) DO UPDATE SET vote = EXCLUDED.vote
	`, voteEventID, legislatorID, vote)
	return err
}

func (r *Repository) UpsertAttendance(ctx context.Context, a *models.Attendance) (bool, error) {
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.attendance (tenant_id, session_id, legislator_id, status, source_ref_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, legislator_id) DO UPDATE SET
			status = EXCLUDED.status,
			source_ref_id = EXCLUDED.source_ref_id
		RETURNING (xmax = 0)
	`, a.TenantID, a.SessionID, a.LegislatorID, a.Status, a.SourceRefID).Scan(&created)
	return created, err
}

func (r *Repository) UpsertCommission(ctx context.Context, c *models.Commission) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO app.commissions (tenant_id, external_id, name, chamber)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			chamber = EXCLUDED.chamber
		RETURNING id
	`, c.TenantID, c.ExternalID, c.Name, c.Chamber).Scan(&id)
	return id, err
}

func (r *Repository) UpsertCommissionMember(ctx context.Context, commissionID, legislatorID int64, role string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO app.commission_members (commission_id, legislator_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (commission_id, legislator_id) DO UPDATE SET role = EXCLUDED.role
	`, commissionID, legislatorID, role)
	return err
}

func (r *Repository) GetLegislatorByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Legislator, error) {
	var l models.Legislator
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, first_name, last_name, block, province,
		       chamber, active, term_start, term_end, source_ref_id, created_at, updated_at
		FROM app.legislators WHERE tenant_id = $1 AND external_id = $2
	`, tenantID, externalID).Scan(
		&l.ID, &l.TenantID, &l.ExternalID, &l.FirstName, &l.LastName, &l.Block, &l.Province,
		&l.Chamber, &l.Active, &l.TermStart, &l.TermEnd, &l.SourceRefID, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) GetBillByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Bill, error) {
	var b models.Bill
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, title, status, type, period,
		       presented_date, source_ref_id, created_at, updated_at
		FROM app.bills WHERE tenant_id = $1 AND external_id = $2
	`, tenantID, externalID).Scan(
		&b.ID, &b.TenantID, &b.ExternalID, &b.Title, &b.Status, &b.Type, &b.Period,
		&b.PresentedDate, &b.SourceRefID, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// LegislatorFilter narrows ListLegislators. Zero values mean no filter.
type LegislatorFilter struct {
	Block    string
	Province string
	Chamber  string
	Search   string
	Active   *bool
	Limit    int
	Offset   int
}

func (r *Repository) ListLegislators(ctx context.Context, tenantID int64, f LegislatorFilter) ([]models.Legislator, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `
		SELECT id, tenant_id, external_id, first_name, last_name, block, province,
		       chamber, active, term_start, term_end, source_ref_id, created_at, updated_at
		FROM app.legislators
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Block != "" {
		args = append(args, f.Block)
		query += fmt.Sprintf(" AND block = $%d", len(args))
	}
	if f.Province != "" {
		args = append(args, f.Province)
		query += fmt.Sprintf(" AND province = $%d", len(args))
	}
	if f.Chamber != "" {
		args = append(args, f.Chamber)
		query += fmt.Sprintf(" AND chamber = $%d", len(args))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		query += fmt.Sprintf(" AND active = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		query += fmt.Sprintf(" AND (first_name ILIKE $%d OR last_name ILIKE $%d)", len(args), len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Legislator
	for rows.Next() {
		var l models.Legislator
		if err := rows.Scan(
			&l.ID, &l.TenantID, &l.ExternalID, &l.FirstName, &l.LastName, &l.Block, &l.Province,
			&l.Chamber, &l.Active, &l.TermStart, &l.TermEnd, &l.SourceRefID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) GetLegislator(ctx context.Context, tenantID, id int64) (*models.Legislator, error) {
	var l models.Legislator
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, first_name, last_name, block, province,
		       chamber, active, term_start, term_end, source_ref_id, created_at, updated_at
		FROM app.legislators WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&l.ID, &l.TenantID, &l.ExternalID, &l.FirstName, &l.LastName, &l.Block, &l.Province,
		&l.Chamber, &l.Active, &l.TermStart, &l.TermEnd, &l.SourceRefID, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListActiveLegislatorIDs feeds the metrics recompute fan-out.
func (r *Repository) ListActiveLegislatorIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM app.legislators WHERE tenant_id = $1 AND active ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) CountLegislators(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM app.legislators WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *Repository) CountBills(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM app.bills WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

// BillFilter narrows ListBills.
type BillFilter struct {
	Status   string
	Type     string
	Period   string
	Search   string
	AuthorID int64
	Limit    int
	Offset   int
}

func (r *Repository) ListBills(ctx context.Context, tenantID int64, f BillFilter) ([]models.Bill, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `
		SELECT id, tenant_id, external_id, title, status, type, period,
		       presented_date, source_ref_id, created_at, updated_at
		FROM app.bills
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Period != "" {
		args = append(args, f.Period)
		query += fmt.Sprintf(" AND period = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR external_id ILIKE $%d)", len(args), len(args))
	}
	if f.AuthorID > 0 {
		args = append(args, f.AuthorID)
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM app.bill_authors ba WHERE ba.bill_id = app.bills.id AND ba.legislator_id = $%d)", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY presented_date DESC NULLS LAST, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Bill
	for rows.Next() {
		var b models.Bill
		if err := rows.Scan(
			&b.ID, &b.TenantID, &b.ExternalID, &b.Title, &b.Status, &b.Type, &b.Period,
			&b.PresentedDate, &b.SourceRefID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBill returns one bill with its full movement history (ordered by
// order_index) and author links.
func (r *Repository) GetBill(ctx context.Context, tenantID, id int64) (*models.Bill, error) {
	var b models.Bill
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, title, status, type, period,
		       presented_date, source_ref_id, created_at, updated_at
		FROM app.bills WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&b.ID, &b.TenantID, &b.ExternalID, &b.Title, &b.Status, &b.Type, &b.Period,
		&b.PresentedDate, &b.SourceRefID, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, bill_id, order_index, description, from_status, to_status, date, source_ref_id, created_at
		FROM app.bill_movements WHERE bill_id = $1 ORDER BY order_index
	`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.BillMovement
		if err := rows.Scan(
			&m.ID, &m.BillID, &m.OrderIndex, &m.Description,
			&m.FromStatus, &m.ToStatus, &m.Date, &m.SourceRefID, &m.CreatedAt); err != nil {
			return nil, err
		}
		b.Movements = append(b.Movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	authorRows, err := r.db.Query(ctx, `
		SELECT bill_id, legislator_id, role FROM app.bill_authors WHERE bill_id = $1
	`, b.ID)
	if err != nil {
		return nil, err
	}
	defer authorRows.Close()
	for authorRows.Next() {
		var a models.BillAuthor
		if err := authorRows.Scan(&a.BillID, &a.LegislatorID, &a.Role); err != nil {
			return nil, err
		}
		b.Authors = append(b.Authors, a)
	}
	return &b, authorRows.Err()
}

func (r *Repository) GetVoteEvent(ctx context.Context, tenantID, id int64) (*models.VoteEvent, error) {
	var v models.VoteEvent
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, session_id, bill_id, title,
		       affirmative, negative, abstention, absent, result, date,
		       source_ref_id, created_at, updated_at
		FROM app.vote_events WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&v.ID, &v.TenantID, &v.ExternalID, &v.SessionID, &v.BillID, &v.Title,
		&v.Affirmative, &v.Negative, &v.Abstention, &v.Absent, &v.Result, &v.Date,
		&v.SourceRefID, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) GetSession(ctx context.Context, tenantID, id int64) (*models.Session, error) {
	var s models.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, external_id, date, kind, source_ref_id
		FROM app.sessions WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&s.ID, &s.TenantID, &s.ExternalID, &s.Date, &s.Kind, &s.SourceRefID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AttendanceSummary returns present and total counts for one session.
func (r *Repository) AttendanceSummary(ctx context.Context, sessionID int64) (present, total int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'PRESENT'), COUNT(*)
		FROM app.attendance WHERE session_id = $1
	`, sessionID).Scan(&present, &total)
	return
}

// DistinctBlocks and DistinctProvinces back the filter dropdowns.
func (r *Repository) DistinctBlocks(ctx context.Context, tenantID int64) ([]string, error) {
	return r.distinctColumn(ctx, tenantID, "block")
}

func (r *Repository) DistinctProvinces(ctx context.Context, tenantID int64) ([]string, error) {
	return r.distinctColumn(ctx, tenantID, "province")
}

func (r *Repository) distinctColumn(ctx context.Context, tenantID int64, col string) ([]string, error) {
	// col is one of two compile-time constants, never user input.
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s FROM app.legislators
		WHERE tenant_id = $1 AND %s <> '' ORDER BY %s
	`, col, col, col), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MetricInputs aggregates the per-period counters the derived-state engine
// needs for one legislator. Period is a calendar year.
type MetricInputs struct {
	BillsAuthored        int
	BillsCosigned        int
	BillsWithAdvancement int
	SessionsHeld         int
	SessionsPresent      int
	VoteEventsHeld       int
	VotesCast            int
	CommissionsCount     int
	TermStart            *time.Time
}

func (r *Repository) LoadMetricInputs(ctx context.Context, tenantID, legislatorID int64, period string) (*MetricInputs, error) {
	var in MetricInputs

	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE ba.role = 'AUTHOR'),
			COUNT(*) FILTER (WHERE ba.role = 'COAUTHOR'),
			COUNT(*) FILTER (WHERE ba.role = 'AUTHOR' AND b.status <> 'PRESENTED')
		FROM app.bill_authors ba
		JOIN app.bills b ON b.id = ba.bill_id
		WHERE ba.legislator_id = $1 AND b.tenant_id = $2 AND b.period = $3
	`, legislatorID, tenantID, period).Scan(&in.BillsAuthored, &in.BillsCosigned, &in.BillsWithAdvancement)
	if err != nil {
		return nil, err
	}

	// Denominators are the legislator's recorded rows, not every session or
	// vote event of the period: a session with no attendance row for this
	// legislator does not count against them.
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE a.status = 'PRESENT')
		FROM app.attendance a
		JOIN app.sessions s ON s.id = a.session_id
		WHERE a.legislator_id = $1 AND s.tenant_id = $2 AND to_char(s.date, 'YYYY') = $3
	`, legislatorID, tenantID, period).Scan(&in.SessionsHeld, &in.SessionsPresent)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE vr.vote <> 'ABSENT')
		FROM app.vote_results vr
		JOIN app.vote_events ve ON ve.id = vr.vote_event_id
		WHERE vr.legislator_id = $1 AND ve.tenant_id = $2 AND to_char(ve.date, 'YYYY') = $3
	`, legislatorID, tenantID, period).Scan(&in.VoteEventsHeld, &in.VotesCast)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM app.commission_members WHERE legislator_id = $1
	`, legislatorID).Scan(&in.CommissionsCount)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT term_start FROM app.legislators WHERE id = $1
	`, legislatorID).Scan(&in.TermStart)
	if err != nil {
		return nil, err
	}
	return &in, nil
}
