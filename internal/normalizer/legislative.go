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

// CKAN datastore_search envelope. Records are the portal's flat rows.
type ckanEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

func decodeCKANRecords(body []byte, dataType string, records interface{}) error {
	var env ckanEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fault.Wrap(fault.KindSchema, "malformed "+dataType+" envelope", err)
	}
	if !env.Success || env.Result == nil {
		return fault.New(fault.KindSchema, dataType+" payload reports failure")
	}
	var result struct {
		Records json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return fault.Wrap(fault.KindSchema, "malformed "+dataType+" result", err)
	}
	if err := json.Unmarshal(result.Records, records); err != nil {
		return fault.Wrap(fault.KindSchema, "malformed "+dataType+" records", err)
	}
	return nil
}

// flexInt reads portal counts that arrive as JSON numbers or, from CSV
// resources, as quoted strings. Empty cells decode to zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = flexInt(n)
	return nil
}

// flexBool reads JSON booleans and the string forms CSV cells carry.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "true", "t", "1", "yes":
		*f = true
	case "false", "f", "0", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("not a boolean: %s", data)
	}
	return nil
}

// parseDate accepts the portal's date-only rows and full timestamps.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fault.New(fault.KindSchema, "unparseable date "+s)
}

// billStatusRank orders the pipeline. Terminal states rank above everything
// so they are always reachable; an unknown status is rejected.
func billStatusRank(status string) (int, bool) {
	switch status {
	case models.BillPresented:
		return 0, true
	case models.BillInCommittee:
		return 1, true
	case models.BillWithOpinion:
		return 2, true
	case models.BillApprovedCommittee:
		return 3, true
	case models.BillFloorVote:
		return 4, true
	case models.BillApprovedChamber:
		return 5, true
	case models.BillSentToOther:
		return 6, true
	case models.BillApproved:
		return 7, true
	case models.BillRejected, models.BillWithdrawn, models.BillExpired, models.BillArchived:
		return 100, true
	default:
		return 0, false
	}
}

type ckanLegislator struct {
	ExternalID string   `json:"external_id"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Block      string   `json:"block"`
	Province   string   `json:"province"`
	Chamber    string   `json:"chamber"`
	Active     flexBool `json:"active"`
	TermStart  string   `json:"term_start"`
	TermEnd    string   `json:"term_end"`
}

func (n *Normalizer) normalizeLegislators(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var records []ckanLegislator
	if err := decodeCKANRecords(body, "legislators", &records); err != nil {
		return err
	}

	for _, rec := range records {
		if rec.ExternalID == "" || rec.LastName == "" {
			return fault.New(fault.KindSchema, "legislator missing external_id or last_name")
		}
		termStart, err := parseDate(rec.TermStart)
		if err != nil {
			return err
		}
		termEnd, err := parseDate(rec.TermEnd)
		if err != nil {
			return err
		}

		_, _, err = n.repo.UpsertLegislator(ctx, &models.Legislator{
			TenantID:    tenantID,
			ExternalID:  rec.ExternalID,
			FirstName:   rec.FirstName,
			LastName:    rec.LastName,
			Block:       rec.Block,
			Province:    rec.Province,
			Chamber:     rec.Chamber,
			Active:      bool(rec.Active),
			TermStart:   termStart,
			TermEnd:     termEnd,
			SourceRefID: ref.ID,
		})
		if err != nil {
			return err
		}
		b.Processed++
	}
	return nil
}

type ckanBill struct {
	ExternalID          string `json:"external_id"`
	Title               string `json:"title"`
	Type                string `json:"type"`
	Period              string `json:"period"`
	PresentedDate       string `json:"presented_date"`
	Status              string `json:"status"`
	MovementDescription string `json:"movement_description"`
	MovementDate        string `json:"movement_date"`
	Authors             string `json:"authors"` // comma-separated legislator external ids, first is AUTHOR
}

func (n *Normalizer) normalizeBills(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var records []ckanBill
	if err := decodeCKANRecords(body, "bills", &records); err != nil {
		return err
	}

	// Validate the whole batch before touching the database.
	for _, rec := range records {
		if rec.ExternalID == "" || rec.Title == "" {
			return fault.New(fault.KindSchema, "bill missing external_id or title")
		}
		if _, ok := billStatusRank(rec.Status); rec.Status != "" && !ok {
			return fault.New(fault.KindSchema, "unknown bill status "+rec.Status)
		}
	}

	for _, rec := range records {
		presented, err := parseDate(rec.PresentedDate)
		if err != nil {
			return err
		}

		status := rec.Status
		if status == "" {
			status = models.BillPresented
		}

		billID, created, prevStatus, err := n.repo.UpsertBill(ctx, &models.Bill{
			TenantID:      tenantID,
			ExternalID:    rec.ExternalID,
			Title:         rec.Title,
			Status:        status,
			Type:          rec.Type,
			Period:        rec.Period,
			PresentedDate: presented,
			SourceRefID:   ref.ID,
		})
		if err != nil {
			return err
		}
		b.Processed++

		authorIDs, skipped, err := n.linkAuthors(ctx, tenantID, billID, rec.Authors)
		if err != nil {
			return err
		}
		b.Errored += skipped

		if created {
			b.emitFeed(map[string]interface{}{
				"tenant_id":     tenantID,
				"type":          models.FeedBillCreated,
				"entity_kind":   "bill",
				"entity_id":     billID,
				"source_ref_id": ref.ID,
			})
		}

		// A status differing from the stored one is a new movement. The
		// current status only advances; a regression is history-only.
		if rec.MovementDescription != "" && (created || status != prevStatus) {
			moveDate, err := parseDate(rec.MovementDate)
			if err != nil {
				return err
			}
			if moveDate == nil {
				now := time.Now().UTC()
				moveDate = &now
			}

			from := prevStatus
			if created {
				from = ""
			}
			movement, isNew, err := n.repo.AppendBillMovement(ctx, &models.BillMovement{
				BillID:      billID,
				Description: rec.MovementDescription,
				FromStatus:  from,
				ToStatus:    status,
				Date:        *moveDate,
				SourceRefID: ref.ID,
			})
			if err != nil {
				return err
			}

			if !created && isNew {
				newRank, _ := billStatusRank(status)
				prevRank, _ := billStatusRank(prevStatus)
				if newRank > prevRank {
					if err := n.repo.SetBillStatus(ctx, billID, status); err != nil {
						return err
					}
				}
				b.emitFeed(map[string]interface{}{
					"tenant_id":     tenantID,
					"type":          models.FeedBillMovement,
					"entity_kind":   "bill",
					"entity_id":     billID,
					"movement_id":   movement.ID,
					"source_ref_id": ref.ID,
				})
			}
		}

		for _, legID := range authorIDs {
			b.markRecompute(fmt.Sprintf("metrics:%d", legID), map[string]interface{}{
				"kind":          "metrics",
				"tenant_id":     tenantID,
				"legislator_id": legID,
			})
		}
	}
	return nil
}

// linkAuthors resolves the comma-separated author list. The first id is the
// AUTHOR, the rest co-authors. A missing legislator skips the link; it is
// expected to arrive in a later sync.
func (n *Normalizer) linkAuthors(ctx context.Context, tenantID, billID int64, authors string) ([]int64, int, error) {
	var ids []int64
	skipped := 0
	for i, extID := range strings.Split(authors, ",") {
		extID = strings.TrimSpace(extID)
		if extID == "" {
			continue
		}
		leg, err := n.repo.GetLegislatorByExternalID(ctx, tenantID, extID)
		if err != nil {
			return nil, skipped, err
		}
		if leg == nil {
			skipped++
			continue
		}
		role := models.RoleCoauthor
		if i == 0 {
			role = models.RoleAuthor
		}
		if err := n.repo.UpsertBillAuthor(ctx, billID, leg.ID, role); err != nil {
			return nil, skipped, err
		}
		ids = append(ids, leg.ID)
	}
	return ids, skipped, nil
}

type ckanVote struct {
	ExternalID           string  `json:"external_id"`
	SessionExternalID    string  `json:"session_external_id"`
	BillExternalID       string  `json:"bill_external_id"`
	Title                string  `json:"title"`
	Date                 string  `json:"date"`
	Affirmative          flexInt `json:"affirmative"`
	Negative             flexInt `json:"negative"`
	Abstention           flexInt `json:"abstention"`
	Absent               flexInt `json:"absent"`
	Result               string  `json:"result"`
	LegislatorExternalID string  `json:"legislator_external_id"`
	Vote                 string  `json:"vote"`
}

func (n *Normalizer) normalizeVotes(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var records []ckanVote
	if err := decodeCKANRecords(body, "votes", &records); err != nil {
		return err
	}

	for _, rec := range records {
		if rec.ExternalID == "" {
			return fault.New(fault.KindSchema, "vote row missing external_id")
		}
		switch rec.Vote {
		case "", models.VoteAffirm, models.VoteNeg, models.VoteAbst, models.VoteAbsent:
		default:
			return fault.New(fault.KindSchema, "unknown vote value "+rec.Vote)
		}
	}

	// Rows repeat the event fields per legislator; group and upsert the
	// event once, then its results.
	seen := map[string]int64{}
	for _, rec := range records {
		eventID, ok := seen[rec.ExternalID]
		if !ok {
			date, err := parseDate(rec.Date)
			if err != nil {
				return err
			}
			if date == nil {
				return fault.New(fault.KindSchema, "vote event "+rec.ExternalID+" missing date")
			}

			var billID *int64
			if rec.BillExternalID != "" {
				bill, err := n.repo.GetBillByExternalID(ctx, tenantID, rec.BillExternalID)
				if err != nil {
					return err
				}
				if bill != nil {
					billID = &bill.ID
				}
			}

			var sessionID *int64
			if rec.SessionExternalID != "" {
				id, err := n.repo.UpsertSession(ctx, &models.Session{
					TenantID:    tenantID,
					ExternalID:  rec.SessionExternalID,
					Date:        *date,
					SourceRefID: ref.ID,
				})
				if err != nil {
					return err
				}
				sessionID = &id
			}

			var created bool
			// Tallies come from the payload verbatim; the feed is the
			// authoritative source, they are never recomputed here.
			eventID, created, err = n.repo.UpsertVoteEvent(ctx, &models.VoteEvent{
				TenantID:    tenantID,
				ExternalID:  rec.ExternalID,
				SessionID:   sessionID,
				BillID:      billID,
				Title:       rec.Title,
				Affirmative: int(rec.Affirmative),
				Negative:    int(rec.Negative),
				Abstention:  int(rec.Abstention),
				Absent:      int(rec.Absent),
				Result:      rec.Result,
				Date:        *date,
				SourceRefID: ref.ID,
			})
			if err != nil {
				return err
			}
			seen[rec.ExternalID] = eventID
			b.Processed++

			if created {
				b.emitFeed(map[string]interface{}{
					"tenant_id":     tenantID,
					"type":          models.FeedVoteResult,
					"entity_kind":   "vote_event",
					"entity_id":     eventID,
					"source_ref_id": ref.ID,
				})
			}
		}

		if rec.LegislatorExternalID == "" || rec.Vote == "" {
			continue
		}
		leg, err := n.repo.GetLegislatorByExternalID(ctx, tenantID, rec.LegislatorExternalID)
		if err != nil {
			return err
		}
		if leg == nil {
			b.Errored++
			continue
		}
		if err := n.repo.UpsertVoteResult(ctx, eventID, leg.ID, rec.Vote); err != nil {
			return err
		}
		b.markRecompute(fmt.Sprintf("metrics:%d", leg.ID), map[string]interface{}{
			"kind":          "metrics",
			"tenant_id":     tenantID,
			"legislator_id": leg.ID,
		})
	}
	return nil
}

type ckanSessionRow struct {
	ExternalID           string `json:"external_id"`
	Date                 string `json:"date"`
	Kind                 string `json:"kind"`
	LegislatorExternalID string `json:"legislator_external_id"`
	Status               string `json:"status"`
}

func (n *Normalizer) normalizeSessions(ctx context.Context, tenantID int64, ref *models.SourceRef, body []byte, b *batch) error {
	var records []ckanSessionRow
	if err := decodeCKANRecords(body, "sessions", &records); err != nil {
		return err
	}

	for _, rec := range records {
		if rec.ExternalID == "" || rec.Date == "" {
			return fault.New(fault.KindSchema, "session row missing external_id or date")
		}
		if rec.Status != "" && rec.Status != models.AttendancePresent && rec.Status != models.AttendanceAbsent {
			return fault.New(fault.KindSchema, "unknown attendance status "+rec.Status)
		}
	}

	type tally struct {
		sessionID int64
		date      time.Time
		present   int
		total     int
		changed   bool
	}
	sessions := map[string]*tally{}

	for _, rec := range records {
		st, ok := sessions[rec.ExternalID]
		if !ok {
			date, err := parseDate(rec.Date)
			if err != nil {
				return err
			}
			id, err := n.repo.UpsertSession(ctx, &models.Session{
				TenantID:    tenantID,
				ExternalID:  rec.ExternalID,
				Date:        *date,
				Kind:        rec.Kind,
				SourceRefID: ref.ID,
			})
			if err != nil {
				return err
			}
			st = &tally{sessionID: id, date: *date}
			sessions[rec.ExternalID] = st
			b.Processed++
		}

		if rec.LegislatorExternalID == "" || rec.Status == "" {
			continue
		}
		leg, err := n.repo.GetLegislatorByExternalID(ctx, tenantID, rec.LegislatorExternalID)
		if err != nil {
			return err
		}
		if leg == nil {
			b.Errored++
			continue
		}
		created, err := n.repo.UpsertAttendance(ctx, &models.Attendance{
			TenantID:     tenantID,
			SessionID:    st.sessionID,
			LegislatorID: leg.ID,
			Status:       rec.Status,
			SourceRefID:  ref.ID,
		})
		if err != nil {
			return err
		}
		st.total++
		if rec.Status == models.AttendancePresent {
			st.present++
		}
		if created {
			st.changed = true
		}
		b.markRecompute(fmt.Sprintf("metrics:%d", leg.ID), map[string]interface{}{
			"kind":          "metrics",
			"tenant_id":     tenantID,
			"legislator_id": leg.ID,
		})
	}

	for _, st := range sessions {
		if !st.changed {
			continue
		}
		b.emitFeed(map[string]interface{}{
			"tenant_id":     tenantID,
			"type":          models.FeedAttendanceRecord,
			"entity_kind":   "session",
			"entity_id":     st.sessionID,
			"source_ref_id": ref.ID,
		})
	}
	return nil
}
