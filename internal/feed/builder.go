// Package feed turns normalized state transitions into FeedPost rows and
// broadcasts them on the in-process event bus for live subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"civicsync/internal/eventbus"
	"civicsync/internal/fault"
	"civicsync/internal/models"
)

type store interface {
	GetBill(ctx context.Context, tenantID, id int64) (*models.Bill, error)
	GetLegislator(ctx context.Context, tenantID, id int64) (*models.Legislator, error)
	GetVoteEvent(ctx context.Context, tenantID, id int64) (*models.VoteEvent, error)
	GetSession(ctx context.Context, tenantID, id int64) (*models.Session, error)
	AttendanceSummary(ctx context.Context, sessionID int64) (present, total int, err error)
	GetAnalysis(ctx context.Context, tenantID, id int64) (*models.Analysis, error)
	InsertFeedPost(ctx context.Context, p *models.FeedPost) (*models.FeedPost, error)
}

// Event is the feed-queue job payload emitted by the normalizer and the
// derived-state engine.
type Event struct {
	TenantID    int64  `json:"tenant_id"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    int64  `json:"entity_id"`
	MovementID  int64  `json:"movement_id,omitempty"`
	SourceRefID int64  `json:"source_ref_id,omitempty"`
}

// Builder renders one FeedPost per event.
type Builder struct {
	repo store
	bus  *eventbus.Bus
}

func NewBuilder(repo store, bus *eventbus.Bus) *Builder {
	return &Builder{repo: repo, bus: bus}
}

// HandleEvent builds, persists and broadcasts the post for one event.
func (b *Builder) HandleEvent(ctx context.Context, raw json.RawMessage) (*models.FeedPost, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fault.Wrap(fault.KindSchema, "malformed feed event", err)
	}

	var (
		post *models.FeedPost
		err  error
	)
	switch ev.Type {
	case models.FeedBillCreated:
		post, err = b.billCreated(ctx, ev)
	case models.FeedBillMovement:
		post, err = b.billMovement(ctx, ev)
	case models.FeedVoteResult:
		post, err = b.voteResult(ctx, ev)
	case models.FeedAttendanceRecord:
		post, err = b.attendanceRecord(ctx, ev)
	case models.FeedAnalysisReady:
		post, err = b.analysisReady(ctx, ev)
	default:
		return nil, fault.New(fault.KindSchema, "unknown feed event type "+ev.Type)
	}
	if err != nil {
		return nil, err
	}

	saved, err := b.repo.InsertFeedPost(ctx, post)
	if err != nil {
		return nil, err
	}

	if b.bus != nil {
		b.bus.Publish(saved)
	}
	return saved, nil
}

// legislatorTags builds the filterable tag set for a set of author links.
func (b *Builder) legislatorTags(ctx context.Context, tenantID int64, authors []models.BillAuthor) ([]string, []string) {
	var tags []string
	var lastNames []string
	seen := map[string]bool{}
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	for _, a := range authors {
		leg, err := b.repo.GetLegislator(ctx, tenantID, a.LegislatorID)
		if err != nil || leg == nil {
			continue
		}
		lastNames = append(lastNames, leg.LastName)
		add("legislator:" + leg.ExternalID)
		if leg.Block != "" {
			add("block:" + leg.Block)
		}
		if leg.Province != "" {
			add("province:" + leg.Province)
		}
	}
	return tags, lastNames
}

func (b *Builder) billCreated(ctx context.Context, ev Event) (*models.FeedPost, error) {
	bill, err := b.repo.GetBill(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("bill %d", ev.EntityID))
	}

	tags, lastNames := b.legislatorTags(ctx, ev.TenantID, bill.Authors)
	body := bill.Title
	if len(lastNames) > 0 {
		body = strings.Join(lastNames, ", ") + ": " + bill.Title
	}

	payload, err := json.Marshal(bill)
	if err != nil {
		return nil, err
	}
	return &models.FeedPost{
		TenantID:    ev.TenantID,
		Type:        models.FeedBillCreated,
		Title:       bill.ExternalID,
		Body:        body,
		EntityKind:  "bill",
		EntityID:    bill.ID,
		Tags:        tags,
		Payload:     payload,
		SourceRefID: ev.SourceRefID,
		Auto:        true,
	}, nil
}

func (b *Builder) billMovement(ctx context.Context, ev Event) (*models.FeedPost, error) {
	bill, err := b.repo.GetBill(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("bill %d", ev.EntityID))
	}
	if len(bill.Movements) == 0 {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("bill %d has no movements", ev.EntityID))
	}

	movement := bill.Movements[len(bill.Movements)-1]
	if ev.MovementID != 0 {
		for _, m := range bill.Movements {
			if m.ID == ev.MovementID {
				movement = m
				break
			}
		}
	}

	tags, _ := b.legislatorTags(ctx, ev.TenantID, bill.Authors)
	payload, err := json.Marshal(movement)
	if err != nil {
		return nil, err
	}
	return &models.FeedPost{
		TenantID:    ev.TenantID,
		Type:        models.FeedBillMovement,
		Title:       bill.Title,
		Body:        fmt.Sprintf("%s (%s)", movement.Description, bill.Status),
		EntityKind:  "bill",
		EntityID:    bill.ID,
		Tags:        tags,
		Payload:     payload,
		SourceRefID: ev.SourceRefID,
		Auto:        true,
	}, nil
}

func (b *Builder) voteResult(ctx context.Context, ev Event) (*models.FeedPost, error) {
	vote, err := b.repo.GetVoteEvent(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if vote == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("vote event %d", ev.EntityID))
	}

	payload, err := json.Marshal(vote)
	if err != nil {
		return nil, err
	}
	return &models.FeedPost{
		TenantID:    ev.TenantID,
		Type:        models.FeedVoteResult,
		Title:       vote.Title,
		Body:        fmt.Sprintf("%d/%d/%d/%d", vote.Affirmative, vote.Negative, vote.Abstention, vote.Absent),
		EntityKind:  "vote_event",
		EntityID:    vote.ID,
		Payload:     payload,
		SourceRefID: ev.SourceRefID,
		Auto:        true,
	}, nil
}

func (b *Builder) attendanceRecord(ctx context.Context, ev Event) (*models.FeedPost, error) {
	session, err := b.repo.GetSession(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("session %d", ev.EntityID))
	}
	present, total, err := b.repo.AttendanceSummary(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if total > 0 {
		pct = 100 * float64(present) / float64(total)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	return &models.FeedPost{
		TenantID:    ev.TenantID,
		Type:        models.FeedAttendanceRecord,
		Title:       "Attendance: " + session.Date.Format("2006-01-02"),
		Body:        fmt.Sprintf("Present %d/%d (%.1f%%). Absent %d", present, total, pct, total-present),
		EntityKind:  "session",
		EntityID:    session.ID,
		Payload:     payload,
		SourceRefID: ev.SourceRefID,
		Auto:        true,
	}, nil
}

func (b *Builder) analysisReady(ctx context.Context, ev Event) (*models.FeedPost, error) {
	analysis, err := b.repo.GetAnalysis(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("analysis %d", ev.EntityID))
	}

	body := analysis.Insight
	if body == "" {
		body = "Analysis completed."
	}
	return &models.FeedPost{
		TenantID:   ev.TenantID,
		Type:       models.FeedAnalysisReady,
		Title:      analysis.Module,
		Body:       body,
		EntityKind: "analysis",
		EntityID:   analysis.ID,
		Tags:       []string{"module:" + analysis.Module},
		Payload:    analysis.Outputs,
		Auto:       true,
	}, nil
}
