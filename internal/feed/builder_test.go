package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"civicsync/internal/eventbus"
	"civicsync/internal/fault"
	"civicsync/internal/models"
)

type fakeRepo struct {
	bills       map[int64]*models.Bill
	legislators map[int64]*models.Legislator
	votes       map[int64]*models.VoteEvent
	sessions    map[int64]*models.Session
	present     int
	total       int
	analyses    map[int64]*models.Analysis
	posts       []*models.FeedPost
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bills:       map[int64]*models.Bill{},
		legislators: map[int64]*models.Legislator{},
		votes:       map[int64]*models.VoteEvent{},
		sessions:    map[int64]*models.Session{},
		analyses:    map[int64]*models.Analysis{},
	}
}

func (f *fakeRepo) GetBill(ctx context.Context, tenantID, id int64) (*models.Bill, error) {
	return f.bills[id], nil
}
func (f *fakeRepo) GetLegislator(ctx context.Context, tenantID, id int64) (*models.Legislator, error) {
	return f.legislators[id], nil
}
func (f *fakeRepo) GetVoteEvent(ctx context.Context, tenantID, id int64) (*models.VoteEvent, error) {
	return f.votes[id], nil
}
func (f *fakeRepo) GetSession(ctx context.Context, tenantID, id int64) (*models.Session, error) {
	return f.sessions[id], nil
}
func (f *fakeRepo) AttendanceSummary(ctx context.Context, sessionID int64) (int, int, error) {
	return f.present, f.total, nil
}
func (f *fakeRepo) GetAnalysis(ctx context.Context, tenantID, id int64) (*models.Analysis, error) {
	return f.analyses[id], nil
}
func (f *fakeRepo) InsertFeedPost(ctx context.Context, p *models.FeedPost) (*models.FeedPost, error) {
	p.ID = int64(len(f.posts) + 1)
	p.CreatedAt = time.Now()
	f.posts = append(f.posts, p)
	return p, nil
}

func handle(t *testing.T, b *Builder, ev Event) *models.FeedPost {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	post, err := b.HandleEvent(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	return post
}

func TestBillCreatedPost(t *testing.T) {
	repo := newFakeRepo()
	repo.legislators[100] = &models.Legislator{ID: 100, ExternalID: "L-1", LastName: "Perez", Block: "UCR", Province: "Cordoba"}
	repo.legislators[101] = &models.Legislator{ID: 101, ExternalID: "L-2", LastName: "Gomez", Block: "UCR"}
	repo.bills[50] = &models.Bill{
		ID: 50, ExternalID: "B-1", Title: "Water act", Status: models.BillPresented,
		Authors: []models.BillAuthor{
			{BillID: 50, LegislatorID: 100, Role: models.RoleAuthor},
			{BillID: 50, LegislatorID: 101, Role: models.RoleCoauthor},
		},
	}
	b := NewBuilder(repo, nil)

	post := handle(t, b, Event{TenantID: 1, Type: models.FeedBillCreated, EntityID: 50})

	if post.Title != "B-1" {
		t.Errorf("title = %q", post.Title)
	}
	if post.Body != "Perez, Gomez: Water act" {
		t.Errorf("body = %q", post.Body)
	}
	wantTags := map[string]bool{"legislator:L-1": true, "legislator:L-2": true, "block:UCR": true, "province:Cordoba": true}
	if len(post.Tags) != len(wantTags) {
		t.Errorf("tags = %v", post.Tags)
	}
	for _, tag := range post.Tags {
		if !wantTags[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

func TestBillMovementPost(t *testing.T) {
	repo := newFakeRepo()
	repo.bills[50] = &models.Bill{
		ID: 50, ExternalID: "B-1", Title: "Water act", Status: models.BillInCommittee,
		Movements: []models.BillMovement{
			{ID: 1, OrderIndex: 0, Description: "Presented"},
			{ID: 2, OrderIndex: 1, Description: "Sent to committee"},
		},
	}
	b := NewBuilder(repo, nil)

	post := handle(t, b, Event{TenantID: 1, Type: models.FeedBillMovement, EntityID: 50, MovementID: 2})

	if post.Title != "Water act" {
		t.Errorf("title = %q", post.Title)
	}
	if post.Body != "Sent to committee (IN_COMMITTEE)" {
		t.Errorf("body = %q", post.Body)
	}
}

func TestVoteResultPostFormatsTallies(t *testing.T) {
	repo := newFakeRepo()
	repo.votes[9] = &models.VoteEvent{
		ID: 9, Title: "General vote", Affirmative: 120, Negative: 80, Abstention: 3, Absent: 54,
	}
	b := NewBuilder(repo, nil)

	post := handle(t, b, Event{TenantID: 1, Type: models.FeedVoteResult, EntityID: 9})

	if post.Title != "General vote" {
		t.Errorf("title = %q", post.Title)
	}
	if post.Body != "120/80/3/54" {
		t.Errorf("body = %q", post.Body)
	}
}

func TestAttendanceRecordPost(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions[3] = &models.Session{ID: 3, Date: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)}
	repo.present = 120
	repo.total = 257
	b := NewBuilder(repo, nil)

	post := handle(t, b, Event{TenantID: 1, Type: models.FeedAttendanceRecord, EntityID: 3})

	if post.Title != "Attendance: 2026-06-10" {
		t.Errorf("title = %q", post.Title)
	}
	if post.Body != "Present 120/257 (46.7%). Absent 137" {
		t.Errorf("body = %q", post.Body)
	}
}

func TestAnalysisReadyPost(t *testing.T) {
	repo := newFakeRepo()
	repo.analyses[7] = &models.Analysis{ID: 7, Module: models.ModuleMargin, Insight: "Margins are thin on 3 products."}
	b := NewBuilder(repo, nil)

	post := handle(t, b, Event{TenantID: 1, Type: models.FeedAnalysisReady, EntityID: 7})

	if post.Title != models.ModuleMargin {
		t.Errorf("title = %q", post.Title)
	}
	if post.Body != "Margins are thin on 3 products." {
		t.Errorf("body = %q", post.Body)
	}
}

func TestHandleEventBroadcastsOnBus(t *testing.T) {
	repo := newFakeRepo()
	repo.votes[9] = &models.VoteEvent{ID: 9, Title: "General vote"}
	bus := eventbus.New()
	ch := make(chan eventbus.Event, 1)
	bus.Subscribe(ch, models.FeedVoteResult)

	b := NewBuilder(repo, bus)
	saved := handle(t, b, Event{TenantID: 1, Type: models.FeedVoteResult, EntityID: 9})

	select {
	case evt := <-ch:
		if evt.Post == nil || evt.Post.ID != saved.ID || evt.Post.TenantID != 1 {
			t.Errorf("broadcast should carry the saved post, got %+v", evt.Post)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast on bus")
	}
}

func TestUnknownEventTypeIsSchemaFault(t *testing.T) {
	b := NewBuilder(newFakeRepo(), nil)
	_, err := b.HandleEvent(context.Background(), json.RawMessage(`{"type":"UNKNOWN","tenant_id":1}`))
	if !fault.Is(err, fault.KindSchema) {
		t.Errorf("expected schema fault, got %v", err)
	}
}

func TestMissingEntityIsNotFound(t *testing.T) {
	b := NewBuilder(newFakeRepo(), nil)
	_, err := b.HandleEvent(context.Background(), json.RawMessage(`{"type":"BILL_CREATED","tenant_id":1,"entity_id":999}`))
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("expected not-found fault, got %v", err)
	}
}
