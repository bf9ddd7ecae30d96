package normalizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"civicsync/internal/blob"
	"civicsync/internal/fault"
	"civicsync/internal/models"
	"civicsync/internal/queue"
)

// memStore is an in-memory store implementation for handler tests.
type memStore struct {
	refs        map[int64]*models.SourceRef
	refStatus   map[int64]string
	products    map[string]*models.Product
	orders      map[string]*models.Order
	inventory   map[string]*models.InventoryLevel
	legislators map[string]*models.Legislator
	bills       map[string]*models.Bill
	movements   map[int64][]models.BillMovement
	authors     map[int64]map[int64]string
	sessions    map[string]int64
	voteEvents  map[string]*models.VoteEvent
	voteResults map[int64]map[int64]string
	attendance  map[int64]map[int64]string
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		refs:        map[int64]*models.SourceRef{},
		refStatus:   map[int64]string{},
		products:    map[string]*models.Product{},
		orders:      map[string]*models.Order{},
		inventory:   map[string]*models.InventoryLevel{},
		legislators: map[string]*models.Legislator{},
		bills:       map[string]*models.Bill{},
		movements:   map[int64][]models.BillMovement{},
		authors:     map[int64]map[int64]string{},
		sessions:    map[string]int64{},
		voteEvents:  map[string]*models.VoteEvent{},
		voteResults: map[int64]map[int64]string{},
		attendance:  map[int64]map[int64]string{},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) GetSourceRef(ctx context.Context, id int64) (*models.SourceRef, error) {
	return m.refs[id], nil
}

func (m *memStore) MarkSourceRef(ctx context.Context, id int64, status string) error {
	m.refStatus[id] = status
	return nil
}

func (m *memStore) UpsertProduct(ctx context.Context, p *models.Product) (int64, bool, error) {
	existing, ok := m.products[p.ExternalID]
	if ok {
		p.ID = existing.ID
		m.products[p.ExternalID] = p
		return p.ID, false, nil
	}
	p.ID = m.id()
	m.products[p.ExternalID] = p
	return p.ID, true, nil
}

func (m *memStore) UpsertOrder(ctx context.Context, o *models.Order) (int64, bool, error) {
	existing, ok := m.orders[o.ExternalID]
	if ok {
		o.ID = existing.ID
		m.orders[o.ExternalID] = o
		return o.ID, false, nil
	}
	o.ID = m.id()
	m.orders[o.ExternalID] = o
	return o.ID, true, nil
}

func (m *memStore) UpsertInventoryLevel(ctx context.Context, lvl *models.InventoryLevel) error {
	m.inventory[lvl.VariantID+"/"+lvl.LocationID] = lvl
	return nil
}

func (m *memStore) UpsertLegislator(ctx context.Context, l *models.Legislator) (int64, bool, error) {
	existing, ok := m.legislators[l.ExternalID]
	if ok {
		l.ID = existing.ID
		m.legislators[l.ExternalID] = l
		return l.ID, false, nil
	}
	l.ID = m.id()
	m.legislators[l.ExternalID] = l
	return l.ID, true, nil
}

func (m *memStore) GetLegislatorByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Legislator, error) {
	return m.legislators[externalID], nil
}

func (m *memStore) UpsertBill(ctx context.Context, b *models.Bill) (int64, bool, string, error) {
	existing, ok := m.bills[b.ExternalID]
	if ok {
		prev := existing.Status
		b.ID = existing.ID
		b.Status = prev // status moves only through SetBillStatus
		m.bills[b.ExternalID] = b
		return b.ID, false, prev, nil
	}
	b.ID = m.id()
	m.bills[b.ExternalID] = b
	return b.ID, true, "", nil
}

func (m *memStore) SetBillStatus(ctx context.Context, billID int64, status string) error {
	for _, b := range m.bills {
		if b.ID == billID {
			b.Status = status
		}
	}
	return nil
}

func (m *memStore) AppendBillMovement(ctx context.Context, mv *models.BillMovement) (*models.BillMovement, bool, error) {
	for _, existing := range m.movements[mv.BillID] {
		if existing.Description == mv.Description && existing.Date.Equal(mv.Date) {
			return &existing, false, nil
		}
	}
	mv.ID = m.id()
	mv.OrderIndex = len(m.movements[mv.BillID])
	m.movements[mv.BillID] = append(m.movements[mv.BillID], *mv)
	return mv, true, nil
}

func (m *memStore) UpsertBillAuthor(ctx context.Context, billID, legislatorID int64, role string) error {
	if m.authors[billID] == nil {
		m.authors[billID] = map[int64]string{}
	}
	m.authors[billID][legislatorID] = role
	return nil
}

func (m *memStore) UpsertSession(ctx context.Context, s *models.Session) (int64, error) {
	if id, ok := m.sessions[s.ExternalID]; ok {
		return id, nil
	}
	id := m.id()
	m.sessions[s.ExternalID] = id
	return id, nil
}

func (m *memStore) UpsertVoteEvent(ctx context.Context, v *models.VoteEvent) (int64, bool, error) {
	existing, ok := m.voteEvents[v.ExternalID]
	if ok {
		v.ID = existing.ID
		m.voteEvents[v.ExternalID] = v
		return v.ID, false, nil
	}
	v.ID = m.id()
	m.voteEvents[v.ExternalID] = v
	return v.ID, true, nil
}

func (m *memStore) UpsertVoteResult(ctx context.Context, voteEventID, legislatorID int64, vote string) error {
	if m.voteResults[voteEventID] == nil {
		m.voteResults[voteEventID] = map[int64]string{}
	}
	m.voteResults[voteEventID][legislatorID] = vote
	return nil
}

func (m *memStore) UpsertAttendance(ctx context.Context, a *models.Attendance) (bool, error) {
	if m.attendance[a.SessionID] == nil {
		m.attendance[a.SessionID] = map[int64]string{}
	}
	_, existed := m.attendance[a.SessionID][a.LegislatorID]
	m.attendance[a.SessionID][a.LegislatorID] = a.Status
	return !existed, nil
}

func (m *memStore) GetBillByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Bill, error) {
	return m.bills[externalID], nil
}

type captureQueue struct {
	jobs []capturedJob
}

type capturedJob struct {
	queue   string
	name    string
	payload map[string]interface{}
}

func (c *captureQueue) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error) {
	var decoded map[string]interface{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		json.Unmarshal(raw, &decoded)
	}
	c.jobs = append(c.jobs, capturedJob{queue: queueName, name: jobName, payload: decoded})
	return "job", nil
}

func (c *captureQueue) byQueue(name string) []capturedJob {
	var out []capturedJob
	for _, j := range c.jobs {
		if j.queue == name {
			out = append(out, j)
		}
	}
	return out
}

func setup(t *testing.T, sourceType, dataType string, payload string) (*Normalizer, *memStore, *captureQueue, int64) {
	t.Helper()
	store := newMemStore()
	blobs := blob.NewMemStore()
	q := &captureQueue{}

	loc, err := blobs.Put(context.Background(), dataType, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	refID := store.id()
	store.refs[refID] = &models.SourceRef{
		ID: refID, SourceType: sourceType, DataType: dataType,
		BlobLocation: loc, Status: models.RefStored, FetchedAt: time.Now(),
	}
	return New(store, blobs, q), store, q, refID
}

func TestNormalizeProductsSumsVariantInventory(t *testing.T) {
	payload := `{"products":[
		{"id":11,"title":"Widget","vendor":"Acme","tags":"sale, new",
		 "variants":[{"id":1,"price":"10.00","inventory_quantity":3},
		             {"id":2,"price":"12.00","inventory_quantity":4}]}]}`
	n, store, q, refID := setup(t, "shopify", "products", payload)

	res, err := n.Run(context.Background(), 1, refID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Errorf("processed = %d", res.Processed)
	}

	p := store.products["11"]
	if p == nil {
		t.Fatal("product not upserted")
	}
	if p.InventoryQty != 7 {
		t.Errorf("inventory should sum variants, got %d", p.InventoryQty)
	}
	if p.Price == nil || *p.Price != 10.00 {
		t.Errorf("price from first variant, got %v", p.Price)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "sale" || p.Tags[1] != "new" {
		t.Errorf("tags not split: %v", p.Tags)
	}
	if store.refStatus[refID] != models.RefNormalized {
		t.Errorf("ref status = %q", store.refStatus[refID])
	}
	if len(q.byQueue(queue.QueueMetrics)) != 1 {
		t.Errorf("expected one analysis recompute, got %v", q.jobs)
	}
}

func TestNormalizeMalformedPayloadMarksRefError(t *testing.T) {
	n, store, _, refID := setup(t, "shopify", "products", `{"products": "not-a-list"}`)

	_, err := n.Run(context.Background(), 1, refID)
	if !fault.Is(err, fault.KindSchema) {
		t.Fatalf("expected schema fault, got %v", err)
	}
	if store.refStatus[refID] != models.RefError {
		t.Errorf("ref should be marked error, got %q", store.refStatus[refID])
	}
	if len(store.products) != 0 {
		t.Error("no partial upsert allowed")
	}
}

func TestNormalizeBillsCreatesFeedAndMovement(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"B-1","title":"Water act","status":"PRESENTED","period":"2026",
		 "presented_date":"2026-03-01","movement_description":"Presented to chamber",
		 "movement_date":"2026-03-01","authors":"L-1,L-2"}]}}`
	n, store, q, refID := setup(t, "ckan", "bills", payload)
	store.legislators["L-1"] = &models.Legislator{ID: 100, ExternalID: "L-1"}
	store.legislators["L-2"] = &models.Legislator{ID: 101, ExternalID: "L-2"}

	res, err := n.Run(context.Background(), 1, refID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Errorf("processed = %d", res.Processed)
	}

	bill := store.bills["B-1"]
	if bill == nil {
		t.Fatal("bill not upserted")
	}
	if store.authors[bill.ID][100] != models.RoleAuthor || store.authors[bill.ID][101] != models.RoleCoauthor {
		t.Errorf("author roles wrong: %v", store.authors[bill.ID])
	}
	if len(store.movements[bill.ID]) != 1 || store.movements[bill.ID][0].OrderIndex != 0 {
		t.Errorf("movements: %v", store.movements[bill.ID])
	}

	feed := q.byQueue(queue.QueueFeed)
	if len(feed) != 1 || feed[0].payload["type"] != models.FeedBillCreated {
		t.Errorf("expected one BILL_CREATED event, got %v", feed)
	}
	// Both authors get a metrics recompute, deduplicated.
	if len(q.byQueue(queue.QueueMetrics)) != 2 {
		t.Errorf("expected 2 recompute jobs, got %v", q.byQueue(queue.QueueMetrics))
	}
}

func TestNormalizeBillStatusAdvances(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"B-1","title":"Water act","status":"IN_COMMITTEE","period":"2026",
		 "movement_description":"Sent to committee","movement_date":"2026-04-01"}]}}`
	n, store, q, refID := setup(t, "ckan", "bills", payload)
	store.bills["B-1"] = &models.Bill{ID: 50, ExternalID: "B-1", Status: models.BillPresented}

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}
	if store.bills["B-1"].Status != models.BillInCommittee {
		t.Errorf("status should advance, got %s", store.bills["B-1"].Status)
	}
	if len(store.movements[50]) != 1 {
		t.Fatalf("movement not appended: %v", store.movements[50])
	}
	if store.movements[50][0].FromStatus != models.BillPresented || store.movements[50][0].ToStatus != models.BillInCommittee {
		t.Errorf("transition wrong: %+v", store.movements[50][0])
	}

	feed := q.byQueue(queue.QueueFeed)
	if len(feed) != 1 || feed[0].payload["type"] != models.FeedBillMovement {
		t.Errorf("expected BILL_MOVEMENT event, got %v", feed)
	}
}

func TestNormalizeBillStatusRegressionIsHistoryOnly(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"B-1","title":"Water act","status":"PRESENTED","period":"2026",
		 "movement_description":"Clerical correction","movement_date":"2026-05-01"}]}}`
	n, store, _, refID := setup(t, "ckan", "bills", payload)
	store.bills["B-1"] = &models.Bill{ID: 50, ExternalID: "B-1", Status: models.BillFloorVote}

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}
	if store.bills["B-1"].Status != models.BillFloorVote {
		t.Errorf("status must not regress, got %s", store.bills["B-1"].Status)
	}
	if len(store.movements[50]) != 1 {
		t.Errorf("regression still recorded in history: %v", store.movements[50])
	}
}

func TestNormalizeBillsReplayIsIdempotent(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"B-1","title":"Water act","status":"PRESENTED","period":"2026",
		 "movement_description":"Presented to chamber","movement_date":"2026-03-01"}]}}`
	n, store, q, refID := setup(t, "ckan", "bills", payload)

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}
	firstFeed := len(q.byQueue(queue.QueueFeed))
	billID := store.bills["B-1"].ID

	// Replaying the identical payload is a no-op.
	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}
	if len(store.movements[billID]) != 1 {
		t.Errorf("replay must not append movements: %v", store.movements[billID])
	}
	if got := len(q.byQueue(queue.QueueFeed)); got != firstFeed {
		t.Errorf("replay must not emit feed events: first %d then %d", firstFeed, got)
	}
}

func TestNormalizeVotesSkipsMissingLegislator(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"V-1","session_external_id":"S-1","title":"General vote",
		 "date":"2026-06-10","affirmative":120,"negative":80,"abstention":3,"absent":54,
		 "result":"APPROVED","legislator_external_id":"L-1","vote":"AFFIRM"},
		{"external_id":"V-1","session_external_id":"S-1","title":"General vote",
		 "date":"2026-06-10","affirmative":120,"negative":80,"abstention":3,"absent":54,
		 "result":"APPROVED","legislator_external_id":"L-404","vote":"NEG"}]}}`
	n, store, q, refID := setup(t, "ckan", "votes", payload)
	store.legislators["L-1"] = &models.Legislator{ID: 100, ExternalID: "L-1"}

	res, err := n.Run(context.Background(), 1, refID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Errorf("one event processed, got %d", res.Processed)
	}
	if res.Errored != 1 {
		t.Errorf("missing legislator increments errors, got %d", res.Errored)
	}

	event := store.voteEvents["V-1"]
	if event == nil {
		t.Fatal("vote event not upserted")
	}
	if event.Affirmative != 120 || event.Absent != 54 {
		t.Errorf("tallies must come from the payload: %+v", event)
	}
	if store.voteResults[event.ID][100] != models.VoteAffirm {
		t.Errorf("vote result missing: %v", store.voteResults[event.ID])
	}

	feed := q.byQueue(queue.QueueFeed)
	if len(feed) != 1 || feed[0].payload["type"] != models.FeedVoteResult {
		t.Errorf("expected VOTE_RESULT event, got %v", feed)
	}
}

// CSV-backed resources deliver every cell as a string; counts and flags must
// still decode.
func TestNormalizeVotesCoercesStringCells(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"V-1","session_external_id":"S-1","title":"General vote",
		 "date":"2026-06-10","affirmative":"120","negative":"80","abstention":"","absent":"54",
		 "result":"APPROVED","legislator_external_id":"L-1","vote":"AFFIRM"}]}}`
	n, store, _, refID := setup(t, "ckan", "votes", payload)
	store.legislators["L-1"] = &models.Legislator{ID: 100, ExternalID: "L-1"}

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}

	event := store.voteEvents["V-1"]
	if event == nil {
		t.Fatal("vote event not upserted")
	}
	if event.Affirmative != 120 || event.Negative != 80 || event.Absent != 54 {
		t.Errorf("string tallies not coerced: %+v", event)
	}
	if event.Abstention != 0 {
		t.Errorf("empty cell should decode to zero, got %d", event.Abstention)
	}
}

func TestNormalizeLegislatorsCoercesStringActive(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"L-1","first_name":"Ana","last_name":"Ruiz","active":"true"},
		{"external_id":"L-2","first_name":"Juan","last_name":"Paz","active":"0"}]}}`
	n, store, _, refID := setup(t, "ckan", "legislators", payload)

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}
	if !store.legislators["L-1"].Active {
		t.Error("L-1 should be active")
	}
	if store.legislators["L-2"].Active {
		t.Error("L-2 should be inactive")
	}
}

func TestNormalizeSessionsEmitsAttendanceRecord(t *testing.T) {
	payload := `{"success":true,"result":{"records":[
		{"external_id":"S-1","date":"2026-06-10","kind":"ordinary",
		 "legislator_external_id":"L-1","status":"PRESENT"},
		{"external_id":"S-1","date":"2026-06-10","kind":"ordinary",
		 "legislator_external_id":"L-2","status":"ABSENT"}]}}`
	n, store, q, refID := setup(t, "ckan", "sessions", payload)
	store.legislators["L-1"] = &models.Legislator{ID: 100, ExternalID: "L-1"}
	store.legislators["L-2"] = &models.Legislator{ID: 101, ExternalID: "L-2"}

	if _, err := n.Run(context.Background(), 1, refID); err != nil {
		t.Fatal(err)
	}

	sessionID := store.sessions["S-1"]
	if len(store.attendance[sessionID]) != 2 {
		t.Errorf("attendance rows: %v", store.attendance[sessionID])
	}
	feed := q.byQueue(queue.QueueFeed)
	if len(feed) != 1 || feed[0].payload["type"] != models.FeedAttendanceRecord {
		t.Errorf("expected ATTENDANCE_RECORD, got %v", feed)
	}
	if len(q.byQueue(queue.QueueMetrics)) != 2 {
		t.Errorf("both legislators recomputed: %v", q.byQueue(queue.QueueMetrics))
	}
}

func TestNormalizeUnknownHandlerIsSchemaFault(t *testing.T) {
	n, store, _, refID := setup(t, "shopify", "mystery", `{}`)
	_, err := n.Run(context.Background(), 1, refID)
	if !fault.Is(err, fault.KindSchema) {
		t.Fatalf("expected schema fault, got %v", err)
	}
	if store.refStatus[refID] != models.RefError {
		t.Errorf("ref marked %q", store.refStatus[refID])
	}
}
