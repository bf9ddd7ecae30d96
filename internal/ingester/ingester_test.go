package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"civicsync/internal/adapters"
	"civicsync/internal/blob"
	"civicsync/internal/fault"
	"civicsync/internal/models"
	"civicsync/internal/normalizer"
	"civicsync/internal/queue"
)

type fakeStore struct {
	runs      map[int64]*models.IngestionRun
	nextRun   int64
	refs      map[string]*models.SourceRef // keyed by source key
	nextRef   int64
	statuses  []string
	syncError string
	conns     []models.Connection
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs: map[int64]*models.IngestionRun{},
		refs: map[string]*models.SourceRef{},
	}
}

func (f *fakeStore) StartIngestionRun(ctx context.Context, runID, source, dataType string, tenantID *int64) (int64, error) {
	f.nextRun++
	f.runs[f.nextRun] = &models.IngestionRun{ID: f.nextRun, RunID: runID, Source: source, DataType: dataType, Status: models.RunRunning}
	return f.nextRun, nil
}

func (f *fakeStore) CompleteIngestionRun(ctx context.Context, id int64, processed, skipped, errored int) error {
	run := f.runs[id]
	run.Status = models.RunCompleted
	run.RecordsProcessed = processed
	run.RecordsSkipped = skipped
	run.RecordsErrored = errored
	return nil
}

func (f *fakeStore) FailIngestionRun(ctx context.Context, id int64, detail string) error {
	run := f.runs[id]
	run.Status = models.RunFailed
	run.ErrorDetail = detail
	return nil
}

func (f *fakeStore) RecordFetch(ctx context.Context, ref *models.SourceRef) (*models.SourceRef, bool, error) {
	if prev, ok := f.refs[ref.SourceKey]; ok && prev.Checksum == ref.Checksum {
		return prev, false, nil
	}
	f.nextRef++
	ref.ID = f.nextRef
	ref.Status = models.RefStored
	f.refs[ref.SourceKey] = ref
	return ref, true, nil
}

func (f *fakeStore) SetConnectionStatus(ctx context.Context, connectionID int64, status, syncError string) error {
	f.statuses = append(f.statuses, status)
	f.syncError = syncError
	return nil
}

func (f *fakeStore) ListConnections(ctx context.Context, source string) ([]models.Connection, error) {
	var out []models.Connection
	for _, c := range f.conns {
		if c.Source == source {
			out = append(out, c)
		}
	}
	return out, nil
}

type captureQueue struct {
	jobs []capturedJob
}

type capturedJob struct {
	queue   string
	name    string
	payload map[string]interface{}
}

func (q *captureQueue) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, capturedJob{queue: queueName, name: jobName, payload: m})
	return "job-1", nil
}

// fakeAdapter serves canned payloads per data type; an entry of nil means the
// fetch fails with the configured fault.
type fakeAdapter struct {
	source   string
	payloads map[string][]byte
	fetchErr map[string]error
}

func (a *fakeAdapter) Source() string { return a.source }

func (a *fakeAdapter) DataTypes() []string {
	types := make([]string, 0, len(a.payloads))
	for dt := range a.payloads {
		types = append(types, dt)
	}
	// deterministic order for assertions
	for i := range types {
		for j := i + 1; j < len(types); j++ {
			if types[j] < types[i] {
				types[i], types[j] = types[j], types[i]
			}
		}
	}
	return types
}

func (a *fakeAdapter) Fetch(ctx context.Context, conn *models.Connection, dataType string) (*adapters.RawPayload, error) {
	if err := a.fetchErr[dataType]; err != nil {
		return nil, err
	}
	return &adapters.RawPayload{
		Source:    a.source,
		DataType:  dataType,
		SourceKey: a.source + ":" + conn.ShopDomain + ":" + dataType,
		Body:      a.payloads[dataType],
	}, nil
}

func (a *fakeAdapter) RegisterChangeNotifications(ctx context.Context, conn *models.Connection, callbackBase string) ([]string, error) {
	return nil, nil
}

// fakeNormalizer reports one processed record per ref, or fails outright.
type fakeNormalizer struct {
	err error
}

func (n *fakeNormalizer) Run(ctx context.Context, tenantID, sourceRefID int64) (*normalizer.Result, error) {
	if n.err != nil {
		return nil, n.err
	}
	return &normalizer.Result{Processed: 1}, nil
}

func testConn() *models.Connection {
	return &models.Connection{ID: 1, TenantID: 7, Source: "shopify", ShopDomain: "demo.myshopify.com", AccessToken: "tok"}
}

func TestSyncConnectionEnqueuesNormalizePerNewRef(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{source: "shopify", payloads: map[string][]byte{
		adapters.DataProducts: []byte(`{"products":[]}`),
		adapters.DataOrders:   []byte(`{"orders":[]}`),
	}})

	result, err := ing.SyncConnection(context.Background(), testConn(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 data type results, got %d", len(result.Results))
	}
	if len(q.jobs) != 2 {
		t.Fatalf("expected 2 normalize jobs, got %d", len(q.jobs))
	}
	for _, job := range q.jobs {
		if job.queue != queue.QueueNormalize || job.name != "normalize:ref" {
			t.Errorf("unexpected job %s/%s", job.queue, job.name)
		}
		if job.payload["tenant_id"].(float64) != 7 {
			t.Errorf("tenant_id = %v", job.payload["tenant_id"])
		}
	}
	last := repo.statuses[len(repo.statuses)-1]
	if last != models.SyncSynced {
		t.Errorf("final status = %q", last)
	}
}

func TestSyncConnectionSkipsUnchangedChecksum(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{source: "shopify", payloads: map[string][]byte{
		adapters.DataProducts: []byte(`{"products":[{"id":1}]}`),
	}})

	if _, err := ing.SyncConnection(context.Background(), testConn(), "run-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.SyncConnection(context.Background(), testConn(), "run-2"); err != nil {
		t.Fatal(err)
	}

	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 normalize job across both syncs, got %d", len(q.jobs))
	}
	// Second run completed with one skip.
	run := repo.runs[2]
	if run.Status != models.RunCompleted || run.RecordsSkipped != 1 || run.RecordsProcessed != 0 {
		t.Errorf("second run = %+v", run)
	}
}

func TestSyncConnectionAuthFailureMarksError(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{
		source:   "shopify",
		payloads: map[string][]byte{adapters.DataProducts: []byte(`{}`)},
		fetchErr: map[string]error{adapters.DataProducts: fault.New(fault.KindAuth, "token revoked")},
	})

	_, err := ing.SyncConnection(context.Background(), testConn(), "run-1")
	if !fault.Is(err, fault.KindAuth) {
		t.Fatalf("expected auth fault, got %v", err)
	}
	last := repo.statuses[len(repo.statuses)-1]
	if last != models.SyncError {
		t.Errorf("status = %q", last)
	}
	if len(q.jobs) != 0 {
		t.Errorf("no jobs should be enqueued, got %d", len(q.jobs))
	}
}

func TestSyncConnectionPartialFailure(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{
		source: "shopify",
		payloads: map[string][]byte{
			adapters.DataProducts: []byte(`{"products":[]}`),
			adapters.DataOrders:   []byte(`{}`),
		},
		fetchErr: map[string]error{adapters.DataOrders: errors.New("connection reset")},
	})

	result, err := ing.SyncConnection(context.Background(), testConn(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.failed() != 1 {
		t.Errorf("failed = %d", result.failed())
	}
	last := repo.statuses[len(repo.statuses)-1]
	if last != models.SyncError {
		t.Errorf("status = %q", last)
	}
	if !strings.Contains(repo.syncError, "1 of 2 data types failed") {
		t.Errorf("sync error = %q", repo.syncError)
	}
	// The healthy data type still got its normalize job.
	if len(q.jobs) != 1 {
		t.Errorf("expected 1 normalize job, got %d", len(q.jobs))
	}
}

func TestSyncInlineCounts(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{source: "shopify", payloads: map[string][]byte{
		adapters.DataProducts: []byte(`{"products":[{"id":1}]}`),
		adapters.DataOrders:   []byte(`{"orders":[{"id":2}]}`),
	}})

	counts, err := ing.SyncInline(context.Background(), testConn(), "run-1", &fakeNormalizer{})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Products != 1 || counts.Orders != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestSyncInlineNormalizeFailureMarksError(t *testing.T) {
	repo := newFakeStore()
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{source: "shopify", payloads: map[string][]byte{
		adapters.DataProducts: []byte(`{"products":[]}`),
	}})

	_, err := ing.SyncInline(context.Background(), testConn(), "run-1",
		&fakeNormalizer{err: fault.New(fault.KindSchema, "bad payload")})
	if err == nil {
		t.Fatal("expected error")
	}
	last := repo.statuses[len(repo.statuses)-1]
	if last != models.SyncError {
		t.Errorf("status = %q", last)
	}
}

func TestSyncAllFansOutPerConnection(t *testing.T) {
	repo := newFakeStore()
	repo.conns = []models.Connection{
		{ID: 1, TenantID: 7, Source: "shopify"},
		{ID: 2, TenantID: 8, Source: "shopify"},
	}
	q := &captureQueue{}
	ing := New(repo, blob.NewMemStore(), q)
	ing.Register(&fakeAdapter{source: "shopify", payloads: map[string][]byte{}})

	n, err := ing.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(q.jobs) != 2 {
		t.Fatalf("enqueued = %d, jobs = %d", n, len(q.jobs))
	}
	for _, job := range q.jobs {
		if job.queue != queue.QueueIngest || job.name != "ingest:connection" {
			t.Errorf("unexpected job %s/%s", job.queue, job.name)
		}
		if job.payload["trigger"] != "schedule" {
			t.Errorf("trigger = %v", job.payload["trigger"])
		}
	}
}

func TestSyncConnectionUnknownSource(t *testing.T) {
	ing := New(newFakeStore(), blob.NewMemStore(), &captureQueue{})
	_, err := ing.SyncConnection(context.Background(), &models.Connection{Source: "square"}, "run-1")
	if !fault.Is(err, fault.KindConfig) {
		t.Errorf("expected config fault, got %v", err)
	}
}
