package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"civicsync/internal/models"
	"civicsync/internal/queue"
)

type fakeStore struct {
	conn        *models.Connection
	strikes     int
	statusCalls []string
}

func (f *fakeStore) GetConnectionByShop(ctx context.Context, shop string) (*models.Connection, error) {
	return f.conn, nil
}

func (f *fakeStore) AddAuthStrike(ctx context.Context, id int64) (int, error) {
	f.strikes++
	return f.strikes, nil
}

func (f *fakeStore) SetConnectionStatus(ctx context.Context, id int64, status, syncError string) error {
	f.statusCalls = append(f.statusCalls, status)
	return nil
}

type fakeQueue struct {
	jobs []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error) {
	f.jobs = append(f.jobs, queueName+"/"+jobName)
	return "job-1", nil
}

func post(h http.Handler, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"id":42,"title":"widget"}`)
	sig := Sign(body, "secret")
	if !Verify(body, sig, "secret") {
		t.Fatal("valid signature rejected")
	}

	// A one-bit perturbation of the body must fail.
	corrupted := append([]byte(nil), body...)
	corrupted[0] ^= 0x01
	if Verify(corrupted, sig, "secret") {
		t.Error("corrupted body accepted")
	}
	if Verify(body, sig, "other-secret") {
		t.Error("wrong secret accepted")
	}
	if Verify(body, "!!not-base64!!", "secret") {
		t.Error("undecodable signature accepted")
	}
}

func TestWebhookValidSignatureEnqueuesIngest(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: 7, ShopDomain: "s.myshopify.com"}}
	q := &fakeQueue{}
	h := NewHandler("secret", store, q)

	body := []byte(`{"id":1}`)
	rec := post(h, body, map[string]string{
		HeaderShopDomain: "s.myshopify.com",
		HeaderTopic:      "products/update",
		HeaderSignature:  Sign(body, "secret"),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("body missing ok: %s", rec.Body.String())
	}
	if len(q.jobs) != 1 || q.jobs[0] != queue.QueueIngest+"/ingest:connection" {
		t.Errorf("expected ingest job, got %v", q.jobs)
	}
}

func TestWebhookBadSignatureIs401AndStrikes(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: 7, ShopDomain: "s.myshopify.com"}}
	q := &fakeQueue{}
	h := NewHandler("secret", store, q)

	body := []byte(`{"id":1}`)
	sig := []byte(Sign(body, "secret"))
	sig[0] ^= 0x01
	rec := post(h, body, map[string]string{
		HeaderShopDomain: "s.myshopify.com",
		HeaderTopic:      "products/update",
		HeaderSignature:  string(sig),
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid HMAC") {
		t.Errorf("body: %s", rec.Body.String())
	}
	if store.strikes != 1 {
		t.Errorf("expected 1 strike, got %d", store.strikes)
	}
	if len(q.jobs) != 0 {
		t.Errorf("no job should be enqueued, got %v", q.jobs)
	}
}

func TestWebhookMissingHeadersIs400(t *testing.T) {
	h := NewHandler("secret", &fakeStore{}, &fakeQueue{})
	body := []byte(`{}`)
	rec := post(h, body, map[string]string{
		HeaderSignature: Sign(body, "secret"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookUnknownShopStill200(t *testing.T) {
	h := NewHandler("secret", &fakeStore{conn: nil}, &fakeQueue{})
	body := []byte(`{}`)
	rec := post(h, body, map[string]string{
		HeaderShopDomain: "unknown.myshopify.com",
		HeaderTopic:      "orders/create",
		HeaderSignature:  Sign(body, "secret"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verified notifications always return 200, got %d", rec.Code)
	}
}

func TestWebhookUninstallMarksConnectionError(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: 7, ShopDomain: "s.myshopify.com"}}
	h := NewHandler("secret", store, &fakeQueue{})
	body := []byte(`{}`)
	rec := post(h, body, map[string]string{
		HeaderShopDomain: "s.myshopify.com",
		HeaderTopic:      "app/uninstalled",
		HeaderSignature:  Sign(body, "secret"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.statusCalls) != 1 || store.statusCalls[0] != models.SyncError {
		t.Errorf("expected connection marked error, got %v", store.statusCalls)
	}
}
