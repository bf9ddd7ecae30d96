package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"civicsync/internal/models"
	"civicsync/internal/queue"
)

// Routing headers a provider notification must carry.
const (
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderSignature  = "X-Shopify-Hmac-Sha256"
)

type connectionStore interface {
	GetConnectionByShop(ctx context.Context, shopDomain string) (*models.Connection, error)
	AddAuthStrike(ctx context.Context, connectionID int64) (int, error)
	SetConnectionStatus(ctx context.Context, connectionID int64, status, syncError string) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error)
}

// Handler verifies and records inbound change notifications.
type Handler struct {
	secret string
	store  connectionStore
	queue  enqueuer
}

func NewHandler(secret string, store connectionStore, q enqueuer) *Handler {
	return &Handler{secret: secret, store: store, queue: q}
}

// topicDataType maps a provider topic to the data type whose re-ingest it
// should trigger.
func topicDataType(topic string) string {
	switch {
	case strings.HasPrefix(topic, "products/"):
		return "products"
	case strings.HasPrefix(topic, "orders/"):
		return "orders"
	case strings.HasPrefix(topic, "inventory_levels/"):
		return "inventory"
	default:
		return ""
	}
}

// ServeHTTP implements the provider contract: 400 on missing routing headers,
// 401 on a bad signature, 200 on every other path. Internal errors after the
// notification is accepted still return 200 so the provider stops retrying.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	shop := r.Header.Get(HeaderShopDomain)
	topic := r.Header.Get(HeaderTopic)
	if shop == "" || topic == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing routing headers"})
		return
	}

	if !Verify(body, r.Header.Get(HeaderSignature), h.secret) {
		if conn, lookupErr := h.store.GetConnectionByShop(r.Context(), shop); lookupErr == nil && conn != nil {
			if strikes, strikeErr := h.store.AddAuthStrike(r.Context(), conn.ID); strikeErr == nil {
				log.Printf("[webhooks] bad signature from %s (strike %d)", shop, strikes)
			}
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid HMAC"})
		return
	}

	h.record(r.Context(), shop, topic)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// record enqueues the follow-up work for a verified notification. Failures
// are logged, never surfaced: the signature already proved delivery.
func (h *Handler) record(ctx context.Context, shop, topic string) {
	conn, err := h.store.GetConnectionByShop(ctx, shop)
	if err != nil || conn == nil {
		log.Printf("[webhooks] notification for unknown shop %s (topic %s)", shop, topic)
		return
	}

	if topic == "app/uninstalled" {
		if err := h.store.SetConnectionStatus(ctx, conn.ID, models.SyncError, "app uninstalled"); err != nil {
			log.Printf("[webhooks] mark uninstalled %s: %v", shop, err)
		}
		return
	}

	dataType := topicDataType(topic)
	if dataType == "" {
		log.Printf("[webhooks] ignoring topic %s from %s", topic, shop)
		return
	}

	payload := map[string]interface{}{
		"connection_id": conn.ID,
		"data_type":     dataType,
		"trigger":       "webhook",
	}
	if _, err := h.queue.Enqueue(ctx, queue.QueueIngest, "ingest:connection", payload, nil); err != nil {
		log.Printf("[webhooks] enqueue ingest for %s/%s: %v", shop, dataType, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
