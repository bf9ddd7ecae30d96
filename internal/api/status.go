package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"civicsync/internal/queue"

	"github.com/gorilla/mux"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports pipeline health: per-queue depths and the latest
// ingestion runs.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queues := map[string]interface{}{}
	for _, name := range []string{queue.QueueIngest, queue.QueueNormalize, queue.QueueMetrics, queue.QueueFeed} {
		ready, delayed, dead, err := s.broker.Depth(ctx, name)
		if err != nil {
			queues[name] = map[string]string{"error": "unavailable"}
			continue
		}
		queues[name] = map[string]int64{
			"ready":   ready,
			"delayed": delayed,
			"dead":    dead,
		}
	}

	runs, err := s.repo.LatestRuns(ctx, 10)
	if err != nil {
		writeError(w, err)
		return
	}

	tenantID := tenantScope(r)
	tables := map[string]interface{}{}
	for name, count := range map[string]func(context.Context, int64) (int, error){
		"products":    s.repo.CountProducts,
		"orders":      s.repo.CountOrders,
		"legislators": s.repo.CountLegislators,
		"bills":       s.repo.CountBills,
	} {
		n, err := count(ctx, tenantID)
		if err != nil {
			tables[name] = "unavailable"
			continue
		}
		tables[name] = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"queues":       queues,
		"tables":       tables,
		"latest_runs":  runs,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCronTrigger lets a hosted cron service fire one schedule entry.
// Guarded by the scheduler shared secret.
func (s *Server) handleCronTrigger(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.CronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "auth_error",
			"message": "invalid cron secret",
		})
		return
	}

	name := mux.Vars(r)["name"]
	if s.sched == nil || !s.sched.Fire(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "unknown schedule entry " + name,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fired": name})
}
