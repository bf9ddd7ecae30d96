package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"civicsync/internal/derive"
	"civicsync/internal/fault"
	"civicsync/internal/models"

	"github.com/google/uuid"
)

// syncCooldown is the minimum gap between user-triggered syncs per shop.
const syncCooldown = 5 * time.Minute

// handleSync runs a bounded inline sync for one connection. User-triggered
// syncs hold a per-shop cooldown; scheduled syncs bypass this path entirely.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shop  string `json:"shop"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Shop == "" || req.Email == "" {
		badRequest(w, "shop and email are required")
		return
	}

	ctx := r.Context()
	conn, err := s.repo.GetConnectionByShop(ctx, req.Shop)
	if err != nil {
		writeError(w, err)
		return
	}
	tenant, err := s.repo.GetTenantByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if conn == nil || tenant == nil || conn.TenantID != tenant.ID {
		writeError(w, fault.New(fault.KindNotFound, "no connection for this shop"))
		return
	}

	acquired, _, err := s.broker.Cooldown(ctx, "sync:"+req.Shop, syncCooldown)
	if err != nil {
		writeError(w, err)
		return
	}
	if !acquired {
		lastSync, _ := s.repo.LastSyncAt(ctx, conn.ID)
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":     "rate_limited",
			"last_sync": lastSync,
		})
		return
	}

	counts, err := s.ing.SyncInline(ctx, conn, uuid.NewString(), s.norm)
	if err != nil {
		writeError(w, err)
		return
	}

	lastSync, err := s.repo.LastSyncAt(ctx, conn.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sync": lastSync,
		"synced": map[string]int{
			"products":  counts.Products,
			"orders":    counts.Orders,
			"inventory": counts.Inventory,
		},
	})
}

// handleAnalyze runs the commerce analysis synchronously and returns the
// bundle. Free-tier tenants are capped by the solve counter.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID   string           `json:"store_id,omitempty"`
		UserID    int64            `json:"user_id,omitempty"`
		Email     string           `json:"email,omitempty"`
		Modules   []string         `json:"modules,omitempty"`
		UserCosts derive.UserCosts `json:"user_costs,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed body")
		return
	}

	ctx := r.Context()
	var tenant *models.Tenant
	var err error
	switch {
	case req.UserID > 0:
		tenant, err = s.repo.GetTenantByID(ctx, req.UserID)
	case req.Email != "":
		tenant, err = s.repo.GetTenantByEmail(ctx, req.Email)
	default:
		badRequest(w, "user_id or email is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil {
		writeError(w, fault.New(fault.KindNotFound, "tenant not found"))
		return
	}
	if tenant.Plan != models.PlanPro && tenant.SolveCount >= models.FreeSolveLimit {
		writeError(w, fault.New(fault.KindForbidden, "free plan solve limit reached"))
		return
	}

	// An analysis against connected source data carries its provenance tag.
	source := models.SourceManual
	if req.StoreID != "" {
		conn, err := s.repo.GetConnectionByShop(ctx, req.StoreID)
		if err != nil {
			writeError(w, err)
			return
		}
		if conn != nil && conn.TenantID == tenant.ID {
			source = models.SourceManualWithSource
		}
	}

	bundle, err := s.engine.RunAnalysis(ctx, tenant.ID, req.UserCosts, req.Modules, source)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.repo.IncrementSolveCount(ctx, tenant.ID); err != nil {
		log.Printf("[api] increment solve count for tenant %d: %v", tenant.ID, err)
	}

	writeJSON(w, http.StatusOK, bundle)
}

// handleListAnalyses replays recent persisted analysis rows for a shop.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		badRequest(w, "store_id is required")
		return
	}

	ctx := r.Context()
	conn, err := s.repo.GetConnectionByShop(ctx, storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conn == nil {
		writeError(w, fault.New(fault.KindNotFound, "no connection for this shop"))
		return
	}

	limit, offset := paging(r)
	analyses, err := s.repo.ListAnalyses(ctx, conn.TenantID, r.URL.Query().Get("module"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  analyses,
		"limit": limit,
		"page":  offset/limit + 1,
	})
}

// seedCommissions is the static commission dictionary applied by reindex.
// Memberships come from no ingested source; only the commission rows exist.
var seedCommissions = []models.Commission{
	{ExternalID: "presupuesto", Name: "Presupuesto y Hacienda", Chamber: "deputies"},
	{ExternalID: "educacion", Name: "Educacion", Chamber: "deputies"},
	{ExternalID: "salud", Name: "Accion Social y Salud Publica", Chamber: "deputies"},
	{ExternalID: "justicia", Name: "Justicia", Chamber: "deputies"},
	{ExternalID: "energia", Name: "Energia y Combustibles", Chamber: "deputies"},
}

// handleReindex refreshes derived dictionaries and reports corpus counts for
// the search indexer, which consumes the read API externally.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantScope(r)

	for i := range seedCommissions {
		c := seedCommissions[i]
		c.TenantID = tenantID
		if _, err := s.repo.UpsertCommission(ctx, &c); err != nil {
			writeError(w, err)
			return
		}
	}

	legislators, err := s.repo.CountLegislators(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	bills, err := s.repo.CountBills(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"legislators": legislators,
		"bills":       bills,
	})
}
