// Package api is the HTTP surface: the OAuth handshake, the read API over the
// normalized model, the write triggers (sync, analyze, reindex), webhooks and
// the live feed websocket.
package api

import (
	"context"
	"net/http"
	"time"

	"civicsync/internal/adapters"
	"civicsync/internal/config"
	"civicsync/internal/derive"
	"civicsync/internal/eventbus"
	"civicsync/internal/ingester"
	"civicsync/internal/models"
	"civicsync/internal/normalizer"
	"civicsync/internal/repository"

	"github.com/gorilla/mux"
)

// store is the slice of the repository the API reads and writes.
type store interface {
	UpsertTenant(ctx context.Context, email, name, picture string) (*models.Tenant, error)
	GetTenantByEmail(ctx context.Context, email string) (*models.Tenant, error)
	GetTenantByID(ctx context.Context, id int64) (*models.Tenant, error)
	MostRecentProTenant(ctx context.Context) (*models.Tenant, error)
	IncrementSolveCount(ctx context.Context, tenantID int64) (int, error)

	UpsertConnection(ctx context.Context, tenantID int64, source, shopDomain, accessToken, scopes string) (*models.Connection, error)
	GetConnectionByShop(ctx context.Context, shopDomain string) (*models.Connection, error)
	GetConnectionForTenant(ctx context.Context, tenantID int64, source string) (*models.Connection, error)
	LastSyncAt(ctx context.Context, connectionID int64) (*time.Time, error)

	ListLegislators(ctx context.Context, tenantID int64, f repository.LegislatorFilter) ([]models.Legislator, error)
	GetLegislator(ctx context.Context, tenantID, id int64) (*models.Legislator, error)
	GetLegislatorMetric(ctx context.Context, legislatorID int64, period string) (*models.LegislatorMetric, error)
	ListBills(ctx context.Context, tenantID int64, f repository.BillFilter) ([]models.Bill, error)
	GetBill(ctx context.Context, tenantID, id int64) (*models.Bill, error)
	DistinctBlocks(ctx context.Context, tenantID int64) ([]string, error)
	DistinctProvinces(ctx context.Context, tenantID int64) ([]string, error)
	CountLegislators(ctx context.Context, tenantID int64) (int, error)
	CountBills(ctx context.Context, tenantID int64) (int, error)
	UpsertCommission(ctx context.Context, c *models.Commission) (int64, error)

	ListFeed(ctx context.Context, tenantID int64, f repository.FeedFilter) ([]models.FeedPost, error)
	GetFeedPost(ctx context.Context, tenantID, id int64) (*models.FeedPost, error)

	ListAnalyses(ctx context.Context, tenantID int64, module string, limit, offset int) ([]models.Analysis, error)

	LatestRuns(ctx context.Context, limit int) ([]models.IngestionRun, error)
	CountProducts(ctx context.Context, tenantID int64) (int, error)
	CountOrders(ctx context.Context, tenantID int64) (int, error)
}

// broker is the queue client surface the API needs.
type broker interface {
	Cooldown(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error)
	Depth(ctx context.Context, queueName string) (ready, delayed, dead int64, err error)
}

// analyzer runs the commerce analysis synchronously.
type analyzer interface {
	RunAnalysis(ctx context.Context, tenantID int64, costs derive.UserCosts, modules []string, source string) (*derive.Bundle, error)
}

type normalizeRunner interface {
	Run(ctx context.Context, tenantID, sourceRefID int64) (*normalizer.Result, error)
}

// cronFirer triggers one schedule entry by name.
type cronFirer interface {
	Fire(name string) bool
}

// Deps collects the server's collaborators.
type Deps struct {
	Repo      store
	Broker    broker
	Ingester  *ingester.Ingester
	Norm      normalizeRunner
	Engine    analyzer
	Shopify   *adapters.ShopifyAdapter
	Bus       *eventbus.Bus
	Webhooks  http.Handler
	Scheduler cronFirer
}

type Server struct {
	cfg        *config.Config
	repo       store
	broker     broker
	ing        *ingester.Ingester
	norm       normalizeRunner
	engine     analyzer
	shopify    *adapters.ShopifyAdapter
	bus        *eventbus.Bus
	webhooks   http.Handler
	sched      cronFirer
	httpServer *http.Server
}

func NewServer(cfg *config.Config, d Deps) *Server {
	s := &Server{
		cfg:      cfg,
		repo:     d.Repo,
		broker:   d.Broker,
		ing:      d.Ingester,
		norm:     d.Norm,
		engine:   d.Engine,
		shopify:  d.Shopify,
		bus:      d.Bus,
		webhooks: d.Webhooks,
		sched:    d.Scheduler,
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)
	s.registerRoutes(r)

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}
	return s
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")

	// OAuth handshake.
	r.HandleFunc("/connect", s.handleConnect).Methods("GET")
	r.HandleFunc("/callback", s.handleCallback).Methods("GET")

	// Change notifications.
	if s.webhooks != nil {
		r.Handle("/webhooks/shopify", s.webhooks).Methods("POST")
	}

	// Live feed.
	r.HandleFunc("/ws/feed", s.handleFeedWebSocket).Methods("GET")

	// Authenticated cron trigger for hosted schedulers.
	r.HandleFunc("/internal/cron/{name}", s.handleCronTrigger).Methods("POST")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/identity", s.handleIdentity).Methods("POST", "OPTIONS")
	v1.HandleFunc("/tenants/me", s.handleTenantMe).Methods("GET", "OPTIONS")
	v1.HandleFunc("/tenants/usage", s.handleTenantUsage).Methods("POST", "OPTIONS")

	v1.HandleFunc("/legislators", s.handleListLegislators).Methods("GET", "OPTIONS")
	v1.HandleFunc("/legislators/{id:[0-9]+}", s.handleGetLegislator).Methods("GET", "OPTIONS")
	v1.HandleFunc("/legislators/{id:[0-9]+}/metrics", s.handleLegislatorMetrics).Methods("GET", "OPTIONS")
	v1.HandleFunc("/legislators/{id:[0-9]+}/activity", s.handleLegislatorActivity).Methods("GET", "OPTIONS")
	v1.HandleFunc("/bills", s.handleListBills).Methods("GET", "OPTIONS")
	v1.HandleFunc("/bills/{id:[0-9]+}", s.handleGetBill).Methods("GET", "OPTIONS")
	v1.HandleFunc("/blocks", s.handleListBlocks).Methods("GET", "OPTIONS")
	v1.HandleFunc("/provinces", s.handleListProvinces).Methods("GET", "OPTIONS")

	v1.HandleFunc("/feed", s.handleListFeed).Methods("GET", "OPTIONS")
	v1.HandleFunc("/feed/{id:[0-9]+}", s.handleGetFeedPost).Methods("GET", "OPTIONS")

	v1.HandleFunc("/sync", s.handleSync).Methods("POST", "OPTIONS")
	v1.HandleFunc("/analyze", s.handleAnalyze).Methods("POST", "OPTIONS")
	v1.HandleFunc("/analyses", s.handleListAnalyses).Methods("GET", "OPTIONS")
	v1.HandleFunc("/reindex", s.handleReindex).Methods("POST", "OPTIONS")
}

// Handler exposes the route table for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
