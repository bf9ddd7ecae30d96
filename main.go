package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"civicsync/internal/adapters"
	"civicsync/internal/api"
	"civicsync/internal/blob"
	"civicsync/internal/config"
	"civicsync/internal/derive"
	"civicsync/internal/eventbus"
	"civicsync/internal/fault"
	"civicsync/internal/feed"
	"civicsync/internal/ingester"
	"civicsync/internal/models"
	"civicsync/internal/normalizer"
	"civicsync/internal/queue"
	"civicsync/internal/repository"
	"civicsync/internal/scheduler"
	"civicsync/internal/webhooks"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("Starting civicsync (%s)...", BuildCommit)
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %s", cfg.APIPort)

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	// Auto-migration (skip with SKIP_MIGRATION=true for API-only containers).
	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database Migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running Database Migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database Migration Complete.")
	}

	qc, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue broker: %v", err)
	}
	defer qc.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := qc.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Queue broker unreachable: %v", err)
	}
	pingCancel()

	blobs, err := blob.NewFSStore(cfg.BlobRoot)
	if err != nil {
		log.Fatalf("Failed to open blob store at %s: %v", cfg.BlobRoot, err)
	}

	shopify := adapters.NewShopifyAdapter(
		cfg.ShopifyClientID, cfg.ShopifyClientSecret,
		strings.Join(cfg.ShopifyScopes, ","), cfg.AppBaseURL)

	ing := ingester.New(repo, blobs, qc)
	ing.Register(shopify)
	if ckan := ckanFromEnv(); ckan != nil {
		ing.Register(ckan)
		log.Printf("CKAN adapter enabled: %s (%d resources)", ckan.BaseURL, len(ckan.Resources))
	}

	norm := normalizer.New(repo, blobs, qc)
	engine := derive.NewEngine(repo, qc)
	bus := eventbus.New()
	builder := feed.NewBuilder(repo, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	ingestPool := queue.NewPool(qc, queue.QueueIngest, cfg.IngestConcurrency)
	ingestPool.Register("ingest:all", func(ctx context.Context, job *queue.Job) error {
		n, err := ing.SyncAll(ctx)
		if err != nil {
			return err
		}
		log.Printf("[ingest] fanned out %d connection sync(s)", n)
		return nil
	})
	ingestPool.Register("ingest:connection", func(ctx context.Context, job *queue.Job) error {
		var p struct {
			ConnectionID int64  `json:"connection_id"`
			Trigger      string `json:"trigger"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fault.Wrap(fault.KindSchema, "decode ingest:connection payload", err)
		}
		conn, err := repo.GetConnectionByID(ctx, p.ConnectionID)
		if err != nil {
			return err
		}
		if conn == nil {
			return fault.New(fault.KindNotFound, fmt.Sprintf("connection %d is gone", p.ConnectionID))
		}
		_, err = ing.SyncConnection(ctx, conn, job.ID)
		return err
	})
	ingestPool.Start(ctx, &wg)

	normalizePool := queue.NewPool(qc, queue.QueueNormalize, cfg.NormalizeConcurrency)
	normalizePool.Register("normalize:ref", func(ctx context.Context, job *queue.Job) error {
		var p struct {
			TenantID    int64 `json:"tenant_id"`
			SourceRefID int64 `json:"source_ref_id"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fault.Wrap(fault.KindSchema, "decode normalize:ref payload", err)
		}
		res, err := norm.Run(ctx, p.TenantID, p.SourceRefID)
		if err != nil {
			return err
		}
		log.Printf("[normalize] ref %d: %d processed, %d skipped, %d errored",
			p.SourceRefID, res.Processed, res.Skipped, res.Errored)
		return nil
	})
	normalizePool.Start(ctx, &wg)

	metricsPool := queue.NewPool(qc, queue.QueueMetrics, cfg.MetricsConcurrency)
	metricsPool.Register("recompute", func(ctx context.Context, job *queue.Job) error {
		var p struct {
			Kind         string `json:"kind"`
			TenantID     int64  `json:"tenant_id"`
			LegislatorID int64  `json:"legislator_id"`
			Period       string `json:"period"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fault.Wrap(fault.KindSchema, "decode recompute payload", err)
		}
		switch p.Kind {
		case "metrics":
			period := p.Period
			if period == "" {
				period = strconv.Itoa(time.Now().UTC().Year())
			}
			_, err := engine.RecomputeMetrics(ctx, p.TenantID, p.LegislatorID, period)
			return err
		case "analysis":
			_, err := engine.RunAnalysis(ctx, p.TenantID, derive.UserCosts{}, nil, models.SourceShopifyAuto)
			return err
		default:
			return fault.New(fault.KindSchema, "unknown recompute kind "+p.Kind)
		}
	})
	metricsPool.Register("metrics:recompute-all", func(ctx context.Context, job *queue.Job) error {
		// Legislative data ingests under tenant 0; sweep any tenant-scoped
		// CKAN connections too.
		tenants := map[int64]bool{0: true}
		conns, err := repo.ListConnections(ctx, "ckan")
		if err != nil {
			return err
		}
		for _, c := range conns {
			tenants[c.TenantID] = true
		}
		for id := range tenants {
			done, err := engine.RecomputeAll(ctx, id)
			if err != nil {
				return err
			}
			log.Printf("[metrics] tenant %d: recomputed %d legislator(s)", id, done)
		}
		return nil
	})
	metricsPool.Start(ctx, &wg)

	feedPool := queue.NewPool(qc, queue.QueueFeed, cfg.FeedConcurrency)
	feedPool.Register("feed:event", func(ctx context.Context, job *queue.Job) error {
		_, err := builder.HandleEvent(ctx, job.Payload)
		return err
	})
	feedPool.Start(ctx, &wg)

	entries, err := scheduler.LoadEntries(cfg.SchedulesFile)
	if err != nil {
		log.Fatalf("Schedules: %v", err)
	}
	sched := scheduler.New(qc, entries)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Scheduler: %v", err)
	}

	wh := webhooks.NewHandler(cfg.ShopifyClientSecret, repo, qc)
	server := api.NewServer(cfg, api.Deps{
		Repo:      repo,
		Broker:    qc,
		Ingester:  ing,
		Norm:      norm,
		Engine:    engine,
		Shopify:   shopify,
		Bus:       bus,
		Webhooks:  wh,
		Scheduler: sched,
	})

	go func() {
		log.Printf("[api] listening on :%s", cfg.APIPort)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown: %v", err)
	}
	wg.Wait()
	log.Println("Shutdown complete.")
}

// ckanFromEnv builds the CKAN adapter when a portal is configured. Each
// resource id maps one data type; unset resources are simply not fetched.
func ckanFromEnv() *adapters.CKANAdapter {
	base := strings.TrimSpace(os.Getenv("CKAN_BASE_URL"))
	if base == "" {
		return nil
	}
	resources := map[string]string{}
	for dataType, env := range map[string]string{
		adapters.DataLegislators: "CKAN_RESOURCE_LEGISLATORS",
		adapters.DataBills:       "CKAN_RESOURCE_BILLS",
		adapters.DataVotes:       "CKAN_RESOURCE_VOTES",
		adapters.DataSessions:    "CKAN_RESOURCE_SESSIONS",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			resources[dataType] = v
		}
	}
	if len(resources) == 0 {
		return nil
	}
	return adapters.NewCKANAdapter(strings.TrimRight(base, "/"), resources)
}

func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
