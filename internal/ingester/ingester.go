// Package ingester orchestrates one sync: fetch raw payloads through a
// source adapter, store them write-once in the blob store, record the
// SourceRef with checksum dedup and hand new refs to the normalize queue.
package ingester

import (
	"context"
	"fmt"
	"log"

	"civicsync/internal/adapters"
	"civicsync/internal/blob"
	"civicsync/internal/fault"
	"civicsync/internal/models"
	"civicsync/internal/normalizer"
	"civicsync/internal/queue"
)

type store interface {
	StartIngestionRun(ctx context.Context, runID, source, dataType string, tenantID *int64) (int64, error)
	CompleteIngestionRun(ctx context.Context, id int64, processed, skipped, errored int) error
	FailIngestionRun(ctx context.Context, id int64, detail string) error
	RecordFetch(ctx context.Context, ref *models.SourceRef) (*models.SourceRef, bool, error)
	SetConnectionStatus(ctx context.Context, connectionID int64, status, syncError string) error
	ListConnections(ctx context.Context, source string) ([]models.Connection, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error)
}

// normalizeRunner is the inline-sync hook: the OAuth callback normalizes
// synchronously so the user returns to an app that already has data.
type normalizeRunner interface {
	Run(ctx context.Context, tenantID, sourceRefID int64) (*normalizer.Result, error)
}

// Ingester runs syncs for registered adapters.
type Ingester struct {
	repo     store
	blobs    blob.Store
	queue    enqueuer
	adapters map[string]adapters.Adapter
}

func New(repo store, blobs blob.Store, q enqueuer) *Ingester {
	return &Ingester{repo: repo, blobs: blobs, queue: q, adapters: map[string]adapters.Adapter{}}
}

func (i *Ingester) Register(a adapters.Adapter) {
	i.adapters[a.Source()] = a
}

func (i *Ingester) Adapter(source string) (adapters.Adapter, bool) {
	a, ok := i.adapters[source]
	return a, ok
}

// DataTypeResult reports one data type of a sync.
type DataTypeResult struct {
	DataType    string
	SourceRefID int64
	New         bool
	Err         error
}

// SyncResult aggregates one connection sync.
type SyncResult struct {
	Results []DataTypeResult
}

func (r *SyncResult) failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// fetchOne pulls one data type, stores the blob and records the ref. runID is
// the queue job id so retries stay traceable to one job.
func (i *Ingester) fetchOne(ctx context.Context, a adapters.Adapter, conn *models.Connection, dataType, runID string) (DataTypeResult, error) {
	out := DataTypeResult{DataType: dataType}

	runRowID, err := i.repo.StartIngestionRun(ctx, runID, a.Source(), dataType, &conn.TenantID)
	if err != nil {
		return out, fault.Wrap(fault.KindTransient, "start ingestion run", err)
	}

	payload, err := a.Fetch(ctx, conn, dataType)
	if err != nil {
		if failErr := i.repo.FailIngestionRun(ctx, runRowID, err.Error()); failErr != nil {
			log.Printf("[ingester] fail run %d: %v", runRowID, failErr)
		}
		return out, err
	}

	location, err := i.blobs.Put(ctx, dataType, payload.Body)
	if err != nil {
		wrapped := fault.Wrap(fault.KindTransient, "store blob", err)
		if failErr := i.repo.FailIngestionRun(ctx, runRowID, wrapped.Error()); failErr != nil {
			log.Printf("[ingester] fail run %d: %v", runRowID, failErr)
		}
		return out, wrapped
	}

	ref, isNew, err := i.repo.RecordFetch(ctx, &models.SourceRef{
		IngestionRunID: runRowID,
		SourceKey:      payload.SourceKey,
		SourceType:     payload.Source,
		DataType:       dataType,
		Checksum:       blob.Checksum(payload.Body),
		BlobLocation:   location,
	})
	if err != nil {
		wrapped := fault.Wrap(fault.KindTransient, "record fetch", err)
		if failErr := i.repo.FailIngestionRun(ctx, runRowID, wrapped.Error()); failErr != nil {
			log.Printf("[ingester] fail run %d: %v", runRowID, failErr)
		}
		return out, wrapped
	}

	out.SourceRefID = ref.ID
	out.New = isNew

	// An unchanged checksum completes the run with one skip and enqueues
	// nothing: the previous ref already went through the normalizer.
	if !isNew {
		if err := i.repo.CompleteIngestionRun(ctx, runRowID, 0, 1, 0); err != nil {
			return out, fault.Wrap(fault.KindTransient, "complete ingestion run", err)
		}
		return out, nil
	}

	if err := i.repo.CompleteIngestionRun(ctx, runRowID, 1, 0, 0); err != nil {
		return out, fault.Wrap(fault.KindTransient, "complete ingestion run", err)
	}
	return out, nil
}

// SyncConnection fetches every data type the adapter exposes and enqueues a
// normalize job per new SourceRef. The connection status reflects the
// outcome; an auth failure marks it error immediately.
func (i *Ingester) SyncConnection(ctx context.Context, conn *models.Connection, runID string) (*SyncResult, error) {
	a, ok := i.adapters[conn.Source]
	if !ok {
		return nil, fault.New(fault.KindConfig, "no adapter for source "+conn.Source)
	}

	if err := i.repo.SetConnectionStatus(ctx, conn.ID, models.SyncSyncing, ""); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "mark syncing", err)
	}

	result := &SyncResult{}
	for _, dataType := range a.DataTypes() {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		res, err := i.fetchOne(ctx, a, conn, dataType, runID)
		res.Err = err
		result.Results = append(result.Results, res)

		if fault.Is(err, fault.KindAuth) {
			if setErr := i.repo.SetConnectionStatus(ctx, conn.ID, models.SyncError, err.Error()); setErr != nil {
				log.Printf("[ingester] mark connection %d error: %v", conn.ID, setErr)
			}
			return result, err
		}
		if err != nil {
			log.Printf("[ingester] %s/%s fetch failed: %v", conn.Source, dataType, err)
			continue
		}
		if res.New {
			payload := map[string]interface{}{
				"tenant_id":     conn.TenantID,
				"source_ref_id": res.SourceRefID,
			}
			if _, err := i.queue.Enqueue(ctx, queue.QueueNormalize, "normalize:ref", payload, nil); err != nil {
				log.Printf("[ingester] enqueue normalize ref %d: %v", res.SourceRefID, err)
			}
		}
	}

	if failed := result.failed(); failed > 0 {
		err := i.repo.SetConnectionStatus(ctx, conn.ID, models.SyncError,
			fmt.Sprintf("%d of %d data types failed", failed, len(result.Results)))
		if err != nil {
			return result, err
		}
		return result, nil
	}

	if err := i.repo.SetConnectionStatus(ctx, conn.ID, models.SyncSynced, ""); err != nil {
		return result, err
	}
	return result, nil
}

// InlineCounts are the normalized record counts of an inline initial sync.
type InlineCounts struct {
	Products  int
	Orders    int
	Inventory int
}

// SyncInline is the OAuth-callback critical section: fetch, record and
// normalize synchronously so the redirect can carry real counts. Any failure
// leaves the connection marked error; the caller reports it and moves on.
func (i *Ingester) SyncInline(ctx context.Context, conn *models.Connection, runID string, norm normalizeRunner) (*InlineCounts, error) {
	result, err := i.SyncConnection(ctx, conn, runID)
	if err != nil {
		return nil, err
	}

	counts := &InlineCounts{}
	for _, res := range result.Results {
		if res.Err != nil || !res.New {
			continue
		}
		nres, err := norm.Run(ctx, conn.TenantID, res.SourceRefID)
		if err != nil {
			if setErr := i.repo.SetConnectionStatus(ctx, conn.ID, models.SyncError, err.Error()); setErr != nil {
				log.Printf("[ingester] mark connection %d error: %v", conn.ID, setErr)
			}
			return nil, err
		}
		switch res.DataType {
		case adapters.DataProducts:
			counts.Products = nres.Processed
		case adapters.DataOrders:
			counts.Orders = nres.Processed
		case adapters.DataInventory:
			counts.Inventory = nres.Processed
		}
	}
	return counts, nil
}

// SyncAll fans one per-connection ingest job out for every registered source.
// Used by the scheduler's ingest:all job.
func (i *Ingester) SyncAll(ctx context.Context) (int, error) {
	enqueued := 0
	for source := range i.adapters {
		conns, err := i.repo.ListConnections(ctx, source)
		if err != nil {
			return enqueued, fmt.Errorf("list %s connections: %w", source, err)
		}
		for _, conn := range conns {
			payload := map[string]interface{}{
				"connection_id": conn.ID,
				"trigger":       "schedule",
			}
			if _, err := i.queue.Enqueue(ctx, queue.QueueIngest, "ingest:connection", payload, nil); err != nil {
				return enqueued, err
			}
			enqueued++
		}
	}
	return enqueued, nil
}
