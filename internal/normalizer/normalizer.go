// Package normalizer turns raw fetched payloads into typed domain rows.
// Handlers are strict: a payload that does not match its declared schema
// marks the SourceRef error and nothing is upserted. All upserts key on
// (tenant, external_id) so replaying a payload is a no-op.
package normalizer

import (
	"context"
	"fmt"
	"log"

	"civicsync/internal/blob"
	"civicsync/internal/fault"
	"civicsync/internal/models"
	"civicsync/internal/queue"
)

// store is the repository slice the normalizer needs.
type store interface {
	GetSourceRef(ctx context.Context, id int64) (*models.SourceRef, error)
	MarkSourceRef(ctx context.Context, id int64, status string) error

	UpsertProduct(ctx context.Context, p *models.Product) (int64, bool, error)
	UpsertOrder(ctx context.Context, o *models.Order) (int64, bool, error)
	UpsertInventoryLevel(ctx context.Context, lvl *models.InventoryLevel) error

	UpsertLegislator(ctx context.Context, l *models.Legislator) (int64, bool, error)
	GetLegislatorByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Legislator, error)
	UpsertBill(ctx context.Context, b *models.Bill) (int64, bool, string, error)
	SetBillStatus(ctx context.Context, billID int64, status string) error
	AppendBillMovement(ctx context.Context, m *models.BillMovement) (*models.BillMovement, bool, error)
	UpsertBillAuthor(ctx context.Context, billID, legislatorID int64, role string) error
	UpsertSession(ctx context.Context, s *models.Session) (int64, error)
	UpsertVoteEvent(ctx context.Context, v *models.VoteEvent) (int64, bool, error)
	UpsertVoteResult(ctx context.Context, voteEventID, legislatorID int64, vote string) error
	UpsertAttendance(ctx context.Context, a *models.Attendance) (bool, error)
	GetBillByExternalID(ctx context.Context, tenantID int64, externalID string) (*models.Bill, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.Options) (string, error)
}

// Normalizer runs the per-data-type handlers.
type Normalizer struct {
	repo  store
	blobs blob.Store
	queue enqueuer
}

func New(repo store, blobs blob.Store, q enqueuer) *Normalizer {
	return &Normalizer{repo: repo, blobs: blobs, queue: q}
}

// Result counts one normalization batch.
type Result struct {
	Processed int
	Skipped   int
	Errored   int
}

// batch accumulates the follow-up work of one payload: recompute targets,
// deduplicated, and feed events in occurrence order.
type batch struct {
	Result
	recompute map[string]map[string]interface{}
	feed      []map[string]interface{}
}

func newBatch() *batch {
	return &batch{recompute: map[string]map[string]interface{}{}}
}

func (b *batch) markRecompute(key string, payload map[string]interface{}) {
	b.recompute[key] = payload
}

func (b *batch) emitFeed(payload map[string]interface{}) {
	b.feed = append(b.feed, payload)
}

// Run normalizes one SourceRef. Schema mismatches mark the ref error and are
// not retried; storage faults are left transient for the queue to retry.
func (n *Normalizer) Run(ctx context.Context, tenantID, sourceRefID int64) (*Result, error) {
	ref, err := n.repo.GetSourceRef(ctx, sourceRefID)
	if err != nil {
		return nil, fmt.Errorf("load source ref %d: %w", sourceRefID, err)
	}
	if ref == nil {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("source ref %d", sourceRefID))
	}

	body, err := n.blobs.Get(ctx, ref.BlobLocation)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "read blob "+ref.BlobLocation, err)
	}

	b := newBatch()
	switch ref.SourceType + "/" + ref.DataType {
	case "shopify/products":
		err = n.normalizeProducts(ctx, tenantID, ref, body, b)
	case "shopify/orders":
		err = n.normalizeOrders(ctx, tenantID, ref, body, b)
	case "shopify/inventory":
		err = n.normalizeInventory(ctx, tenantID, ref, body, b)
	case "ckan/legislators":
		err = n.normalizeLegislators(ctx, tenantID, ref, body, b)
	case "ckan/bills":
		err = n.normalizeBills(ctx, tenantID, ref, body, b)
	case "ckan/votes":
		err = n.normalizeVotes(ctx, tenantID, ref, body, b)
	case "ckan/sessions":
		err = n.normalizeSessions(ctx, tenantID, ref, body, b)
	default:
		err = fault.New(fault.KindSchema, fmt.Sprintf("no handler for %s/%s", ref.SourceType, ref.DataType))
	}
	if err != nil {
		if fault.Is(err, fault.KindSchema) {
			if markErr := n.repo.MarkSourceRef(ctx, ref.ID, models.RefError); markErr != nil {
				log.Printf("[normalizer] mark ref %d error: %v", ref.ID, markErr)
			}
		}
		return nil, err
	}

	if err := n.repo.MarkSourceRef(ctx, ref.ID, models.RefNormalized); err != nil {
		return nil, fmt.Errorf("mark ref %d normalized: %w", ref.ID, err)
	}

	n.flush(ctx, b)
	return &b.Result, nil
}

// flush enqueues the batch's follow-up jobs. Failures are logged: the rows
// are already committed and the nightly recompute sweeps up anything missed.
func (n *Normalizer) flush(ctx context.Context, b *batch) {
	for key, payload := range b.recompute {
		if _, err := n.queue.Enqueue(ctx, queue.QueueMetrics, "recompute", payload, nil); err != nil {
			log.Printf("[normalizer] enqueue recompute %s: %v", key, err)
		}
	}
	for _, payload := range b.feed {
		if _, err := n.queue.Enqueue(ctx, queue.QueueFeed, "feed:event", payload, nil); err != nil {
			log.Printf("[normalizer] enqueue feed event: %v", err)
		}
	}
}
