package models

import (
	"encoding/json"
	"time"
)

// Tenant represents the 'tenants' table. A tenant is created on the first
// successful identity handshake and is never hard-deleted.
type Tenant struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Picture    string    `json:"picture,omitempty"`
	Plan       string    `json:"plan"` // free, pro
	SolveCount int       `json:"solve_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Plan tiers.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// FreeSolveLimit is the number of solves a free-tier tenant gets.
const FreeSolveLimit = 15

// Connection binds a tenant to one external source. The access token is a
// secret: it is read by workers and never serialized to API responses.
type Connection struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Source      string     `json:"source"` // shopify, ckan
	ShopDomain  string     `json:"shop_domain"`
	AccessToken string     `json:"-"`
	Scopes      string     `json:"scopes,omitempty"`
	SyncStatus  string     `json:"sync_status"` // pending, syncing, synced, error
	SyncError   string     `json:"sync_error,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	// Strike counter for consecutive webhook signature failures.
	AuthStrikes int       `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Connection sync states.
const (
	SyncPending = "pending"
	SyncSyncing = "syncing"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// SourceRef is the append-only audit record of one raw fetch.
type SourceRef struct {
	ID             int64     `json:"id"`
	IngestionRunID int64     `json:"ingestion_run_id"`
	SourceKey      string    `json:"source_key"`
	SourceType     string    `json:"source_type"` // shopify, ckan
	DataType       string    `json:"data_type"`
	Checksum       string    `json:"checksum"` // sha256 hex of the canonical payload
	BlobLocation   string    `json:"blob_location"`
	Status         string    `json:"status"` // stored, normalized, error
	FetchedAt      time.Time `json:"fetched_at"`
}

// SourceRef statuses.
const (
	RefStored     = "stored"
	RefNormalized = "normalized"
	RefError      = "error"
)

// IngestionRun is one invocation of one adapter.
type IngestionRun struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id"` // uuid, stable across retries
	Source           string     `json:"source"`
	DataType         string     `json:"data_type"`
	TenantID         *int64     `json:"tenant_id,omitempty"`
	Status           string     `json:"status"` // running, completed, failed
	RecordsProcessed int        `json:"records_processed"`
	RecordsSkipped   int        `json:"records_skipped"`
	RecordsErrored   int        `json:"records_errored"`
	ErrorDetail      string     `json:"error_detail,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// IngestionRun statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Product represents the 'products' table (commerce vertical).
type Product struct {
	ID           int64           `json:"id"`
	TenantID     int64           `json:"tenant_id"`
	ExternalID   string          `json:"external_id"`
	Title        string          `json:"title"`
	Vendor       string          `json:"vendor,omitempty"`
	Price        *float64        `json:"price,omitempty"`
	CostPerItem  *float64        `json:"cost_per_item,omitempty"`
	InventoryQty int             `json:"inventory_quantity"`
	Tags         []string        `json:"tags,omitempty"`
	Variants     json.RawMessage `json:"variants,omitempty"` // verbatim variant list, JSONB
	SourceRefID  int64           `json:"source_ref_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Order represents the 'orders' table.
type Order struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	ExternalID    string          `json:"external_id"`
	Ordinal       int             `json:"ordinal"` // shop-local order number
	TotalPrice    float64         `json:"total_price"`
	Status        string          `json:"status"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	LineItems     json.RawMessage `json:"line_items,omitempty"` // JSONB
	OrderDate     time.Time       `json:"order_date"`
	SourceRefID   int64           `json:"source_ref_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderLineItem is the parsed shape of one element of Order.LineItems.
type OrderLineItem struct {
	ProductID string  `json:"product_id"`
	VariantID string  `json:"variant_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// InventoryLevel represents the 'inventory_levels' table.
type InventoryLevel struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	VariantID   string    `json:"variant_id"`
	LocationID  string    `json:"location_id"`
	Quantity    int       `json:"quantity"`
	SourceRefID int64     `json:"source_ref_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Legislator represents the 'legislators' table (legislative vertical).
type Legislator struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	ExternalID  string     `json:"external_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Block       string     `json:"block,omitempty"`
	Province    string     `json:"province,omitempty"`
	Chamber     string     `json:"chamber,omitempty"` // deputies, senate
	Active      bool       `json:"active"`
	TermStart   *time.Time `json:"term_start,omitempty"`
	TermEnd     *time.Time `json:"term_end,omitempty"`
	SourceRefID int64      `json:"source_ref_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Bill represents the 'bills' table.
type Bill struct {
	ID            int64      `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	ExternalID    string     `json:"external_id"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	Type          string     `json:"type,omitempty"` // law, resolution, declaration
	Period        string     `json:"period,omitempty"`
	PresentedDate *time.Time `json:"presented_date,omitempty"`
	SourceRefID   int64      `json:"source_ref_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Movements []BillMovement `json:"movements,omitempty"` // for bill details
	Authors   []BillAuthor   `json:"authors,omitempty"`
}

// Bill statuses, in pipeline order. REJECTED and later are parallel terminal
// states reachable from anywhere.
const (
	BillPresented         = "PRESENTED"
	BillInCommittee       = "IN_COMMITTEE"
	BillWithOpinion       = "WITH_OPINION"
	BillApprovedCommittee = "APPROVED_COMMITTEE"
	BillFloorVote         = "FLOOR_VOTE"
	BillApprovedChamber   = "APPROVED_CHAMBER"
	BillSentToOther       = "SENT_TO_OTHER_CHAMBER"
	BillApproved          = "APPROVED"
	BillRejected          = "REJECTED"
	BillWithdrawn         = "WITHDRAWN"
	BillExpired           = "EXPIRED"
	BillArchived          = "ARCHIVED"
)

// BillMovement is one step in a bill's history. order_index is contiguous
// from 0 per bill and is the only total order exposed to consumers.
type BillMovement struct {
	ID          int64     `json:"id"`
	BillID      int64     `json:"bill_id"`
	OrderIndex  int       `json:"order_index"`
	Description string    `json:"description"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	Date        time.Time `json:"date"`
	SourceRefID int64     `json:"source_ref_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// BillAuthor links a bill to a legislator with a role.
type BillAuthor struct {
	BillID       int64  `json:"bill_id"`
	LegislatorID int64  `json:"legislator_id"`
	Role         string `json:"role"` // AUTHOR, COAUTHOR
}

// Bill author roles.
const (
	RoleAuthor   = "AUTHOR"
	RoleCoauthor = "COAUTHOR"
)

// VoteEvent represents the 'vote_events' table. Tallies are authoritative
// from the feed, not recomputed locally.
type VoteEvent struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	ExternalID  string    `json:"external_id"`
	SessionID   *int64    `json:"session_id,omitempty"`
	BillID      *int64    `json:"bill_id,omitempty"`
	Title       string    `json:"title"`
	Affirmative int       `json:"affirmative"`
	Negative    int       `json:"negative"`
	Abstention  int       `json:"abstention"`
	Absent      int       `json:"absent"`
	Result      string    `json:"result,omitempty"`
	Date        time.Time `json:"date"`
	SourceRefID int64     `json:"source_ref_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VoteResult is one legislator's vote in a vote event.
type VoteResult struct {
	VoteEventID  int64  `json:"vote_event_id"`
	LegislatorID int64  `json:"legislator_id"`
	Vote         string `json:"vote"` // AFFIRM, NEG, ABST, ABSENT
}

// Vote values.
const (
	VoteAffirm = "AFFIRM"
	VoteNeg    = "NEG"
	VoteAbst   = "ABST"
	VoteAbsent = "ABSENT"
)

// Attendance represents the 'attendance' table.
type Attendance struct {
	ID           int64  `json:"id"`
	TenantID     int64  `json:"tenant_id"`
	SessionID    int64  `json:"session_id"`
	LegislatorID int64  `json:"legislator_id"`
	Status       string `json:"status"` // PRESENT, ABSENT
	SourceRefID  int64  `json:"source_ref_id"`
}

// Attendance statuses.
const (
	AttendancePresent = "PRESENT"
	AttendanceAbsent  = "ABSENT"
)

// Session represents the 'sessions' table.
type Session struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	ExternalID  string    `json:"external_id"`
	Date        time.Time `json:"date"`
	Kind        string    `json:"kind,omitempty"`
	SourceRefID int64     `json:"source_ref_id"`
}

// Commission represents the 'commissions' table. Memberships are seeded via
// reindex only; no adapter ingests them.
type Commission struct {
	ID         int64  `json:"id"`
	TenantID   int64  `json:"tenant_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Chamber    string `json:"chamber,omitempty"`
}

// CommissionMember links a legislator to a commission.
type CommissionMember struct {
	CommissionID int64  `json:"commission_id"`
	LegislatorID int64  `json:"legislator_id"`
	Role         string `json:"role,omitempty"`
}

// LegislatorMetric is the derived per-(legislator, period) row.
type LegislatorMetric struct {
	LegislatorID           int64     `json:"legislator_id"`
	Period                 string    `json:"period"` // calendar year, e.g. "2026"
	BillsAuthored          int       `json:"bills_authored"`
	BillsCosigned          int       `json:"bills_cosigned"`
	BillsWithAdvancement   int       `json:"bills_with_advancement"`
	AdvancementRate        float64   `json:"advancement_rate"`
	AttendanceRate         float64   `json:"attendance_rate"`
	VoteParticipationRate  float64   `json:"vote_participation_rate"`
	CommissionsCount       int       `json:"commissions_count"`
	MonthsInOffice         int       `json:"months_in_office"`
	NormalizedProductivity float64   `json:"normalized_productivity"`
	ComputedAt             time.Time `json:"computed_at"`
}

// Analysis is one persisted commerce analysis module run.
type Analysis struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	Module    string          `json:"module"` // STOCK, FORECAST, MARGIN, CASHFLOW
	Inputs    json.RawMessage `json:"inputs,omitempty"`
	Outputs   json.RawMessage `json:"outputs,omitempty"`
	Insight   string          `json:"insight,omitempty"`
	Source    string          `json:"source"` // manual, shopify_auto, manual_with_source
	CreatedAt time.Time       `json:"created_at"`
}

// Analysis modules.
const (
	ModuleStock    = "STOCK"
	ModuleForecast = "FORECAST"
	ModuleMargin   = "MARGIN"
	ModuleCashflow = "CASHFLOW"
)

// Analysis sources.
const (
	SourceManual           = "manual"
	SourceShopifyAuto      = "shopify_auto"
	SourceManualWithSource = "manual_with_source"
)

// FeedPost is one entry of the chronological activity feed. TenantID of 0
// means tenant-global.
type FeedPost struct {
	ID          int64           `json:"id"`
	TenantID    int64           `json:"tenant_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	EntityKind  string          `json:"entity_kind,omitempty"`
	EntityID    int64           `json:"entity_id,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SourceRefID int64           `json:"source_ref_id,omitempty"`
	Auto        bool            `json:"auto"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Feed post types.
const (
	FeedBillCreated      = "BILL_CREATED"
	FeedBillMovement     = "BILL_MOVEMENT"
	FeedVoteResult       = "VOTE_RESULT"
	FeedAttendanceRecord = "ATTENDANCE_RECORD"
	FeedAnalysisReady    = "ANALYSIS_READY"
)
