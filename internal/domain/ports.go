package domain

import "time"

// ArtifactRepo persists uploaded artifacts and their stage transitions.
type ArtifactRepo interface {
	Create(ctx Context, a UploadedArtifact) (string, error)
	Get(ctx Context, id string) (UploadedArtifact, error)
	// Advance commits a stage transition together with the stage's work
	// product. expectUpdatedAt is the optimistic-concurrency token; a stale
	// token returns ErrStaleWrite and the write is discarded.
	Advance(ctx Context, a UploadedArtifact, expectUpdatedAt time.Time) error
	// BumpAttempt increments the per-stage attempt counter.
	BumpAttempt(ctx Context, id string, stage Stage) (int, error)
	FindBySourceMessage(ctx Context, source, externalID string) (UploadedArtifact, error)
}

// ProcessingLog is the append-only per-artifact audit trail.
type ProcessingLog interface {
	Append(ctx Context, e ProcessingLogEntry) error
	List(ctx Context, artifactID string) ([]ProcessingLogEntry, error)
	TruncateOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// FuzzyCandidate is one trigram-similarity hit from the catalog.
type FuzzyCandidate struct {
	Product    Product
	Similarity float64
}

// PatternCandidate is one substring/prefix hit with the matched length.
type PatternCandidate struct {
	Product  Product
	MatchLen int
	NameLen  int
}

// Catalog is the read-only product lookup surface used by normalization.
type Catalog interface {
	FindExact(ctx Context, nameKey string) (Product, bool, error)
	FindPattern(ctx Context, nameKey string) (PatternCandidate, bool, error)
	FindFuzzy(ctx Context, nameKey string, limit int) ([]FuzzyCandidate, error)
}

// VendorOffer pairs a vendor with its price/stock row for one product.
type VendorOffer struct {
	Vendor  Vendor
	Product VendorProduct
}

// VendorCatalog is the read-only vendor/offer lookup used by the selector.
type VendorCatalog interface {
	OffersFor(ctx Context, productID string) ([]VendorOffer, error)
}

// MetricsRepo stores per-vendor performance rows. Apply must serialize on
// the vendor row and be idempotent on event id.
type MetricsRepo interface {
	Get(ctx Context, vendorID string) (VendorMetrics, error)
	// Apply runs fn against the locked current row and persists the result
	// plus a history entry, unless eventID was already applied (no-op).
	Apply(ctx Context, vendorID, eventID string, fn func(m *VendorMetrics) error) (applied bool, err error)
	TruncateHistoryOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// BroadcastRepo writes RFQ broadcast rows atomically with their outbox rows.
type BroadcastRepo interface {
	// ExistingVendors returns vendor ids that already have a broadcast row
	// for (artifact, product); used for partial-broadcast resumption.
	ExistingVendors(ctx Context, artifactID, productID string) (map[string]bool, error)
	// InsertWithOutbox writes all broadcast rows for one item plus their
	// outbox rows in a single serializable transaction.
	InsertWithOutbox(ctx Context, rows []RFQBroadcast, outbox []OutboxRow) error
	ListByArtifact(ctx Context, artifactID string) ([]RFQBroadcast, error)
	// UpdateStatus applies a lifecycle transition (SENT -> RESPONDED etc).
	UpdateStatus(ctx Context, id string, status BroadcastStatus, at time.Time) error
}

// DecisionLog persists selector decisions for auditability.
type DecisionLog interface {
	Record(ctx Context, d SelectionDecision) error
}

// OutboxStore is the relay's view of pending side effects.
type OutboxStore interface {
	// ClaimBatch leases up to limit undispatched rows in (artifact_id, id)
	// order, skipping rows locked by other relays. A row must never be
	// returned while an earlier undispatched row exists for its artifact.
	ClaimBatch(ctx Context, limit int) ([]OutboxRow, error)
	MarkDispatched(ctx Context, id int64) error
	// MarkFailed bumps attempts and schedules the next try.
	MarkFailed(ctx Context, id int64, nextAttempt time.Time) error
}

// WebhookDedupe prevents duplicate ingestion from retrying webhooks.
type WebhookDedupe interface {
	// Register returns ErrDuplicate when (source, externalID) was seen.
	Register(ctx Context, source, externalID string) error
	// Unregister releases a registration whose ingest did not complete, so
	// a redelivery of the same message can succeed.
	Unregister(ctx Context, source, externalID string) error
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// Gate is the operator-controlled safe-mode flag, one row, TTL-cached.
type Gate interface {
	SafeMode(ctx Context) (bool, error)
	SetSafeMode(ctx Context, on bool) error
}

// Collaborator ports. Each is pluggable; the core owns only the contract
// and the failure taxonomy.

// BlobStore fetches artifact bytes.
type BlobStore interface {
	Get(ctx Context, ref string) ([]byte, error) // ErrNotFound when missing
}

// OCRResult is the raw text plus per-line confidences.
type OCRResult struct {
	Text            string
	LineConfidences []float64
}

// OCRClient converts image bytes to text.
type OCRClient interface {
	ExtractText(ctx Context, data []byte) (OCRResult, error)
}

// RawItem is one loosely-typed record from the extraction provider, before
// cleaning. Quantity arrives as a string because providers disagree on types.
type RawItem struct {
	Name       string  `json:"name"`
	Quantity   string  `json:"quantity"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// ItemExtractor turns free text into raw line items.
type ItemExtractor interface {
	ExtractItems(ctx Context, text string) ([]RawItem, error)
}

// Notifier delivers one outbox payload; called exclusively by the relay.
type Notifier interface {
	Send(ctx Context, target string, payload []byte) error
}

// CreditGate is the narrow check-and-reserve interface of the credit ledger.
type CreditGate interface {
	CheckAndReserve(ctx Context, retailerID string, amount float64) error // ErrCreditRejected
}
