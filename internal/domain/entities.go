// Package domain defines the core entities, ports and error taxonomy of the
// wholesale order-processing backbone. It stays free of third-party imports
// so that adapters and usecases depend inward only.
package domain

import (
	"context"
	"time"
)

// Context is an alias so ports read uniformly; adapters pass context.Context.
type Context = context.Context

// ArtifactStatus enumerates the ingestion state machine.
type ArtifactStatus string

const (
	ArtifactReceived      ArtifactStatus = "RECEIVED"
	ArtifactOCRDone       ArtifactStatus = "OCR_DONE"
	ArtifactExtracted     ArtifactStatus = "EXTRACTED"
	ArtifactNormalized    ArtifactStatus = "NORMALIZED"
	ArtifactBroadcast     ArtifactStatus = "BROADCAST"
	ArtifactCompleted     ArtifactStatus = "COMPLETED"
	ArtifactPendingReview ArtifactStatus = "PENDING_REVIEW"
	ArtifactFailed        ArtifactStatus = "FAILED"
)

// stageOrder gives the monotone rank of the happy-path statuses.
var stageOrder = map[ArtifactStatus]int{
	ArtifactReceived:   0,
	ArtifactOCRDone:    1,
	ArtifactExtracted:  2,
	ArtifactNormalized: 3,
	ArtifactBroadcast:  4,
	ArtifactCompleted:  5,
}

// Terminal reports whether no further automatic work happens in this status.
func (s ArtifactStatus) Terminal() bool {
	return s == ArtifactCompleted || s == ArtifactPendingReview || s == ArtifactFailed
}

// After reports whether s is strictly later than other on the happy path.
// Terminal side states compare as later than everything.
func (s ArtifactStatus) After(other ArtifactStatus) bool {
	if s == ArtifactPendingReview || s == ArtifactFailed {
		return true
	}
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a > b
}

// Stage names the five pipeline stages; they double as attempt-count keys.
type Stage string

const (
	StageOCR       Stage = "OCR"
	StageExtract   Stage = "EXTRACT"
	StageNormalize Stage = "NORMALIZE"
	StageBroadcast Stage = "BROADCAST"
	StageFinalize  Stage = "FINALIZE"
)

// ExtractedItem is one cleaned line item from the extraction stage.
// Quantity is always > 0 after cleaning; Unit is a canonical token or "".
type ExtractedItem struct {
	RawName    string  `json:"raw_name"`
	NameKey    string  `json:"name_key"` // lowercased form used for matching
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence"`
}

// MatchKind enumerates normalization strategies.
type MatchKind string

const (
	MatchExact   MatchKind = "EXACT"
	MatchPattern MatchKind = "PATTERN"
	MatchFuzzy   MatchKind = "FUZZY"
	MatchNone    MatchKind = "NONE"
)

// NormalizedItem links an extracted item to a catalog product (or flags it
// for review when no match clears the threshold).
type NormalizedItem struct {
	Extracted       ExtractedItem `json:"extracted"`
	ProductID       string        `json:"product_id,omitempty"`
	MatchKind       MatchKind     `json:"match_kind"`
	MatchConfidence float64       `json:"match_confidence"`
	NeedsReview     bool          `json:"needs_review"`
}

// UploadedArtifact is the durable record of one ingestion attempt.
// It is never deleted; status advances monotonically except into the
// PENDING_REVIEW / FAILED side states.
type UploadedArtifact struct {
	ID              string
	RetailerID      string
	BlobRef         string
	SourceMessageID string
	Status          ArtifactStatus
	RawText         string
	ExtractedItems  []ExtractedItem
	NormalizedItems []NormalizedItem
	AttemptCounts   map[Stage]int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// Product is a read-only catalog entity.
type Product struct {
	ID            string
	CanonicalName string
	Aliases       []string
	Unit          string
	Category      string
}

// Vendor is read-only master data.
type Vendor struct {
	ID              string
	Active          bool
	WorkingHoursBeg int // minutes from midnight, local; -1 when unset
	WorkingHoursEnd int
	ServiceRadiusKM float64
	Lat, Lon        float64
}

// WithinWorkingHours reports whether t falls inside the configured window.
// Vendors without a window are always considered open.
func (v Vendor) WithinWorkingHours(t time.Time) bool {
	if v.WorkingHoursBeg < 0 || v.WorkingHoursEnd < 0 {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if v.WorkingHoursBeg <= v.WorkingHoursEnd {
		return m >= v.WorkingHoursBeg && m < v.WorkingHoursEnd
	}
	// window wraps midnight
	return m >= v.WorkingHoursBeg || m < v.WorkingHoursEnd
}

// VendorProduct is a read-only price/stock row.
type VendorProduct struct {
	VendorID        string
	ProductID       string
	Price           float64
	Stock           float64
	Available       bool
	LastRestockedAt time.Time
}

// VendorMetrics is the stored per-vendor performance row. ReliabilityScore
// is always the composite formula applied to the other fields at write time.
type VendorMetrics struct {
	VendorID             string
	ReliabilityScore     float64 // [0,100]
	AcceptanceRate       float64
	DeliverySuccessRate  float64
	AvgResponseSeconds   float64
	CancellationRate     float64
	PriceVsMarketPercent float64 // catalog-wide price percentile, cheaper -> lower

	AssignedN        int64
	RespondedN       int64
	AcceptedN        int64
	DeliveredN       int64
	DeliveredOKN     int64
	CancelledByVendN int64
	ResponseTimeSumS float64

	SamplesN    int64
	LastUpdated time.Time
}

// BroadcastStatus enumerates RFQ broadcast lifecycle states.
type BroadcastStatus string

const (
	BroadcastSent      BroadcastStatus = "SENT"
	BroadcastResponded BroadcastStatus = "RESPONDED"
	BroadcastAccepted  BroadcastStatus = "ACCEPTED"
	BroadcastRejected  BroadcastStatus = "REJECTED"
	BroadcastExpired   BroadcastStatus = "EXPIRED"
)

// RFQBroadcast is an append-only record of one per-vendor quote request.
type RFQBroadcast struct {
	ID            string
	ArtifactID    string
	RetailerID    string
	ProductID     string
	VendorID      string
	RequestedQty  float64
	Unit          string
	Status        BroadcastStatus
	VendorRank    int
	ScoreSnapshot float64
	CreatedAt     time.Time
	RespondedAt   *time.Time
}

// OutboxRow is a pending external side effect, committed in the same
// transaction as the state change that produced it.
type OutboxRow struct {
	ID         int64
	ArtifactID string
	Target     string
	Payload    []byte
	Dispatched bool
	Attempts   int
	CreatedAt  time.Time
}

// LogLevel for processing-log entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// ProcessingLogEntry is one append-only line of the per-artifact audit trail.
type ProcessingLogEntry struct {
	ArtifactID string
	Seq        int64
	Stage      Stage
	Level      LogLevel
	Message    string
	Details    string
	At         time.Time
}

// SelectionDecision is the persisted audit record of one selector call made
// on behalf of a broadcast.
type SelectionDecision struct {
	ArtifactID string
	ProductID  string
	Weights    SelectorWeights
	Candidates []ScoredVendor
	ChosenIDs  []string
	At         time.Time
}

// SelectorWeights is the weight set for the composite selection score.
type SelectorWeights struct {
	Reliability float64 `json:"w_rel"`
	Price       float64 `json:"w_price"`
	Fulfillment float64 `json:"w_ful"`
	Response    float64 `json:"w_resp"`
}

// MetricsWeights is the weight set for the stored reliability composite.
type MetricsWeights struct {
	Acceptance   float64 `json:"w1"`
	Delivery     float64 `json:"w2"`
	Response     float64 `json:"w3"`
	Cancellation float64 `json:"w4"`
	Price        float64 `json:"w5"`
}

// ScoredVendor is one ranked selector candidate.
type ScoredVendor struct {
	VendorID    string  `json:"vendor_id"`
	Score       float64 `json:"score"`
	Reliability float64 `json:"reliability"`
	PriceScore  float64 `json:"price_score"`
	Fulfillment float64 `json:"fulfillment"`
	Response    float64 `json:"response"`
	Price       float64 `json:"price"`
	Rank        int     `json:"rank"`
}
