package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

func (p *Pipeline) runStage(ctx domain.Context, a *domain.UploadedArtifact, stage domain.Stage) domain.StageResult {
	switch stage {
	case domain.StageOCR:
		return p.stageOCR(ctx, a)
	case domain.StageExtract:
		return p.stageExtract(ctx, a)
	case domain.StageNormalize:
		return p.stageNormalize(ctx, a)
	case domain.StageBroadcast:
		return p.stageBroadcast(ctx, a)
	case domain.StageFinalize:
		return p.stageFinalize(ctx, a)
	default:
		return domain.HardFail(domain.FailMalformedState, fmt.Errorf("unknown stage %q", stage))
	}
}

func (p *Pipeline) stageOCR(ctx domain.Context, a *domain.UploadedArtifact) domain.StageResult {
	data, err := p.deps.Blobs.Get(ctx, a.BlobRef)
	if err != nil {
		if isNotFound(err) {
			return domain.HardFail(domain.FailBlobNotFound, err)
		}
		return domain.TransientFail(domain.FailStorage, err)
	}
	res, err := p.deps.OCR.ExtractText(ctx, data)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			// Unreadable input; retried in case the provider hiccuped, then
			// the attempt budget turns it fatal.
			return domain.TransientFail(domain.FailUnreadableImage, err)
		}
		return domain.TransientFail(domain.FailOCRUnavailable, err)
	}
	a.RawText = res.Text
	return domain.StageOK(domain.ArtifactOCRDone)
}

func (p *Pipeline) stageExtract(ctx domain.Context, a *domain.UploadedArtifact) domain.StageResult {
	if strings.TrimSpace(a.RawText) == "" {
		return domain.SoftFail(string(domain.FailEmptyText))
	}
	raw, err := p.deps.Extractor.ExtractItems(ctx, a.RawText)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaInvalid) {
			return domain.TransientFail(domain.FailMalformedOutput, err)
		}
		return domain.TransientFail(domain.FailExtractUnavailable, err)
	}
	items, dropped := p.deps.Cleaner.Clean(raw)
	if dropped > 0 {
		p.logEntry(ctx, a.ID, domain.StageExtract, domain.LogWarn,
			fmt.Sprintf("dropped %d contract-violating records", dropped), "")
	}
	if len(items) == 0 {
		return domain.SoftFail("no items survived extraction")
	}
	a.ExtractedItems = items
	return domain.StageOK(domain.ArtifactExtracted)
}

func (p *Pipeline) stageNormalize(ctx domain.Context, a *domain.UploadedArtifact) domain.StageResult {
	norm, reviewFraction, err := p.deps.Matcher.MatchAll(ctx, a.ExtractedItems)
	if err != nil {
		return domain.TransientFail(domain.FailStorage, err)
	}
	// Persisted even when parking for review so a human sees partial results.
	a.NormalizedItems = norm
	unmatched := 0
	for _, n := range norm {
		if n.NeedsReview {
			unmatched++
		}
	}
	if unmatched > 0 {
		p.logEntry(ctx, a.ID, domain.StageNormalize, domain.LogWarn,
			fmt.Sprintf("%d of %d items unmatched", unmatched, len(norm)), "")
	}
	if reviewFraction > p.cfg.ReviewFraction {
		return domain.SoftFail(fmt.Sprintf("review fraction %.2f exceeds %.2f", reviewFraction, p.cfg.ReviewFraction))
	}
	return domain.StageOK(domain.ArtifactNormalized)
}

// rfqPayload is the outbox envelope the notifier delivers per vendor.
type rfqPayload struct {
	V           int     `json:"v"`
	Type        string  `json:"type"`
	BroadcastID string  `json:"broadcast_id"`
	ArtifactID  string  `json:"artifact_id"`
	RetailerID  string  `json:"retailer_id"`
	ProductID   string  `json:"product_id"`
	VendorID    string  `json:"vendor_id"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
}

func (p *Pipeline) stageBroadcast(ctx domain.Context, a *domain.UploadedArtifact) domain.StageResult {
	eligible := broadcastEligible(a.NormalizedItems)
	if len(eligible) == 0 {
		return domain.SoftFail("no broadcast-eligible items")
	}

	// Select first, insert after: the credit gate needs the full order
	// estimate before any RFQ row exists.
	type itemSelection struct {
		item domain.NormalizedItem
		sel  []domain.ScoredVendor
	}
	selections := make([]itemSelection, 0, len(eligible))
	estimate := 0.0
	anyVendors := false
	for _, it := range eligible {
		sel, err := p.deps.Selector.Select(ctx, it.ProductID, it.Extracted.Quantity)
		if err != nil {
			return domain.TransientFail(domain.FailStorage, err)
		}
		if err := p.deps.Decisions.Record(ctx, domain.SelectionDecision{
			ArtifactID: a.ID,
			ProductID:  it.ProductID,
			Weights:    p.cfg.Weights,
			Candidates: sel.Considered,
			ChosenIDs:  vendorIDs(sel.Ranked),
			At:         p.now(),
		}); err != nil {
			return domain.TransientFail(domain.FailStorage, err)
		}
		if len(sel.Ranked) == 0 {
			p.logEntry(ctx, a.ID, domain.StageBroadcast, domain.LogWarn,
				fmt.Sprintf("%s: item skipped, no eligible vendors", domain.FailNoVendorsFound),
				it.Extracted.RawName)
			continue
		}
		anyVendors = true
		estimate += it.Extracted.Quantity * sel.Ranked[0].Price
		selections = append(selections, itemSelection{item: it, sel: sel.Ranked})
	}
	if !anyVendors {
		return domain.SoftFail(string(domain.FailNoVendorsFound))
	}

	if p.deps.Credit != nil {
		if err := p.deps.Credit.CheckAndReserve(ctx, a.RetailerID, estimate); err != nil {
			if errors.Is(err, domain.ErrCreditRejected) {
				return domain.SoftFail(fmt.Sprintf("%s: %v", domain.FailCreditRejected, err))
			}
			return domain.TransientFail(domain.FailStorage, err)
		}
	}

	for _, s := range selections {
		existing, err := p.deps.Broadcasts.ExistingVendors(ctx, a.ID, s.item.ProductID)
		if err != nil {
			return domain.TransientFail(domain.FailStorage, err)
		}
		var rows []domain.RFQBroadcast
		var outbox []domain.OutboxRow
		for _, sv := range s.sel {
			if existing[sv.VendorID] {
				continue
			}
			b := domain.RFQBroadcast{
				ID:            uuid.New().String(),
				ArtifactID:    a.ID,
				RetailerID:    a.RetailerID,
				ProductID:     s.item.ProductID,
				VendorID:      sv.VendorID,
				RequestedQty:  s.item.Extracted.Quantity,
				Unit:          s.item.Extracted.Unit,
				Status:        domain.BroadcastSent,
				VendorRank:    sv.Rank,
				ScoreSnapshot: sv.Score,
				CreatedAt:     p.now(),
			}
			payload, err := json.Marshal(rfqPayload{
				V:           payloadVersion,
				Type:        "rfq",
				BroadcastID: b.ID,
				ArtifactID:  b.ArtifactID,
				RetailerID:  b.RetailerID,
				ProductID:   b.ProductID,
				VendorID:    b.VendorID,
				Quantity:    b.RequestedQty,
				Unit:        b.Unit,
			})
			if err != nil {
				// Only non-finite quantities can fail here; the stored state
				// is unusable and retrying cannot repair it.
				return domain.HardFail(domain.FailMalformedState, err)
			}
			rows = append(rows, b)
			outbox = append(outbox, domain.OutboxRow{
				ArtifactID: a.ID,
				Target:     "vendor." + sv.VendorID,
				Payload:    payload,
				CreatedAt:  p.now(),
			})
		}
		if len(rows) == 0 {
			continue // fully broadcast on an earlier attempt
		}
		if err := p.deps.Broadcasts.InsertWithOutbox(ctx, rows, outbox); err != nil {
			return domain.TransientFail(domain.FailStorage, err)
		}
	}
	return domain.StageOK(domain.ArtifactBroadcast)
}

func (p *Pipeline) stageFinalize(ctx domain.Context, a *domain.UploadedArtifact) domain.StageResult {
	rows, err := p.deps.Broadcasts.ListByArtifact(ctx, a.ID)
	if err != nil {
		return domain.TransientFail(domain.FailStorage, err)
	}
	covered := map[string]bool{}
	for _, r := range rows {
		covered[r.ProductID] = true
	}
	now := p.now()
	a.ProcessedAt = &now
	for _, it := range broadcastEligible(a.NormalizedItems) {
		if !covered[it.ProductID] {
			return domain.SoftFail(fmt.Sprintf("item %q produced no RFQ rows", it.Extracted.RawName))
		}
	}
	return domain.StageOK(domain.ArtifactCompleted)
}

func broadcastEligible(items []domain.NormalizedItem) []domain.NormalizedItem {
	out := make([]domain.NormalizedItem, 0, len(items))
	for _, n := range items {
		if !n.NeedsReview && n.ProductID != "" {
			out = append(out, n)
		}
	}
	return out
}

func vendorIDs(ranked []domain.ScoredVendor) []string {
	ids := make([]string, 0, len(ranked))
	for _, sv := range ranked {
		ids = append(ids, sv.VendorID)
	}
	return ids
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
func isStale(err error) bool    { return errors.Is(err, domain.ErrStaleWrite) }
