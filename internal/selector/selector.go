// Package selector ranks vendors for a catalog item using a weighted
// multi-criterion score and splits multi-item orders into per-vendor
// sub-orders. Output is deterministic for a fixed catalog + metrics state.
package selector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

const (
	// responseTau is the decay constant for the response-time score (30 min).
	responseTau = 1800.0
	priceEps    = 1e-9

	// Neutral seeds used when a vendor has no metrics row yet.
	neutralReliability = 75.0
	neutralFulfillment = 0.75
	neutralResponse    = 0.5
)

// MetricsReader is the slice of the metrics store the selector needs.
type MetricsReader interface {
	Get(ctx domain.Context, vendorID string) (domain.VendorMetrics, error)
}

// Config tunes eligibility and ranking.
type Config struct {
	Weights        domain.SelectorWeights
	TopK           int
	MinReliability float64
	SeedSamples    int64
}

// Selection is the result of one Select call: the full considered set plus
// the chosen top-K, both in rank order.
type Selection struct {
	ProductID  string
	Considered []domain.ScoredVendor
	Ranked     []domain.ScoredVendor
}

// Selector implements vendor ranking over the vendor catalog and metrics.
type Selector struct {
	offers  domain.VendorCatalog
	metrics MetricsReader
	cfg     Config
	now     func() time.Time
}

// New constructs a Selector.
func New(offers domain.VendorCatalog, metrics MetricsReader, cfg Config) *Selector {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Selector{offers: offers, metrics: metrics, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the working-hours clock; tests only.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select returns ranked vendors for (productID, quantity). An empty Ranked
// slice means no vendor is eligible; the caller decides what that implies.
func (s *Selector) Select(ctx domain.Context, productID string, quantity float64) (Selection, error) {
	tracer := otel.Tracer("selector")
	ctx, span := tracer.Start(ctx, "selector.Select")
	defer span.End()

	offers, err := s.offers.OffersFor(ctx, productID)
	if err != nil {
		return Selection{}, fmt.Errorf("op=selector.offers: %w", err)
	}
	now := s.now()

	type candidate struct {
		offer domain.VendorOffer
		m     domain.VendorMetrics
	}
	var eligible []candidate
	for _, o := range offers {
		if !o.Vendor.Active || !o.Product.Available || o.Product.Stock < quantity {
			continue
		}
		if !o.Vendor.WithinWorkingHours(now) {
			continue
		}
		m, err := s.metrics.Get(ctx, o.Vendor.ID)
		if err != nil {
			if !isNotFound(err) {
				return Selection{}, fmt.Errorf("op=selector.metrics: %w", err)
			}
			m = neutralMetrics(o.Vendor.ID)
		}
		// New-vendor grace period: below the seed sample count the
		// reliability floor does not apply.
		if m.SamplesN >= s.cfg.SeedSamples && m.ReliabilityScore < s.cfg.MinReliability {
			continue
		}
		eligible = append(eligible, candidate{offer: o, m: m})
	}
	observability.SelectorCandidates.Observe(float64(len(eligible)))
	if len(eligible) == 0 {
		return Selection{ProductID: productID}, nil
	}

	pMin, pMax := eligible[0].offer.Product.Price, eligible[0].offer.Product.Price
	for _, c := range eligible[1:] {
		p := c.offer.Product.Price
		if p < pMin {
			pMin = p
		}
		if p > pMax {
			pMax = p
		}
	}

	scored := make([]domain.ScoredVendor, 0, len(eligible))
	for _, c := range eligible {
		sv := domain.ScoredVendor{
			VendorID:    c.offer.Vendor.ID,
			Price:       c.offer.Product.Price,
			Reliability: c.m.ReliabilityScore / 100.0,
			PriceScore:  priceScore(c.offer.Product.Price, pMin, pMax, len(eligible)),
			Fulfillment: c.m.DeliverySuccessRate,
			Response:    responseScore(c.m),
		}
		w := s.cfg.Weights
		sv.Score = w.Reliability*sv.Reliability + w.Price*sv.PriceScore + w.Fulfillment*sv.Fulfillment + w.Response*sv.Response
		scored = append(scored, sv)
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		if scored[a].Reliability != scored[b].Reliability {
			return scored[a].Reliability > scored[b].Reliability
		}
		if scored[a].Price != scored[b].Price {
			return scored[a].Price < scored[b].Price
		}
		return scored[a].VendorID < scored[b].VendorID
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}

	k := s.cfg.TopK
	if k > len(scored) {
		k = len(scored)
	}
	observability.SelectorDecisionsTotal.Inc()
	return Selection{ProductID: productID, Considered: scored, Ranked: scored[:k]}, nil
}

func priceScore(p, pMin, pMax float64, n int) float64 {
	if n == 1 {
		return 1.0
	}
	return 1.0 - (p-pMin)/math.Max(pMax-pMin, priceEps)
}

func responseScore(m domain.VendorMetrics) float64 {
	if m.RespondedN == 0 {
		return neutralResponse
	}
	return math.Exp(-m.AvgResponseSeconds / responseTau)
}

func neutralMetrics(vendorID string) domain.VendorMetrics {
	return domain.VendorMetrics{
		VendorID:            vendorID,
		ReliabilityScore:    neutralReliability,
		DeliverySuccessRate: neutralFulfillment,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
