// Package vendormetrics accumulates per-vendor performance metrics from
// order-lifecycle events and maintains the stored composite reliability
// score. Event application is idempotent on event id and serialized per
// vendor by the repository's row lock.
package vendormetrics

import (
	"math"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

const (
	// responseTau is the response-time decay constant (30 min).
	responseTau = 1800.0
	// neutralPrior is the cold-start blend target.
	neutralPrior = 0.75
)

// Derive recomputes the rate fields from the sample counters.
func Derive(m *domain.VendorMetrics) {
	m.AcceptanceRate = float64(m.AcceptedN) / math.Max(float64(m.AssignedN), 1)
	m.DeliverySuccessRate = float64(m.DeliveredOKN) / math.Max(float64(m.DeliveredN), 1)
	m.CancellationRate = float64(m.CancelledByVendN) / math.Max(float64(m.AssignedN), 1)
	m.AvgResponseSeconds = m.ResponseTimeSumS / math.Max(float64(m.RespondedN), 1)
	m.SamplesN = m.AssignedN
}

// Composite applies the weighted reliability formula, including the
// cold-start blend toward the neutral prior while assigned_n < seedSamples.
// The result is in [0,100].
func Composite(m domain.VendorMetrics, w domain.MetricsWeights, seedSamples int64) float64 {
	responseTerm := math.Exp(-m.AvgResponseSeconds / responseTau)
	priceTerm := 0.0
	if m.PriceVsMarketPercent >= 0 {
		priceTerm = 1.0 - m.PriceVsMarketPercent/100.0
	}
	observed := w.Acceptance*m.AcceptanceRate +
		w.Delivery*m.DeliverySuccessRate +
		w.Response*responseTerm +
		w.Cancellation*(1.0-m.CancellationRate) +
		w.Price*priceTerm
	observed = clamp01(observed)

	alpha := 1.0
	if seedSamples > 0 && m.AssignedN < seedSamples {
		alpha = float64(m.AssignedN) / float64(seedSamples)
	}
	return 100.0 * (alpha*observed + (1.0-alpha)*neutralPrior)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
