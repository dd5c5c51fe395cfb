package vendormetrics

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// Store drives metric updates from lifecycle events. Reads always return
// the stored composite; the score is recomputed on write only.
type Store struct {
	repo        domain.MetricsRepo
	weights     domain.MetricsWeights
	seedSamples int64
}

// NewStore constructs a Store.
func NewStore(repo domain.MetricsRepo, weights domain.MetricsWeights, seedSamples int64) *Store {
	return &Store{repo: repo, weights: weights, seedSamples: seedSamples}
}

// Get returns the stored metrics row for a vendor.
func (s *Store) Get(ctx domain.Context, vendorID string) (domain.VendorMetrics, error) {
	return s.repo.Get(ctx, vendorID)
}

// Apply folds one event into the vendor's metrics. Delivery is
// at-least-once: a repeated event id is a no-op (applied=false).
func (s *Store) Apply(ctx domain.Context, ev domain.VendorEvent) (bool, error) {
	tracer := otel.Tracer("vendormetrics")
	ctx, span := tracer.Start(ctx, "vendormetrics.Apply")
	defer span.End()

	if err := ev.Validate(); err != nil {
		return false, fmt.Errorf("op=vendormetrics.apply: %w", err)
	}
	applied, err := s.repo.Apply(ctx, ev.VendorID, ev.EventID, func(m *domain.VendorMetrics) error {
		s.fold(m, ev)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("op=vendormetrics.apply: %w", err)
	}
	if applied {
		observability.VendorEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		slog.Debug("vendor event applied",
			slog.String("vendor_id", ev.VendorID),
			slog.String("event_id", ev.EventID),
			slog.String("type", string(ev.Type)))
	}
	return applied, nil
}

func (s *Store) fold(m *domain.VendorMetrics, ev domain.VendorEvent) {
	switch ev.Type {
	case domain.EventAssigned:
		m.AssignedN++
	case domain.EventResponded:
		m.RespondedN++
		if ev.Response == domain.ResponseAccept {
			m.AcceptedN++
		}
		if ev.ResponseSeconds > 0 {
			m.ResponseTimeSumS += ev.ResponseSeconds
		}
	case domain.EventDelivered:
		m.DeliveredN++
		if ev.Success {
			m.DeliveredOKN++
		}
	case domain.EventCancelled:
		if ev.ByVendor {
			m.CancelledByVendN++
		}
	}
	Derive(m)
	m.ReliabilityScore = Composite(*m, s.weights, s.seedSamples)
	observability.ReliabilityScore.Observe(m.ReliabilityScore)
}
