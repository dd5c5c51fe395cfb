package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/vendormetrics"
)

// EventService applies order-lifecycle events to the vendor performance
// store and mirrors vendor responses onto their RFQ broadcast rows.
// Delivery is at-least-once; the store dedupes on event id.
type EventService struct {
	Metrics    *vendormetrics.Store
	Broadcasts domain.BroadcastRepo

	now func() time.Time
}

// NewEventService constructs an EventService.
func NewEventService(metrics *vendormetrics.Store, broadcasts domain.BroadcastRepo) *EventService {
	return &EventService{
		Metrics:    metrics,
		Broadcasts: broadcasts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Report applies one event. applied=false means the event id was seen before.
func (s *EventService) Report(ctx domain.Context, ev domain.VendorEvent) (bool, error) {
	applied, err := s.Metrics.Apply(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("op=usecase.report_event: %w", err)
	}
	if applied && ev.Type == domain.EventResponded {
		s.markBroadcast(ctx, ev)
	}
	return applied, nil
}

// markBroadcast moves the broadcast row named by the event's order id to the
// responded status. Events for orders placed outside the RFQ flow have no
// broadcast row; those are not an error.
func (s *EventService) markBroadcast(ctx domain.Context, ev domain.VendorEvent) {
	status := domain.BroadcastAccepted
	if ev.Response == domain.ResponseReject {
		status = domain.BroadcastRejected
	}
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	if err := s.Broadcasts.UpdateStatus(ctx, ev.OrderID, status, at); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		slog.Error("broadcast status update failed",
			slog.String("order_id", ev.OrderID),
			slog.String("vendor_id", ev.VendorID),
			slog.Any("error", err))
	}
}

// VendorMetrics returns the stored metrics row for a vendor.
func (s *EventService) VendorMetrics(ctx domain.Context, vendorID string) (domain.VendorMetrics, error) {
	m, err := s.Metrics.Get(ctx, vendorID)
	if err != nil {
		return domain.VendorMetrics{}, fmt.Errorf("op=usecase.vendor_metrics: %w", err)
	}
	return m, nil
}
