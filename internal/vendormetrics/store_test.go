package vendormetrics_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/vendormetrics"
)

func defaultWeights() domain.MetricsWeights {
	return domain.MetricsWeights{
		Acceptance:   0.25,
		Delivery:     0.30,
		Response:     0.15,
		Cancellation: 0.20,
		Price:        0.10,
	}
}

func newStore(t *testing.T) (*vendormetrics.Store, *vendormetrics.MemoryRepo) {
	t.Helper()
	repo := vendormetrics.NewMemoryRepo()
	return vendormetrics.NewStore(repo, defaultWeights(), 10), repo
}

func event(id string, typ domain.VendorEventType) domain.VendorEvent {
	return domain.VendorEvent{EventID: id, Type: typ, VendorID: "v1", OrderID: "o1"}
}

func TestDerive_RateMath(t *testing.T) {
	t.Parallel()
	m := domain.VendorMetrics{
		AssignedN:        10,
		RespondedN:       8,
		AcceptedN:        6,
		DeliveredN:       5,
		DeliveredOKN:     4,
		CancelledByVendN: 2,
		ResponseTimeSumS: 2400,
	}
	vendormetrics.Derive(&m)
	assert.InDelta(t, 0.6, m.AcceptanceRate, 1e-9)
	assert.InDelta(t, 0.8, m.DeliverySuccessRate, 1e-9)
	assert.InDelta(t, 0.2, m.CancellationRate, 1e-9)
	assert.InDelta(t, 300.0, m.AvgResponseSeconds, 1e-9)
	assert.Equal(t, int64(10), m.SamplesN)
}

func TestDerive_ZeroCountersDoNotDivideByZero(t *testing.T) {
	t.Parallel()
	m := domain.VendorMetrics{}
	vendormetrics.Derive(&m)
	assert.Zero(t, m.AcceptanceRate)
	assert.Zero(t, m.DeliverySuccessRate)
	assert.Zero(t, m.CancellationRate)
	assert.Zero(t, m.AvgResponseSeconds)
}

func TestComposite_NoSamplesReturnsNeutral(t *testing.T) {
	t.Parallel()
	m := domain.VendorMetrics{PriceVsMarketPercent: -1}
	vendormetrics.Derive(&m)
	got := vendormetrics.Composite(m, defaultWeights(), 10)
	assert.InDelta(t, 75.0, got, 1e-9)
}

func TestComposite_FullObservation(t *testing.T) {
	t.Parallel()
	m := domain.VendorMetrics{
		AssignedN:            20,
		RespondedN:           20,
		AcceptedN:            18,
		DeliveredN:           15,
		DeliveredOKN:         15,
		CancelledByVendN:     1,
		ResponseTimeSumS:     20 * 600,
		PriceVsMarketPercent: 5,
	}
	vendormetrics.Derive(&m)

	w := defaultWeights()
	want := w.Acceptance*0.9 +
		w.Delivery*1.0 +
		w.Response*math.Exp(-600.0/1800.0) +
		w.Cancellation*(1.0-0.05) +
		w.Price*(1.0-0.05)
	got := vendormetrics.Composite(m, w, 10)
	assert.InDelta(t, 100.0*want, got, 1e-9)
}

func TestComposite_ColdStartBlend(t *testing.T) {
	t.Parallel()
	// Perfect vendor, 4 of 10 seed samples: alpha = 0.4.
	m := domain.VendorMetrics{
		AssignedN:            4,
		RespondedN:           4,
		AcceptedN:            4,
		DeliveredN:           4,
		DeliveredOKN:         4,
		PriceVsMarketPercent: 0,
	}
	vendormetrics.Derive(&m)

	w := defaultWeights()
	observed := w.Acceptance + w.Delivery + w.Response*1.0 + w.Cancellation + w.Price
	if observed > 1 {
		observed = 1
	}
	want := 100.0 * (0.4*observed + 0.6*0.75)
	got := vendormetrics.Composite(m, w, 10)
	assert.InDelta(t, want, got, 1e-9)
}

func TestComposite_UnknownPriceContributesZero(t *testing.T) {
	t.Parallel()
	m := domain.VendorMetrics{AssignedN: 50, PriceVsMarketPercent: -1}
	vendormetrics.Derive(&m)
	withUnknown := vendormetrics.Composite(m, defaultWeights(), 10)
	m.PriceVsMarketPercent = 0
	withParity := vendormetrics.Composite(m, defaultWeights(), 10)
	assert.Less(t, withUnknown, withParity)
}

func TestApply_FoldsEventTypes(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	evs := []domain.VendorEvent{
		event("e1", domain.EventAssigned),
		{EventID: "e2", Type: domain.EventResponded, VendorID: "v1", OrderID: "o1", Response: domain.ResponseAccept, ResponseSeconds: 120},
		{EventID: "e3", Type: domain.EventDelivered, VendorID: "v1", OrderID: "o1", Success: true},
		{EventID: "e4", Type: domain.EventCancelled, VendorID: "v1", OrderID: "o2", ByVendor: true},
	}
	for _, ev := range evs {
		applied, err := s.Apply(ctx, ev)
		require.NoError(t, err)
		assert.True(t, applied, ev.EventID)
	}

	m, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.AssignedN)
	assert.Equal(t, int64(1), m.RespondedN)
	assert.Equal(t, int64(1), m.AcceptedN)
	assert.Equal(t, int64(1), m.DeliveredN)
	assert.Equal(t, int64(1), m.DeliveredOKN)
	assert.Equal(t, int64(1), m.CancelledByVendN)
	assert.InDelta(t, 120.0, m.ResponseTimeSumS, 1e-9)
	assert.InDelta(t, 120.0, m.AvgResponseSeconds, 1e-9)
	assert.Greater(t, m.ReliabilityScore, 0.0)
}

func TestApply_RejectAccumulatesResponseOnly(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, event("e1", domain.EventAssigned))
	require.NoError(t, err)
	_, err = s.Apply(ctx, domain.VendorEvent{
		EventID: "e2", Type: domain.EventResponded, VendorID: "v1", OrderID: "o1",
		Response: domain.ResponseReject, ResponseSeconds: 60,
	})
	require.NoError(t, err)

	m, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.RespondedN)
	assert.Zero(t, m.AcceptedN)
	assert.InDelta(t, 60.0, m.ResponseTimeSumS, 1e-9)
}

func TestApply_DuplicateEventIsNoOp(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	ev := event("e1", domain.EventAssigned)
	applied, err := s.Apply(ctx, ev)
	require.NoError(t, err)
	require.True(t, applied)

	before, err := s.Get(ctx, "v1")
	require.NoError(t, err)

	applied, err = s.Apply(ctx, ev)
	require.NoError(t, err)
	assert.False(t, applied)

	after, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApply_CustomerCancelDoesNotCountAgainstVendor(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, domain.VendorEvent{
		EventID: "e1", Type: domain.EventCancelled, VendorID: "v1", OrderID: "o1", ByVendor: false,
	})
	require.NoError(t, err)
	m, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, m.CancelledByVendN)
}

func TestApply_InvalidEventRejected(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	_, err := s.Apply(context.Background(), domain.VendorEvent{EventID: "e1", Type: "exploded"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestApply_ScoreMonotonicUnderGoodBehavior(t *testing.T) {
	t.Parallel()
	s, repo := newStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		suffix := string(rune('a' + i))
		_, err := s.Apply(ctx, domain.VendorEvent{
			EventID: "a" + suffix, Type: domain.EventAssigned, VendorID: "v1", OrderID: "o1",
		})
		require.NoError(t, err)
		_, err = s.Apply(ctx, domain.VendorEvent{
			EventID: "r" + suffix, Type: domain.EventResponded, VendorID: "v1", OrderID: "o1",
			Response: domain.ResponseAccept, ResponseSeconds: 60,
		})
		require.NoError(t, err)
		_, err = s.Apply(ctx, domain.VendorEvent{
			EventID: "d" + suffix, Type: domain.EventDelivered, VendorID: "v1", OrderID: "o1", Success: true,
		})
		require.NoError(t, err)
	}

	trail := repo.History("v1")
	require.NotEmpty(t, trail)
	final := trail[len(trail)-1]
	assert.Greater(t, final, 75.0, "consistent delivery should beat the neutral prior")
}
