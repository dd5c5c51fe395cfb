package selector_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/selector"
)

type fakeOffers struct {
	offers map[string][]domain.VendorOffer
}

func (f *fakeOffers) OffersFor(_ context.Context, productID string) ([]domain.VendorOffer, error) {
	return f.offers[productID], nil
}

type fakeMetrics struct {
	rows map[string]domain.VendorMetrics
}

func (f *fakeMetrics) Get(_ context.Context, vendorID string) (domain.VendorMetrics, error) {
	m, ok := f.rows[vendorID]
	if !ok {
		return domain.VendorMetrics{}, fmt.Errorf("op=test.get: %w", domain.ErrNotFound)
	}
	return m, nil
}

func defaultCfg() selector.Config {
	return selector.Config{
		Weights:        domain.SelectorWeights{Reliability: 0.40, Price: 0.30, Fulfillment: 0.20, Response: 0.10},
		TopK:           5,
		MinReliability: 60,
		SeedSamples:    10,
	}
}

func offer(vendorID string, price, stock float64) domain.VendorOffer {
	return domain.VendorOffer{
		Vendor:  domain.Vendor{ID: vendorID, Active: true, WorkingHoursBeg: -1, WorkingHoursEnd: -1},
		Product: domain.VendorProduct{VendorID: vendorID, ProductID: "p1", Price: price, Stock: stock, Available: true},
	}
}

func metricsRow(vendorID string, rel, delivery, avgResp float64, samples int64) domain.VendorMetrics {
	return domain.VendorMetrics{
		VendorID:            vendorID,
		ReliabilityScore:    rel,
		DeliverySuccessRate: delivery,
		AvgResponseSeconds:  avgResp,
		RespondedN:          samples,
		SamplesN:            samples,
	}
}

func TestSelect_EligibilityFilter(t *testing.T) {
	t.Parallel()
	inactive := offer("v-inactive", 10, 100)
	inactive.Vendor.Active = false
	unavailable := offer("v-unavail", 10, 100)
	unavailable.Product.Available = false
	lowStock := offer("v-lowstock", 10, 3)
	closed := offer("v-closed", 10, 100)
	closed.Vendor.WorkingHoursBeg = 9 * 60
	closed.Vendor.WorkingHoursEnd = 10 * 60
	unreliable := offer("v-unreliable", 10, 100)
	ok := offer("v-ok", 10, 100)

	offers := &fakeOffers{offers: map[string][]domain.VendorOffer{
		"p1": {inactive, unavailable, lowStock, closed, unreliable, ok},
	}}
	metrics := &fakeMetrics{rows: map[string]domain.VendorMetrics{
		"v-unreliable": metricsRow("v-unreliable", 30, 0.5, 600, 50),
		"v-ok":         metricsRow("v-ok", 80, 0.9, 600, 50),
	}}

	s := selector.New(offers, metrics, defaultCfg()).
		WithClock(func() time.Time { return time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC) })
	sel, err := s.Select(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, sel.Ranked, 1)
	assert.Equal(t, "v-ok", sel.Ranked[0].VendorID)
}

func TestSelect_NewVendorGracePeriod(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: map[string][]domain.VendorOffer{"p1": {offer("v-new", 10, 100)}}}
	// Low reliability but few samples: passes automatically.
	metrics := &fakeMetrics{rows: map[string]domain.VendorMetrics{
		"v-new": metricsRow("v-new", 40, 0.5, 600, 3),
	}}
	s := selector.New(offers, metrics, defaultCfg())
	sel, err := s.Select(context.Background(), "p1", 1)
	require.NoError(t, err)
	require.Len(t, sel.Ranked, 1)
}

func TestSelect_MissingMetricsUsesNeutralSeed(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: map[string][]domain.VendorOffer{"p1": {offer("v1", 10, 100)}}}
	s := selector.New(offers, &fakeMetrics{rows: map[string]domain.VendorMetrics{}}, defaultCfg())
	sel, err := s.Select(context.Background(), "p1", 1)
	require.NoError(t, err)
	require.Len(t, sel.Ranked, 1)
	sv := sel.Ranked[0]
	assert.Equal(t, 0.75, sv.Reliability)
	assert.Equal(t, 0.75, sv.Fulfillment)
	assert.Equal(t, 0.5, sv.Response)
	assert.Equal(t, 1.0, sv.PriceScore, "single eligible vendor")
}

func TestSelect_CompositeScoreAndOrdering(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: map[string][]domain.VendorOffer{
		"p1": {offer("v-cheap", 8, 100), offer("v-good", 12, 100)},
	}}
	metrics := &fakeMetrics{rows: map[string]domain.VendorMetrics{
		"v-cheap": metricsRow("v-cheap", 70, 0.80, 3600, 50),
		"v-good":  metricsRow("v-good", 95, 0.99, 300, 50),
	}}
	s := selector.New(offers, metrics, defaultCfg())
	sel, err := s.Select(context.Background(), "p1", 1)
	require.NoError(t, err)
	require.Len(t, sel.Ranked, 2)

	// v-good: 0.4*0.95 + 0.3*0 + 0.2*0.99 + 0.1*exp(-300/1800)
	wantGood := 0.4*0.95 + 0.3*0 + 0.2*0.99 + 0.1*math.Exp(-300.0/1800.0)
	// v-cheap: 0.4*0.70 + 0.3*1 + 0.2*0.80 + 0.1*exp(-3600/1800)
	wantCheap := 0.4*0.70 + 0.3*1 + 0.2*0.80 + 0.1*math.Exp(-3600.0/1800.0)

	assert.Equal(t, "v-good", sel.Ranked[0].VendorID)
	assert.InDelta(t, wantGood, sel.Ranked[0].Score, 1e-9)
	assert.Equal(t, "v-cheap", sel.Ranked[1].VendorID)
	assert.InDelta(t, wantCheap, sel.Ranked[1].Score, 1e-9)
	assert.Equal(t, 1, sel.Ranked[0].Rank)
	assert.Equal(t, 2, sel.Ranked[1].Rank)
}

func TestSelect_TieBreaksStable(t *testing.T) {
	t.Parallel()
	// Identical metrics and price: tie falls through to vendor id.
	offers := &fakeOffers{offers: map[string][]domain.VendorOffer{
		"p1": {offer("v-b", 10, 100), offer("v-a", 10, 100)},
	}}
	metrics := &fakeMetrics{rows: map[string]domain.VendorMetrics{
		"v-a": metricsRow("v-a", 80, 0.9, 600, 50),
		"v-b": metricsRow("v-b", 80, 0.9, 600, 50),
	}}
	s := selector.New(offers, metrics, defaultCfg())

	for i := 0; i < 5; i++ {
		sel, err := s.Select(context.Background(), "p1", 1)
		require.NoError(t, err)
		require.Len(t, sel.Ranked, 2)
		assert.Equal(t, "v-a", sel.Ranked[0].VendorID, "deterministic across calls")
		assert.Equal(t, "v-b", sel.Ranked[1].VendorID)
	}
}

func TestSelect_TopKTruncates(t *testing.T) {
	t.Parallel()
	var vendors []domain.VendorOffer
	rows := map[string]domain.VendorMetrics{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("v-%d", i)
		vendors = append(vendors, offer(id, float64(10+i), 100))
		rows[id] = metricsRow(id, 80, 0.9, 600, 50)
	}
	cfg := defaultCfg()
	cfg.TopK = 3
	s := selector.New(&fakeOffers{offers: map[string][]domain.VendorOffer{"p1": vendors}}, &fakeMetrics{rows: rows}, cfg)
	sel, err := s.Select(context.Background(), "p1", 1)
	require.NoError(t, err)
	assert.Len(t, sel.Considered, 8)
	assert.Len(t, sel.Ranked, 3)
}

func TestSelect_NoEligibleVendors(t *testing.T) {
	t.Parallel()
	s := selector.New(&fakeOffers{offers: map[string][]domain.VendorOffer{}}, &fakeMetrics{}, defaultCfg())
	sel, err := s.Select(context.Background(), "p-missing", 1)
	require.NoError(t, err)
	assert.Empty(t, sel.Ranked)
	assert.Empty(t, sel.Considered)
}

func TestSplit_GroupsByTopVendorDeterministically(t *testing.T) {
	t.Parallel()
	items := []selector.OrderItem{
		{ProductID: "p3", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
		{ProductID: "p4", Quantity: 4},
	}
	sels := map[string]selector.Selection{
		"p1": {Ranked: []domain.ScoredVendor{{VendorID: "v-b"}}},
		"p2": {Ranked: []domain.ScoredVendor{{VendorID: "v-a"}}},
		"p3": {Ranked: []domain.ScoredVendor{{VendorID: "v-b"}}},
		// p4 has no vendors
	}
	groups, unassigned := selector.Split(items, sels)
	require.Len(t, groups, 2)
	assert.Equal(t, "v-a", groups[0].VendorID)
	assert.Equal(t, []selector.OrderItem{{ProductID: "p2", Quantity: 3}}, groups[0].Items)
	assert.Equal(t, "v-b", groups[1].VendorID)
	require.Len(t, groups[1].Items, 2)
	assert.Equal(t, "p1", groups[1].Items[0].ProductID)
	assert.Equal(t, "p3", groups[1].Items[1].ProductID)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "p4", unassigned[0].ProductID)
}
