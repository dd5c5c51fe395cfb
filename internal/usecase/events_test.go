package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/usecase"
	"github.com/fairyhunter13/wholesale-order-core/internal/vendormetrics"
)

type statusCall struct {
	ID     string
	Status domain.BroadcastStatus
	At     time.Time
}

// recordingBroadcasts captures UpdateStatus calls; ids in missing map to
// ErrNotFound the way the Postgres repo reports an unknown broadcast row.
type recordingBroadcasts struct {
	calls   []statusCall
	missing map[string]bool
}

func (b *recordingBroadcasts) ExistingVendors(_ context.Context, _, _ string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (b *recordingBroadcasts) InsertWithOutbox(_ context.Context, _ []domain.RFQBroadcast, _ []domain.OutboxRow) error {
	return nil
}

func (b *recordingBroadcasts) ListByArtifact(_ context.Context, _ string) ([]domain.RFQBroadcast, error) {
	return nil, nil
}

func (b *recordingBroadcasts) UpdateStatus(_ context.Context, id string, status domain.BroadcastStatus, at time.Time) error {
	if b.missing[id] {
		return domain.ErrNotFound
	}
	b.calls = append(b.calls, statusCall{ID: id, Status: status, At: at})
	return nil
}

func newEventService(broadcasts domain.BroadcastRepo) *usecase.EventService {
	weights := domain.MetricsWeights{Acceptance: 0.20, Delivery: 0.25, Response: 0.25, Cancellation: 0.10, Price: 0.20}
	store := vendormetrics.NewStore(vendormetrics.NewMemoryRepo(), weights, 10)
	return usecase.NewEventService(store, broadcasts)
}

func TestReport_ResponseMarksBroadcastRow(t *testing.T) {
	t.Parallel()
	broadcasts := &recordingBroadcasts{}
	svc := newEventService(broadcasts)
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	applied, err := svc.Report(context.Background(), domain.VendorEvent{
		EventID: "e-1", Type: domain.EventResponded, VendorID: "v-1", OrderID: "b-1",
		Response: domain.ResponseAccept, ResponseSeconds: 120, At: at,
	})
	require.NoError(t, err)
	require.True(t, applied)

	require.Len(t, broadcasts.calls, 1)
	assert.Equal(t, "b-1", broadcasts.calls[0].ID)
	assert.Equal(t, domain.BroadcastAccepted, broadcasts.calls[0].Status)
	assert.Equal(t, at, broadcasts.calls[0].At)

	applied, err = svc.Report(context.Background(), domain.VendorEvent{
		EventID: "e-2", Type: domain.EventResponded, VendorID: "v-1", OrderID: "b-2",
		Response: domain.ResponseReject, At: at,
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, broadcasts.calls, 2)
	assert.Equal(t, domain.BroadcastRejected, broadcasts.calls[1].Status)
}

func TestReport_DuplicateEventLeavesBroadcastAlone(t *testing.T) {
	t.Parallel()
	broadcasts := &recordingBroadcasts{}
	svc := newEventService(broadcasts)
	ev := domain.VendorEvent{
		EventID: "e-1", Type: domain.EventResponded, VendorID: "v-1", OrderID: "b-1",
		Response: domain.ResponseAccept, At: time.Now().UTC(),
	}

	applied, err := svc.Report(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = svc.Report(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, broadcasts.calls, 1, "redelivery must not rewrite the row")
}

func TestReport_OrderWithoutBroadcastRowIsFine(t *testing.T) {
	t.Parallel()
	broadcasts := &recordingBroadcasts{missing: map[string]bool{"o-99": true}}
	svc := newEventService(broadcasts)

	applied, err := svc.Report(context.Background(), domain.VendorEvent{
		EventID: "e-1", Type: domain.EventResponded, VendorID: "v-1", OrderID: "o-99",
		Response: domain.ResponseAccept, At: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, broadcasts.calls)
}

func TestReport_NonResponseEventsSkipBroadcasts(t *testing.T) {
	t.Parallel()
	broadcasts := &recordingBroadcasts{}
	svc := newEventService(broadcasts)

	applied, err := svc.Report(context.Background(), domain.VendorEvent{
		EventID: "e-1", Type: domain.EventDelivered, VendorID: "v-1", OrderID: "b-1",
		Success: true, At: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, broadcasts.calls)
}
