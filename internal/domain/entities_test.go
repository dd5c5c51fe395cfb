package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

func TestArtifactStatus_After(t *testing.T) {
	t.Parallel()
	assert.True(t, domain.ArtifactOCRDone.After(domain.ArtifactReceived))
	assert.True(t, domain.ArtifactCompleted.After(domain.ArtifactBroadcast))
	assert.False(t, domain.ArtifactReceived.After(domain.ArtifactOCRDone))
	assert.False(t, domain.ArtifactReceived.After(domain.ArtifactReceived))
	// side states compare as later than any stage
	assert.True(t, domain.ArtifactPendingReview.After(domain.ArtifactNormalized))
	assert.True(t, domain.ArtifactFailed.After(domain.ArtifactReceived))
}

func TestArtifactStatus_Terminal(t *testing.T) {
	t.Parallel()
	for _, s := range []domain.ArtifactStatus{domain.ArtifactCompleted, domain.ArtifactPendingReview, domain.ArtifactFailed} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []domain.ArtifactStatus{domain.ArtifactReceived, domain.ArtifactOCRDone, domain.ArtifactBroadcast} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestVendor_WithinWorkingHours(t *testing.T) {
	t.Parallel()
	at := func(h, m int) time.Time { return time.Date(2026, 3, 9, h, m, 0, 0, time.UTC) }

	open := domain.Vendor{WorkingHoursBeg: 9 * 60, WorkingHoursEnd: 18 * 60}
	assert.True(t, open.WithinWorkingHours(at(12, 0)))
	assert.True(t, open.WithinWorkingHours(at(9, 0)))
	assert.False(t, open.WithinWorkingHours(at(18, 0)))
	assert.False(t, open.WithinWorkingHours(at(3, 30)))

	overnight := domain.Vendor{WorkingHoursBeg: 22 * 60, WorkingHoursEnd: 6 * 60}
	assert.True(t, overnight.WithinWorkingHours(at(23, 0)))
	assert.True(t, overnight.WithinWorkingHours(at(5, 59)))
	assert.False(t, overnight.WithinWorkingHours(at(12, 0)))

	always := domain.Vendor{WorkingHoursBeg: -1, WorkingHoursEnd: -1}
	assert.True(t, always.WithinWorkingHours(at(4, 0)))
}

func TestVendorEvent_Validate(t *testing.T) {
	t.Parallel()
	base := domain.VendorEvent{EventID: "e1", VendorID: "v1", OrderID: "o1"}

	ev := base
	ev.Type = domain.EventAssigned
	require.NoError(t, ev.Validate())

	ev.Type = domain.EventResponded
	require.ErrorIs(t, ev.Validate(), domain.ErrInvalidArgument)
	ev.Response = domain.ResponseAccept
	require.NoError(t, ev.Validate())

	ev = base
	ev.Type = "unknown"
	require.ErrorIs(t, ev.Validate(), domain.ErrInvalidArgument)

	ev = domain.VendorEvent{Type: domain.EventAssigned}
	require.ErrorIs(t, ev.Validate(), domain.ErrInvalidArgument)
}

func TestStageResult_Error(t *testing.T) {
	t.Parallel()
	assert.Empty(t, domain.StageOK(domain.ArtifactOCRDone).Error())
	assert.Equal(t, "all items unmatched", domain.SoftFail("all items unmatched").Error())

	hard := domain.HardFail(domain.FailBlobNotFound, errors.New("gone"))
	assert.Contains(t, hard.Error(), "BLOB_NOT_FOUND")
	assert.Contains(t, hard.Error(), "gone")

	tr := domain.TransientFail(domain.FailOCRUnavailable, nil)
	assert.Equal(t, "OCR_PROVIDER_UNAVAILABLE", tr.Error())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	assert.True(t, domain.IsTransient(domain.ErrUnavailable))
	assert.False(t, domain.IsTransient(domain.ErrInvalidArgument))
	assert.False(t, domain.IsTransient(nil))
}
