package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
)

func TestJobInsert_DuplicateIdemKeyMapsErrDuplicate(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execErr: uniqueViolation()}
	store := postgres.NewQueueStore(pool)

	err := store.Insert(context.Background(), queue.Job{
		ID: "j-1", Queue: "ingestion", Payload: []byte(`{}`), IdempotencyKey: "a-1:OCR",
		State: queue.StateWaiting, MaxAttempts: 3,
		NextRunAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestFindActiveByIdemKey_AbsentIsNotAnError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		rows: []rowStub{{scan: func(_ ...any) error { return pgx.ErrNoRows }}},
	}
	store := postgres.NewQueueStore(pool)

	_, found, err := store.FindActiveByIdemKey(context.Background(), "ingestion", "a-1:OCR")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		rows: []rowStub{{scan: func(_ ...any) error { return pgx.ErrNoRows }}},
	}
	store := postgres.NewQueueStore(pool)

	_, ok, err := store.ClaimNext(context.Background(), "ingestion", "w-1", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryFromDLQ_RequiresDLQState(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 0")}}
	store := postgres.NewQueueStore(pool)

	err := store.RetryFromDLQ(context.Background(), "j-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMoveQueue_ReturnsMovedCount(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 2")}}
	store := postgres.NewQueueStore(pool)

	n, err := store.MoveQueue(context.Background(), "ingestion-deferred", "ingestion", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
