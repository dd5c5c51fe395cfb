package postgres

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
)

// QueueStore is the durable backing of the job substrate. Claims use
// FOR UPDATE SKIP LOCKED so that any number of worker processes can compete
// for the same queue without serializing on each other.
type QueueStore struct{ Pool PgxPool }

// NewQueueStore constructs a QueueStore with the given pool.
func NewQueueStore(p PgxPool) *QueueStore { return &QueueStore{Pool: p} }

const jobColumns = `id, queue, payload, COALESCE(idem_key,''), state, attempt, max_attempts, priority,
	next_run_at, COALESCE(locked_by,''), COALESCE(lock_expires_at,'epoch'::timestamptz), last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (queue.Job, error) {
	var j queue.Job
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &j.IdempotencyKey, &j.State, &j.Attempt, &j.MaxAttempts,
		&j.Priority, &j.NextRunAt, &j.LockedBy, &j.LockExpiresAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// Insert stores a new job. A live idempotency-key collision maps to
// ErrDuplicate so the facade can return the winner's id.
func (s *QueueStore) Insert(ctx context.Context, j queue.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("queue", j.Queue))

	q := `INSERT INTO jobs (id, queue, payload, idem_key, state, attempt, max_attempts, priority, next_run_at, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,'',$10,$10)`
	_, err := s.Pool.Exec(ctx, q, j.ID, j.Queue, j.Payload, j.IdempotencyKey, j.State, j.Attempt, j.MaxAttempts, j.Priority, j.NextRunAt, j.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=jobs.insert: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("op=jobs.insert: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (s *QueueStore) Get(ctx context.Context, id string) (queue.Job, error) {
	j, err := scanJob(s.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		if notFound(err) {
			return queue.Job{}, fmt.Errorf("op=jobs.get: %w", domain.ErrNotFound)
		}
		return queue.Job{}, fmt.Errorf("op=jobs.get: %w", err)
	}
	return j, nil
}

// FindActiveByIdemKey returns the non-terminal job holding the key.
func (s *QueueStore) FindActiveByIdemKey(ctx context.Context, queueName, key string) (queue.Job, bool, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE queue=$1 AND idem_key=$2 AND state IN ('WAITING','RUNNING')`
	j, err := scanJob(s.Pool.QueryRow(ctx, q, queueName, key))
	if err != nil {
		if notFound(err) {
			return queue.Job{}, false, nil
		}
		return queue.Job{}, false, fmt.Errorf("op=jobs.find_idem: %w", err)
	}
	return j, true, nil
}

// ClaimNext flips the best due WAITING job to RUNNING, skipping rows other
// workers hold locked.
func (s *QueueStore) ClaimNext(ctx context.Context, queueName, workerID string, now, lockUntil time.Time) (queue.Job, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNext")
	defer span.End()
	span.SetAttributes(attribute.String("queue", queueName))

	q := `UPDATE jobs SET state='RUNNING', locked_by=$3, lock_expires_at=$4, updated_at=now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue=$1 AND state='WAITING' AND next_run_at <= $2
			ORDER BY next_run_at, priority DESC, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	j, err := scanJob(s.Pool.QueryRow(ctx, q, queueName, now, workerID, lockUntil))
	if err != nil {
		if notFound(err) {
			return queue.Job{}, false, nil
		}
		return queue.Job{}, false, fmt.Errorf("op=jobs.claim: %w", err)
	}
	return j, true, nil
}

// Ack marks a job COMPLETED.
func (s *QueueStore) Ack(ctx context.Context, id string) error {
	q := `UPDATE jobs SET state='COMPLETED', locked_by=NULL, lock_expires_at=NULL, updated_at=now() WHERE id=$1`
	if _, err := s.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("op=jobs.ack: %w", err)
	}
	return nil
}

// Retry returns the job to WAITING with a bumped attempt counter.
func (s *QueueStore) Retry(ctx context.Context, id string, attempt int, nextRun time.Time, lastError string) error {
	q := `UPDATE jobs SET state='WAITING', attempt=$2, next_run_at=$3, last_error=$4,
		locked_by=NULL, lock_expires_at=NULL, updated_at=now() WHERE id=$1`
	if _, err := s.Pool.Exec(ctx, q, id, attempt, nextRun, lastError); err != nil {
		return fmt.Errorf("op=jobs.retry: %w", err)
	}
	return nil
}

// Delay returns the job to WAITING at nextRun without touching attempt. The
// rate-limited path runs through here so a starved provider budget cannot
// walk a job into the DLQ.
func (s *QueueStore) Delay(ctx context.Context, id string, nextRun time.Time, lastError string) error {
	q := `UPDATE jobs SET state='WAITING', next_run_at=$2, last_error=$3,
		locked_by=NULL, lock_expires_at=NULL, updated_at=now() WHERE id=$1`
	if _, err := s.Pool.Exec(ctx, q, id, nextRun, lastError); err != nil {
		return fmt.Errorf("op=jobs.delay: %w", err)
	}
	return nil
}

// DeadLetter parks a job in the DLQ. next_run_at collapses to now so no DLQ
// row ever carries a future schedule.
func (s *QueueStore) DeadLetter(ctx context.Context, id string, lastError string) error {
	q := `UPDATE jobs SET state='DLQ', last_error=$2, next_run_at=now(),
		locked_by=NULL, lock_expires_at=NULL, updated_at=now() WHERE id=$1`
	if _, err := s.Pool.Exec(ctx, q, id, lastError); err != nil {
		return fmt.Errorf("op=jobs.dead_letter: %w", err)
	}
	return nil
}

// ExpiredRunning lists RUNNING jobs whose lock expired before now.
func (s *QueueStore) ExpiredRunning(ctx context.Context, now time.Time, limit int) ([]queue.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state='RUNNING' AND lock_expires_at < $1
		ORDER BY lock_expires_at LIMIT $2`
	rows, err := s.Pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("op=jobs.expired: %w", err)
	}
	defer rows.Close()
	var out []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=jobs.expired: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=jobs.expired: %w", err)
	}
	return out, nil
}

// RetryFromDLQ restores a DLQ job to WAITING with attempt reset to 1.
func (s *QueueStore) RetryFromDLQ(ctx context.Context, id string) error {
	q := `UPDATE jobs SET state='WAITING', attempt=1, next_run_at=now(), last_error='', updated_at=now()
		WHERE id=$1 AND state='DLQ'`
	tag, err := s.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=jobs.retry_dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=jobs.retry_dlq: %w: not a DLQ job", domain.ErrNotFound)
	}
	return nil
}

// MoveQueue reassigns all WAITING jobs from one queue to another.
func (s *QueueStore) MoveQueue(ctx context.Context, from, to string, now time.Time) (int64, error) {
	q := `UPDATE jobs SET queue=$2, next_run_at=$3, updated_at=now() WHERE queue=$1 AND state='WAITING'`
	tag, err := s.Pool.Exec(ctx, q, from, to, now)
	if err != nil {
		return 0, fmt.Errorf("op=jobs.move_queue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminalOlderThan removes COMPLETED jobs older than the cutoff. DLQ
// rows are kept; operators clear those explicitly.
func (s *QueueStore) PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM jobs WHERE state='COMPLETED' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=jobs.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
