package postgres

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// GateRepo holds the single-row safe-mode flag. Reads are cached with a
// short TTL because every ingest request consults the gate; a flip becomes
// visible to all processes within one TTL.
type GateRepo struct {
	Pool PgxPool
	TTL  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	cached  bool
	fetched time.Time
	have    bool
}

// NewGateRepo constructs a GateRepo with the given read-cache TTL.
func NewGateRepo(p PgxPool, ttl time.Duration) *GateRepo {
	return &GateRepo{Pool: p, TTL: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the cache clock; tests only.
func (r *GateRepo) WithClock(now func() time.Time) *GateRepo {
	r.now = now
	return r
}

// SafeMode reports whether the gate is on, serving from cache within the TTL.
func (r *GateRepo) SafeMode(ctx domain.Context) (bool, error) {
	r.mu.Lock()
	if r.have && r.now().Sub(r.fetched) < r.TTL {
		on := r.cached
		r.mu.Unlock()
		return on, nil
	}
	r.mu.Unlock()

	var on bool
	err := r.Pool.QueryRow(ctx, `SELECT safe_mode FROM app_gate WHERE id=1`).Scan(&on)
	if err != nil {
		if notFound(err) {
			on = false
		} else {
			return false, fmt.Errorf("op=gate.safe_mode: %w", err)
		}
	}
	r.mu.Lock()
	r.cached, r.fetched, r.have = on, r.now(), true
	r.mu.Unlock()
	return on, nil
}

// SetSafeMode flips the gate and invalidates the local cache. Other
// processes converge within their TTL.
func (r *GateRepo) SetSafeMode(ctx domain.Context, on bool) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO app_gate (id, safe_mode, updated_at) VALUES (1,$1,now())
		 ON CONFLICT (id) DO UPDATE SET safe_mode=EXCLUDED.safe_mode, updated_at=now()`, on)
	if err != nil {
		return fmt.Errorf("op=gate.set_safe_mode: %w", err)
	}
	r.mu.Lock()
	r.cached, r.fetched, r.have = on, r.now(), true
	r.mu.Unlock()
	return nil
}
