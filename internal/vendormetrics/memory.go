package vendormetrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// MemoryRepo is an in-process MetricsRepo used by tests and stub wiring.
// Per-vendor locking mirrors the row-lock discipline of the Postgres repo.
type MemoryRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.VendorMetrics
	seen    map[string]bool // event ids already applied
	history map[string][]float64
}

// NewMemoryRepo returns an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		rows:    map[string]domain.VendorMetrics{},
		seen:    map[string]bool{},
		history: map[string][]float64{},
	}
}

// Get returns the stored row or ErrNotFound.
func (r *MemoryRepo) Get(_ domain.Context, vendorID string) (domain.VendorMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[vendorID]
	if !ok {
		return domain.VendorMetrics{}, fmt.Errorf("op=memmetrics.get: %w", domain.ErrNotFound)
	}
	return m, nil
}

// Apply runs fn against the locked row unless eventID was already applied.
func (r *MemoryRepo) Apply(_ domain.Context, vendorID, eventID string, fn func(*domain.VendorMetrics) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[eventID] {
		return false, nil
	}
	m, ok := r.rows[vendorID]
	if !ok {
		m = domain.VendorMetrics{VendorID: vendorID, PriceVsMarketPercent: -1}
	}
	if err := fn(&m); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if !now.After(m.LastUpdated) {
		now = m.LastUpdated.Add(time.Millisecond)
	}
	m.LastUpdated = now
	r.rows[vendorID] = m
	r.seen[eventID] = true
	r.history[vendorID] = append(r.history[vendorID], m.ReliabilityScore)
	return true, nil
}

// TruncateHistoryOlderThan is a no-op for the in-memory repo.
func (r *MemoryRepo) TruncateHistoryOlderThan(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// History returns the recorded composite trail; tests only.
func (r *MemoryRepo) History(vendorID string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.history[vendorID]...)
}
